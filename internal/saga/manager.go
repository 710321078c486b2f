package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRetainedInstances = 256

// Manager runs saga definitions and keeps the most recent instances for
// inspection
type Manager struct {
	logger      *zap.Logger
	instances   map[SagaID]*SagaInstance
	order       []SagaID
	definitions map[string]SagaDefinition
	observer    func(SagaEvent)
	mu          sync.RWMutex
}

// NewManager creates a new saga manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:      logger,
		instances:   make(map[SagaID]*SagaInstance),
		definitions: make(map[string]SagaDefinition),
	}
}

// Observe sets a function receiving every saga event
func (m *Manager) Observe(fn func(SagaEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// RegisterDefinition registers a saga definition
func (m *Manager) RegisterDefinition(def SagaDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID()] = def
	m.logger.Info("Saga definition registered", zap.String("id", def.ID()))
}

// Execute runs a saga to completion in the caller's goroutine. When a step
// fails the completed steps are compensated and the step's error returned.
func (m *Manager) Execute(ctx context.Context, definitionID string, data SagaData) (*SagaInstance, error) {
	m.mu.RLock()
	def, exists := m.definitions[definitionID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("saga definition not found: %s", definitionID)
	}

	steps := def.Steps()
	instance := &SagaInstance{
		ID:         SagaID(definitionID + "_" + uuid.NewString()),
		Definition: definitionID,
		State:      SagaStateStarted,
		Data:       data,
		Steps:      make([]StepExecution, len(steps)),
		StartedAt:  time.Now(),
	}
	for i, step := range steps {
		instance.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}
	m.store(instance)
	m.emit(SagaEvent{SagaID: instance.ID, Type: EventSagaStarted, Timestamp: instance.StartedAt})

	ctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	m.setState(instance, SagaStateRunning)

	lastCompleted := -1
	var stepErr error
	for i, step := range steps {
		if err := m.executeStep(ctx, instance, i, step); err != nil {
			m.logger.Error("Step failed",
				zap.String("sagaID", string(instance.ID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			stepErr = err
			break
		}
		lastCompleted = i
	}

	if stepErr != nil {
		m.logger.Info("Starting compensation", zap.String("sagaID", string(instance.ID)))
		// compensation must run even when the saga timed out
		m.compensate(context.WithoutCancel(ctx), instance, steps, lastCompleted, stepErr)
		return m.snapshot(instance), stepErr
	}

	m.finish(instance, SagaStateCompleted, EventSagaCompleted, "")
	m.logger.Info("Saga completed", zap.String("sagaID", string(instance.ID)))
	return m.snapshot(instance), nil
}

// GetSaga returns a copy of a saga instance by ID
func (m *Manager) GetSaga(sagaID SagaID) (*SagaInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, exists := m.instances[sagaID]
	if !exists {
		return nil, false
	}
	return m.snapshotLocked(instance), true
}

func (m *Manager) executeStep(ctx context.Context, instance *SagaInstance, index int, step Step) error {
	started := time.Now()
	m.updateStep(instance, index, func(s *StepExecution) {
		s.State = StepStateRunning
		s.StartedAt = &started
	})
	m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepStarted, Timestamp: started})

	result := step.Execute(ctx, instance.Data)
	if result.Success && ctx.Err() != nil {
		result = Fail(ctx.Err())
	}
	finished := time.Now()

	if !result.Success {
		if result.Error == nil {
			result.Error = fmt.Errorf("step %s failed", step.ID())
		}
		m.updateStep(instance, index, func(s *StepExecution) {
			s.State = StepStateFailed
			s.Error = result.Error.Error()
			s.CompletedAt = &finished
		})
		m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepFailed, Timestamp: finished, Data: result.Error.Error()})
		return result.Error
	}

	m.updateStep(instance, index, func(s *StepExecution) {
		s.State = StepStateCompleted
		s.Result = result.Data
		s.CompletedAt = &finished
	})
	m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepCompleted, Timestamp: finished, Data: result.Data})

	m.logger.Debug("Step completed",
		zap.String("sagaID", string(instance.ID)),
		zap.String("stepID", string(step.ID())))
	return nil
}

// compensate runs compensation for completed steps in reverse order
func (m *Manager) compensate(ctx context.Context, instance *SagaInstance, steps []Step, lastCompleted int, cause error) {
	for i := lastCompleted; i >= 0; i-- {
		step := steps[i]

		m.logger.Info("Compensating step",
			zap.String("sagaID", string(instance.ID)),
			zap.String("stepID", string(step.ID())))

		if err := step.Compensate(ctx, instance.Data); err != nil {
			m.logger.Error("Compensation failed",
				zap.String("sagaID", string(instance.ID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}

		m.updateStep(instance, i, func(s *StepExecution) { s.State = StepStateCompensated })
		m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepCompensated, Timestamp: time.Now()})
	}

	m.finish(instance, SagaStateCompensated, EventSagaCompensated, cause.Error())
	m.logger.Info("Saga compensated", zap.String("sagaID", string(instance.ID)))
}

func (m *Manager) finish(instance *SagaInstance, state SagaState, event string, errMsg string) {
	now := time.Now()
	m.mu.Lock()
	instance.State = state
	instance.CompletedAt = &now
	instance.Error = errMsg
	m.mu.Unlock()
	m.emit(SagaEvent{SagaID: instance.ID, Type: event, Timestamp: now})
}

func (m *Manager) store(instance *SagaInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.instances[instance.ID] = instance
	m.order = append(m.order, instance.ID)
	if len(m.order) > maxRetainedInstances {
		delete(m.instances, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) setState(instance *SagaInstance, state SagaState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance.State = state
}

func (m *Manager) updateStep(instance *SagaInstance, index int, fn func(*StepExecution)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < len(instance.Steps) {
		fn(&instance.Steps[index])
	}
}

func (m *Manager) snapshot(instance *SagaInstance) *SagaInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(instance)
}

func (m *Manager) snapshotLocked(instance *SagaInstance) *SagaInstance {
	out := *instance
	out.Steps = append([]StepExecution(nil), instance.Steps...)
	return &out
}

func (m *Manager) emit(event SagaEvent) {
	m.mu.RLock()
	observer := m.observer
	m.mu.RUnlock()
	if observer != nil {
		observer(event)
	}
}
