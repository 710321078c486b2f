package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
)

var (
	// ErrSilence is returned when the conditioned utterance has no samples left
	ErrSilence = errors.New("no speech detected")

	ErrBusy         = errors.New("recorder is busy")
	ErrDestroyed    = errors.New("recorder destroyed")
	ErrNotRecording = errors.New("recorder is not recording")
)

// Microphone is the capture side of a device. StopCapture must return only
// after every chunk of the recording has been handed to Recorder.Append.
type Microphone interface {
	StartCapture(ctx context.Context) (Format, error)
	StopCapture(ctx context.Context) error
	Release() error
}

// Recorder owns the single live audio session of a device. Chunks arrive
// through Append while recording; Wait collects and conditions them into an
// Utterance once the recording has stopped.
type Recorder struct {
	cfg    Config
	mic    Microphone
	logger *zap.Logger

	mu        sync.Mutex
	state     entities.AudioState
	format    Format
	chunks    [][]byte
	stopped   chan struct{}
	startErr  error
	watchdog  *time.Timer
	destroyed bool
	released  bool
}

// NewRecorder creates a recorder bound to one microphone
func NewRecorder(cfg Config, mic Microphone, logger *zap.Logger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	if mic == nil {
		return nil, errors.New("microphone is required")
	}
	return &Recorder{
		cfg:    cfg,
		mic:    mic,
		logger: logger,
		state:  entities.AudioStateIdle,
	}, nil
}

// State returns the current lifecycle state
func (r *Recorder) State() entities.AudioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins a recording. A second Start while one is in progress fails
// with ErrBusy and does not disturb the running one.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if r.state != entities.AudioStateIdle {
		r.mu.Unlock()
		return ErrBusy
	}
	r.state = entities.AudioStateRecording
	r.chunks = nil
	r.startErr = nil
	r.stopped = make(chan struct{})
	r.mu.Unlock()

	format, err := r.mic.StartCapture(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.state == entities.AudioStateRecording {
			r.state = entities.AudioStateIdle
			close(r.stopped)
			if r.destroyed {
				r.releaseLocked()
			}
			return err
		}
		// A Stop is in flight and finishStop owns the close of stopped
		r.startErr = err
		select {
		case <-r.stopped:
			if r.state == entities.AudioStateStopping {
				r.state = entities.AudioStateIdle
				r.chunks = nil
			}
		default:
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = format
	if r.state == entities.AudioStateRecording && r.cfg.AutoStop > 0 {
		r.watchdog = time.AfterFunc(r.cfg.AutoStop, func() {
			r.logger.Debug("Auto stop elapsed", zap.Duration("autoStop", r.cfg.AutoStop))
			r.Stop()
		})
	}

	r.logger.Debug("Recording started",
		zap.String("encoding", string(format.Encoding)),
		zap.Int("sampleRate", format.SampleRate))
	return nil
}

// Append buffers one captured chunk. Chunks outside a recording are dropped.
func (r *Recorder) Append(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != entities.AudioStateRecording && r.state != entities.AudioStateStopping {
		return false
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	r.chunks = append(r.chunks, buf)
	return true
}

// Stop requests the end of the recording. It never blocks; the stop
// sequence finishes in the background and releases Wait.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.state != entities.AudioStateRecording {
		r.mu.Unlock()
		return
	}
	r.state = entities.AudioStateStopping
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
	stopped := r.stopped
	r.mu.Unlock()

	go r.finishStop(stopped)
}

func (r *Recorder) finishStop(stopped chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), stopAckTimeout)
	defer cancel()

	if err := r.mic.StopCapture(ctx); err != nil {
		r.logger.Warn("Microphone did not acknowledge stop", zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		r.state = entities.AudioStateIdle
		r.chunks = nil
	}
	if r.destroyed {
		r.state = entities.AudioStateIdle
		r.chunks = nil
		r.releaseLocked()
	}
	close(stopped)
}

// Wait blocks until the current recording stops, then decodes and conditions
// it. ErrSilence means the user said nothing audible.
func (r *Recorder) Wait(ctx context.Context) (entities.Utterance, error) {
	r.mu.Lock()
	stopped := r.stopped
	state := r.state
	destroyed := r.destroyed
	failed := r.startErr != nil
	r.mu.Unlock()

	if stopped == nil || state == entities.AudioStateDecoding ||
		(state == entities.AudioStateIdle && !destroyed && !failed) {
		return entities.Utterance{}, ErrNotRecording
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		r.Stop()
		<-stopped
		r.mu.Lock()
		if r.state == entities.AudioStateStopping {
			r.state = entities.AudioStateIdle
			r.chunks = nil
		}
		r.mu.Unlock()
		return entities.Utterance{}, ctx.Err()
	}

	r.mu.Lock()
	if r.startErr != nil {
		err := r.startErr
		r.mu.Unlock()
		return entities.Utterance{}, err
	}
	if r.destroyed && r.state == entities.AudioStateIdle {
		r.mu.Unlock()
		return entities.Utterance{}, ErrDestroyed
	}
	r.state = entities.AudioStateDecoding
	chunks := r.chunks
	format := r.format
	r.chunks = nil
	r.mu.Unlock()

	utterance, err := r.condition(chunks, format)

	r.mu.Lock()
	r.state = entities.AudioStateIdle
	if r.destroyed {
		r.releaseLocked()
	}
	r.mu.Unlock()

	if err != nil {
		return entities.Utterance{}, err
	}
	r.logger.Debug("Utterance ready",
		zap.Int("samples", utterance.Len()),
		zap.Duration("duration", utterance.Duration()))
	return utterance, nil
}

// Record is Start followed by Wait
func (r *Recorder) Record(ctx context.Context) (entities.Utterance, error) {
	if err := r.Start(ctx); err != nil {
		return entities.Utterance{}, err
	}
	return r.Wait(ctx)
}

// Destroy releases the microphone. A recording in flight is stopped first
// and the device is released when its stop sequence completes.
func (r *Recorder) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	state := r.state
	if state == entities.AudioStateIdle {
		r.releaseLocked()
	}
	r.mu.Unlock()

	if state == entities.AudioStateRecording {
		r.Stop()
	}
}

func (r *Recorder) releaseLocked() {
	if r.released {
		return
	}
	r.released = true
	if err := r.mic.Release(); err != nil {
		r.logger.Warn("Failed to release microphone", zap.Error(err))
	}
}

func (r *Recorder) condition(chunks [][]byte, format Format) (entities.Utterance, error) {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	raw := make([]byte, 0, size)
	for _, c := range chunks {
		raw = append(raw, c...)
	}

	buf, err := Decode(raw, format)
	if errors.Is(err, errEmptyInput) {
		return entities.Utterance{}, ErrSilence
	}
	if err != nil {
		return entities.Utterance{}, fmt.Errorf("failed to decode audio: %w", err)
	}

	samples := Resample(buf.Samples, buf.SampleRate, r.cfg.SampleRate)
	if r.cfg.RemoveSilence {
		samples = TrimSilence(samples, r.cfg.SilenceThreshold)
	}
	if len(samples) == 0 {
		return entities.Utterance{}, ErrSilence
	}

	return entities.NewUtterance(ToInt16(samples), r.cfg.SampleRate), nil
}
