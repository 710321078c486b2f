package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

var (
	_ repositories.PatientRepository     = (*MemoryPatientRepository)(nil)
	_ repositories.UserDirectory         = (*MemoryUserDirectory)(nil)
	_ repositories.ChallengeSessionStore = (*MemoryChallengeSessionStore)(nil)
)

// MemoryPatientRepository keeps patient records in process memory
type MemoryPatientRepository struct {
	mu       sync.RWMutex
	patients map[string]entities.Patient
}

// NewMemoryPatientRepository creates an empty patient repository
func NewMemoryPatientRepository() *MemoryPatientRepository {
	return &MemoryPatientRepository{patients: make(map[string]entities.Patient)}
}

// Get implements PatientRepository interface
func (m *MemoryPatientRepository) Get(ctx context.Context, id string) (*entities.Patient, error) {
	if id == "" {
		return nil, errors.New("patient ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	patient, exists := m.patients[id]
	if !exists {
		return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	return &patient, nil
}

// Put implements PatientRepository interface
func (m *MemoryPatientRepository) Put(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if err := patient.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now()
	}
	m.patients[patient.ID] = *patient
	return nil
}

// Delete implements PatientRepository interface
func (m *MemoryPatientRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.patients, id)
	return nil
}

// MemoryUserDirectory is a fixed set of users that may log in, keyed by
// username
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]entities.User
}

// NewMemoryUserDirectory creates a directory holding the given users
func NewMemoryUserDirectory(users ...entities.User) *MemoryUserDirectory {
	d := &MemoryUserDirectory{users: make(map[string]entities.User)}
	for _, u := range users {
		d.users[u.Username] = u
	}
	return d
}

// GetByUsername implements UserDirectory interface
func (d *MemoryUserDirectory) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, exists := d.users[username]
	if !exists {
		return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	return &user, nil
}

// Register adds or replaces a user
func (d *MemoryUserDirectory) Register(user entities.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.users[user.Username] = user
	return nil
}

// MemoryChallengeSessionStore keeps challenge sessions in process memory.
// Sessions are stored by value so callers never share the secret slot.
type MemoryChallengeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]entities.ChallengeSession
}

// NewMemoryChallengeSessionStore creates an empty session store
func NewMemoryChallengeSessionStore() *MemoryChallengeSessionStore {
	return &MemoryChallengeSessionStore{sessions: make(map[string]entities.ChallengeSession)}
}

// Create implements ChallengeSessionStore interface
func (m *MemoryChallengeSessionStore) Create(ctx context.Context, session *entities.ChallengeSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.New("challenge session already exists")
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// Get implements ChallengeSessionStore interface
func (m *MemoryChallengeSessionStore) Get(ctx context.Context, id string) (*entities.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, fmt.Errorf("challenge session %s: %w", id, domain.ErrNotFound)
	}
	out := cloneSession(&session)
	return &out, nil
}

// Take implements ChallengeSessionStore interface
func (m *MemoryChallengeSessionStore) Take(ctx context.Context, id string) (*entities.ChallengeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, fmt.Errorf("challenge session %s: %w", id, domain.ErrNotFound)
	}
	delete(m.sessions, id)
	out := cloneSession(&session)
	return &out, nil
}

// Update implements ChallengeSessionStore interface
func (m *MemoryChallengeSessionStore) Update(ctx context.Context, session *entities.ChallengeSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return fmt.Errorf("challenge session %s: %w", session.ID, domain.ErrNotFound)
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// Delete implements ChallengeSessionStore interface
func (m *MemoryChallengeSessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// DeleteExpired implements ChallengeSessionStore interface
func (m *MemoryChallengeSessionStore) DeleteExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, session := range m.sessions {
		if session.IsExpired() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func cloneSession(s *entities.ChallengeSession) entities.ChallengeSession {
	out := *s
	out.History = append([]entities.ChallengeRound(nil), s.History...)
	return out
}
