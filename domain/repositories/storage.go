package repositories

import (
	"context"

	"github.com/satriahrh/allergy-checker/domain/entities"
)

// PatientRepository defines data access methods for patient records.
// Get returns domain.ErrNotFound when the record is absent.
type PatientRepository interface {
	Get(ctx context.Context, id string) (*entities.Patient, error)
	Put(ctx context.Context, patient *entities.Patient) error
	Delete(ctx context.Context, id string) error
}

// UserDirectory resolves login usernames to their registered contact data
type UserDirectory interface {
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
}

// ImageStore keeps captured pictures and returns a URL for them
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// ChallengeSessionStore keeps server-held challenge sessions.
// Get and Take return domain.ErrNotFound for unknown or deleted sessions.
// Take removes the session in the same step that reads it, so a session can
// be taken at most once.
type ChallengeSessionStore interface {
	Create(ctx context.Context, session *entities.ChallengeSession) error
	Get(ctx context.Context, id string) (*entities.ChallengeSession, error)
	Take(ctx context.Context, id string) (*entities.ChallengeSession, error)
	Update(ctx context.Context, session *entities.ChallengeSession) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int, error)
}
