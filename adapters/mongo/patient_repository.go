package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/metrics"
)

const serviceMongo = "mongodb"

type PatientRepository struct {
	collection *mongo.Collection
}

var _ repositories.PatientRepository = (*PatientRepository)(nil)

// NewPatientRepository creates a new MongoDB patient repository
func NewPatientRepository(db *mongo.Database) *PatientRepository {
	return &PatientRepository{collection: db.Collection("patients")}
}

// Get implements repositories.PatientRepository
func (r *PatientRepository) Get(ctx context.Context, id string) (*entities.Patient, error) {
	if id == "" {
		return nil, errors.New("patient ID cannot be empty")
	}

	started := time.Now()
	var patient entities.Patient
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&patient)
	if errors.Is(err, mongo.ErrNoDocuments) {
		observe(started, nil)
		return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	if err := observe(started, err); err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

// Put implements repositories.PatientRepository
func (r *PatientRepository) Put(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if err := patient.Validate(); err != nil {
		return err
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now()
	}

	started := time.Now()
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": patient.ID}, patient, options.Replace().SetUpsert(true))
	if err := observe(started, err); err != nil {
		return fmt.Errorf("failed to save patient: %w", err)
	}
	return nil
}

// Delete implements repositories.PatientRepository
func (r *PatientRepository) Delete(ctx context.Context, id string) error {
	started := time.Now()
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err := observe(started, err); err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	return nil
}

func observe(started time.Time, err error) error {
	metrics.ObserveRemote(serviceMongo, started, err)
	return domain.NewRemoteServiceError(serviceMongo, err)
}
