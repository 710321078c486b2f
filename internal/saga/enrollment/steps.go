// Package enrollment adds a patient: the picture is stored, the record
// saved and the face indexed so later pictures find the patient.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/saga"
)

const DefinitionID = "patient_enrollment"

// Data keys for the enrollment saga
const (
	DataKeyPatient = "patient"
	DataKeyImage   = "image"
	DataKeyFaceID  = "face_id"
)

// Definition defines the enrollment saga
type Definition struct {
	images       repositories.ImageStore
	patients     repositories.PatientRepository
	faces        repositories.FaceIndexer
	collectionID string
	logger       *zap.Logger
}

func (d *Definition) ID() string {
	return DefinitionID
}

func (d *Definition) Timeout() time.Duration {
	return 30 * time.Second
}

func (d *Definition) Steps() []saga.Step {
	return []saga.Step{
		&uploadPictureStep{images: d.images, logger: d.logger},
		&savePatientStep{patients: d.patients, logger: d.logger},
		&indexFaceStep{faces: d.faces, collectionID: d.collectionID, logger: d.logger},
	}
}

func patientFrom(data saga.SagaData) (*entities.Patient, error) {
	p, ok := data[DataKeyPatient].(*entities.Patient)
	if !ok || p == nil {
		return nil, errors.New("patient missing from saga data")
	}
	return p, nil
}

func imageFrom(data saga.SagaData) ([]byte, error) {
	img, ok := data[DataKeyImage].([]byte)
	if !ok || len(img) == 0 {
		return nil, errors.New("image missing from saga data")
	}
	return img, nil
}

// uploadPictureStep stores the captured picture under <patientId>.png
type uploadPictureStep struct {
	images repositories.ImageStore
	logger *zap.Logger
}

func (s *uploadPictureStep) ID() saga.StepID {
	return "upload_picture"
}

func (s *uploadPictureStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	patient, err := patientFrom(data)
	if err != nil {
		return saga.Fail(err)
	}
	img, err := imageFrom(data)
	if err != nil {
		return saga.Fail(err)
	}

	key := patient.ID + ".png"
	url, err := s.images.Put(ctx, key, img, "image/png")
	if err != nil {
		return saga.Fail(fmt.Errorf("failed to upload picture: %w", err))
	}

	patient.ImageKey = key
	patient.ImageURL = url
	s.logger.Debug("Patient picture uploaded", zap.String("key", key))
	return saga.Ok(url)
}

func (s *uploadPictureStep) Compensate(ctx context.Context, data saga.SagaData) error {
	patient, err := patientFrom(data)
	if err != nil {
		return err
	}
	if patient.ImageKey == "" {
		return nil
	}
	return s.images.Delete(ctx, patient.ImageKey)
}

// savePatientStep writes the patient record
type savePatientStep struct {
	patients repositories.PatientRepository
	logger   *zap.Logger
}

func (s *savePatientStep) ID() saga.StepID {
	return "save_patient"
}

func (s *savePatientStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	patient, err := patientFrom(data)
	if err != nil {
		return saga.Fail(err)
	}
	if err := s.patients.Put(ctx, patient); err != nil {
		return saga.Fail(fmt.Errorf("failed to save patient: %w", err))
	}
	return saga.Ok(patient.ID)
}

func (s *savePatientStep) Compensate(ctx context.Context, data saga.SagaData) error {
	patient, err := patientFrom(data)
	if err != nil {
		return err
	}
	return s.patients.Delete(ctx, patient.ID)
}

// indexFaceStep adds the face to the patient collection under the patient id
type indexFaceStep struct {
	faces        repositories.FaceIndexer
	collectionID string
	logger       *zap.Logger
}

func (s *indexFaceStep) ID() saga.StepID {
	return "index_face"
}

func (s *indexFaceStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	patient, err := patientFrom(data)
	if err != nil {
		return saga.Fail(err)
	}
	img, err := imageFrom(data)
	if err != nil {
		return saga.Fail(err)
	}

	faceID, err := s.faces.IndexFace(ctx, s.collectionID, patient.ID, img)
	if err != nil {
		return saga.Fail(fmt.Errorf("failed to index face: %w", err))
	}
	data[DataKeyFaceID] = faceID
	s.logger.Info("Patient face indexed",
		zap.String("patientID", patient.ID),
		zap.String("faceID", faceID))
	return saga.Ok(faceID)
}

// Compensate is a no-op: nothing runs after indexing
func (s *indexFaceStep) Compensate(ctx context.Context, data saga.SagaData) error {
	return nil
}

// Enroller adds patients through the enrollment saga
type Enroller struct {
	manager *saga.Manager
	logger  *zap.Logger
}

// NewEnroller registers the enrollment saga with manager
func NewEnroller(
	manager *saga.Manager,
	images repositories.ImageStore,
	patients repositories.PatientRepository,
	faces repositories.FaceIndexer,
	collectionID string,
	logger *zap.Logger,
) *Enroller {
	manager.RegisterDefinition(&Definition{
		images:       images,
		patients:     patients,
		faces:        faces,
		collectionID: collectionID,
		logger:       logger,
	})
	return &Enroller{manager: manager, logger: logger}
}

// Enroll stores a new patient with picture. On failure nothing of the
// patient is left behind.
func (e *Enroller) Enroll(ctx context.Context, name, allergen string, image []byte) (*entities.Patient, error) {
	allergen = strings.TrimSpace(allergen)
	if allergen == "" {
		allergen = entities.NoAllergen
	}
	patient := &entities.Patient{
		ID:        "patient_" + uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Allergen:  allergen,
		CreatedAt: time.Now(),
	}
	if err := patient.Validate(); err != nil {
		return nil, err
	}

	_, err := e.manager.Execute(ctx, DefinitionID, saga.SagaData{
		DataKeyPatient: patient,
		DataKeyImage:   image,
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}
