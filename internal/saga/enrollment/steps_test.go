package enrollment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/adapters"
	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/internal/saga"
)

type fakeImageStore struct {
	objects map[string][]byte
}

func (f *fakeImageStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.objects[key] = data
	return "https://images.example.com/" + key, nil
}

func (f *fakeImageStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeIndexer struct {
	err          error
	collectionID string
	externalID   string
}

func (f *fakeIndexer) IndexFace(ctx context.Context, collectionID, externalID string, image []byte) (string, error) {
	f.collectionID = collectionID
	f.externalID = externalID
	if f.err != nil {
		return "", f.err
	}
	return "face-1", nil
}

func newTestEnroller(t *testing.T, indexer *fakeIndexer) (*Enroller, *fakeImageStore, *adapters.MemoryPatientRepository) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	images := &fakeImageStore{objects: map[string][]byte{}}
	patients := adapters.NewMemoryPatientRepository()
	return NewEnroller(saga.NewManager(logger), images, patients, indexer, "patients", logger), images, patients
}

func TestEnroller_Enroll(t *testing.T) {
	indexer := &fakeIndexer{}
	e, images, patients := newTestEnroller(t, indexer)

	patient, err := e.Enroll(context.Background(), "John Doe", "peanut", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if !strings.HasPrefix(patient.ID, "patient_") {
		t.Errorf("Unexpected patient id %s", patient.ID)
	}
	if patient.ImageKey != patient.ID+".png" || patient.ImageURL == "" {
		t.Errorf("Expected picture reference on patient, got %+v", patient)
	}
	if _, ok := images.objects[patient.ImageKey]; !ok {
		t.Error("Expected picture to be stored")
	}
	if indexer.collectionID != "patients" || indexer.externalID != patient.ID {
		t.Errorf("Expected face indexed under the patient id, got %s/%s", indexer.collectionID, indexer.externalID)
	}

	stored, err := patients.Get(context.Background(), patient.ID)
	if err != nil {
		t.Fatalf("Expected stored patient: %v", err)
	}
	if stored.Allergen != "peanut" || stored.ImageURL != patient.ImageURL {
		t.Errorf("Unexpected stored patient: %+v", stored)
	}
}

func TestEnroller_DefaultsToNoAllergen(t *testing.T) {
	e, _, _ := newTestEnroller(t, &fakeIndexer{})

	patient, err := e.Enroll(context.Background(), "Jane", "  ", []byte("png"))
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if patient.HasAllergy() {
		t.Errorf("Expected no allergy, got %q", patient.Allergen)
	}
}

func TestEnroller_IndexFailureLeavesNothingBehind(t *testing.T) {
	indexer := &fakeIndexer{err: domain.NewRemoteServiceError("rekognition", errors.New("no face in image"))}
	e, images, patients := newTestEnroller(t, indexer)

	_, err := e.Enroll(context.Background(), "John Doe", "peanut", []byte("png-bytes"))
	if !domain.IsRemoteServiceError(err) {
		t.Fatalf("Expected remote service error, got %v", err)
	}
	if len(images.objects) != 0 {
		t.Errorf("Expected uploaded picture to be removed, found %d", len(images.objects))
	}
	if _, err := patients.Get(context.Background(), indexer.externalID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected patient record to be removed, got %v", err)
	}
}

func TestEnroller_RequiresName(t *testing.T) {
	e, _, _ := newTestEnroller(t, &fakeIndexer{})
	if _, err := e.Enroll(context.Background(), "", "peanut", []byte("png")); err == nil {
		t.Error("Expected missing name to be rejected")
	}
}
