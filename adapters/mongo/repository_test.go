package mongo

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
)

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{}); err == nil {
		t.Error("Expected error without URI")
	}
	if err := ValidateConfig(Config{URI: "mongodb://localhost:27017"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestRepositories_Integration tests the MongoDB repositories
// This test requires a running MongoDB instance (skipped if MONGODB_URI is not set)
func TestRepositories_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	client, err := NewClient(ctx, Config{URI: mongoURI, Database: "allergy_checker_test"}, logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	t.Run("patients", func(t *testing.T) {
		repo := NewPatientRepository(client.Database)

		patient := &entities.Patient{ID: "patient_1", Name: "John", Allergen: "peanuts"}
		if err := repo.Put(ctx, patient); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(ctx, "patient_1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Name != "John" || !got.HasAllergy() {
			t.Errorf("Unexpected patient %+v", got)
		}

		patient.Allergen = entities.NoAllergen
		if err := repo.Put(ctx, patient); err != nil {
			t.Fatalf("Put (replace) failed: %v", err)
		}
		got, _ = repo.Get(ctx, "patient_1")
		if got.HasAllergy() {
			t.Error("Expected replaced record without allergy")
		}

		if err := repo.Delete(ctx, "patient_1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, "patient_1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("users", func(t *testing.T) {
		_, err := client.Database.Collection("users").InsertOne(ctx, bson.M{
			"_id":   "drhouse",
			"name":  "Gregory House",
			"email": "house@clinic.example",
		})
		if err != nil {
			t.Fatalf("Failed to seed user: %v", err)
		}

		dir := NewUserDirectory(client.Database)
		user, err := dir.GetByUsername(ctx, "drhouse")
		if err != nil {
			t.Fatalf("GetByUsername failed: %v", err)
		}
		if user.Email != "house@clinic.example" {
			t.Errorf("Unexpected user %+v", user)
		}
		if _, err := dir.GetByUsername(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}
