package bolt

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/domain"
)

func newTestStore(t *testing.T) *ImageStore {
	t.Helper()
	store, err := NewImageStore(Config{
		Path:    filepath.Join(t.TempDir(), "data", "images.db"),
		BaseURL: "http://localhost:8080/images/",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewImageStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Path: "images.db", BaseURL: "http://x/images"}, false},
		{"missing path", Config{BaseURL: "http://x/images"}, true},
		{"missing base url", Config{Path: "images.db"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(tt.config); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestImageStore_PutGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	png := []byte{0x89, 'P', 'N', 'G'}

	url, err := store.Put(ctx, "patient_1.png", png, "image/png")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url != "http://localhost:8080/images/patient_1.png" {
		t.Errorf("Unexpected URL %s", url)
	}

	data, contentType, err := store.Get(ctx, "patient_1.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(data, png) || contentType != "image/png" {
		t.Errorf("Unexpected image %v %s", data, contentType)
	}

	if err := store.Delete(ctx, "patient_1.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, err := store.Get(ctx, "patient_1.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "missing.png"); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}

	if _, err := store.Put(ctx, "", png, "image/png"); err == nil {
		t.Error("Expected error for empty key")
	}
}
