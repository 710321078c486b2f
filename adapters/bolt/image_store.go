// Package bolt keeps captured pictures in a local BoltDB file, for
// deployments without object storage.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

var bucketImages = []byte("images")

// Config holds configuration for the BoltDB image store
type Config struct {
	Path string
	// BaseURL prefixes the keys in returned URLs, normally the server's
	// image route
	BaseURL string
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.Path == "" {
		return fmt.Errorf("bolt path is required")
	}
	if config.BaseURL == "" {
		return fmt.Errorf("bolt base URL is required")
	}
	return nil
}

type record struct {
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"data"`
	StoredAt    time.Time `json:"storedAt"`
}

// ImageStore implements ImageStore on a single bucket
type ImageStore struct {
	db      *bolt.DB
	baseURL string
	logger  *zap.Logger
}

var _ repositories.ImageStore = (*ImageStore)(nil)

// NewImageStore opens (or creates) the database file
func NewImageStore(config Config, logger *zap.Logger) (*ImageStore, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketImages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create images bucket: %w", err)
	}

	logger.Info("Image store opened", zap.String("path", config.Path))
	return &ImageStore{
		db:      db,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  logger,
	}, nil
}

// Put implements ImageStore interface
func (s *ImageStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	enc, err := json.Marshal(record{ContentType: contentType, Data: data, StoredAt: time.Now()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal image: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Put([]byte(key), enc)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	s.logger.Debug("Picture stored", zap.String("key", key), zap.Int("size", len(data)))
	return s.baseURL + "/" + url.PathEscape(key), nil
}

// Get returns the stored picture and its content type
func (s *ImageStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var rec record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketImages).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if !found {
		return nil, "", fmt.Errorf("image %s: %w", key, domain.ErrNotFound)
	}
	return rec.Data, rec.ContentType, nil
}

// Delete implements ImageStore interface
func (s *ImageStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Delete([]byte(key))
	})
}

// Close closes the database file
func (s *ImageStore) Close() error {
	return s.db.Close()
}
