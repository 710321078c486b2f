package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

// UserDirectory reads clinicians from the users collection, keyed by username
type UserDirectory struct {
	collection *mongo.Collection
}

var _ repositories.UserDirectory = (*UserDirectory)(nil)

// NewUserDirectory creates a new MongoDB user directory
func NewUserDirectory(db *mongo.Database) *UserDirectory {
	return &UserDirectory{collection: db.Collection("users")}
}

// GetByUsername implements repositories.UserDirectory
func (d *UserDirectory) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}

	started := time.Now()
	var user entities.User
	err := d.collection.FindOne(ctx, bson.M{"_id": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		observe(started, nil)
		return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	if err := observe(started, err); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
