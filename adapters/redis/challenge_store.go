// Package redis keeps challenge sessions in Redis so that any server
// instance can answer a login started on another.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/metrics"
)

const (
	serviceRedis     = "redis"
	defaultKeyPrefix = "challenge:"
	minTTL           = time.Second
)

// Config holds configuration for the Redis session store
type Config struct {
	URL       string
	KeyPrefix string
}

// ChallengeSessionStore stores each session as JSON under prefix+id with a
// TTL matching the session's expiry
type ChallengeSessionStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ repositories.ChallengeSessionStore = (*ChallengeSessionStore)(nil)

// NewChallengeSessionStore connects to Redis and verifies the connection
func NewChallengeSessionStore(ctx context.Context, config Config, logger *zap.Logger) (*ChallengeSessionStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
		logger.Info("Using default key prefix", zap.String("keyPrefix", prefix))
	}

	logger.Info("Successfully connected to Redis")
	return &ChallengeSessionStore{client: client, prefix: prefix, logger: logger}, nil
}

// Create implements ChallengeSessionStore interface
func (s *ChallengeSessionStore) Create(ctx context.Context, session *entities.ChallengeSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	started := time.Now()
	created, err := s.client.SetNX(ctx, s.key(session.ID), data, ttlFor(session)).Result()
	if err := s.observe(started, err); err != nil {
		return err
	}
	if !created {
		return errors.New("challenge session already exists")
	}
	return nil
}

// Get implements ChallengeSessionStore interface
func (s *ChallengeSessionStore) Get(ctx context.Context, id string) (*entities.ChallengeSession, error) {
	started := time.Now()
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.observe(started, nil)
		return nil, fmt.Errorf("challenge session %s: %w", id, domain.ErrNotFound)
	}
	if err := s.observe(started, err); err != nil {
		return nil, err
	}

	var session entities.ChallengeSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Take implements ChallengeSessionStore interface with GETDEL
func (s *ChallengeSessionStore) Take(ctx context.Context, id string) (*entities.ChallengeSession, error) {
	started := time.Now()
	data, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.observe(started, nil)
		return nil, fmt.Errorf("challenge session %s: %w", id, domain.ErrNotFound)
	}
	if err := s.observe(started, err); err != nil {
		return nil, err
	}

	var session entities.ChallengeSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Update implements ChallengeSessionStore interface
func (s *ChallengeSessionStore) Update(ctx context.Context, session *entities.ChallengeSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	started := time.Now()
	updated, err := s.client.SetXX(ctx, s.key(session.ID), data, ttlFor(session)).Result()
	if err := s.observe(started, err); err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("challenge session %s: %w", session.ID, domain.ErrNotFound)
	}
	return nil
}

// Delete implements ChallengeSessionStore interface
func (s *ChallengeSessionStore) Delete(ctx context.Context, id string) error {
	started := time.Now()
	return s.observe(started, s.client.Del(ctx, s.key(id)).Err())
}

// DeleteExpired implements ChallengeSessionStore interface. Keys carry the
// session expiry as TTL, so Redis has already dropped them.
func (s *ChallengeSessionStore) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Close closes the client
func (s *ChallengeSessionStore) Close() error {
	return s.client.Close()
}

func (s *ChallengeSessionStore) key(id string) string {
	return s.prefix + id
}

func (s *ChallengeSessionStore) observe(started time.Time, err error) error {
	metrics.ObserveRemote(serviceRedis, started, err)
	return domain.NewRemoteServiceError(serviceRedis, err)
}

// ttlFor never returns zero, which Redis would read as "no expiry"
func ttlFor(session *entities.ChallengeSession) time.Duration {
	ttl := time.Until(session.ExpiresAt)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}
