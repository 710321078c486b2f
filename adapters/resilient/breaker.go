// Package resilient guards remote collaborators with circuit breakers so a
// failing service is reported quickly instead of stalling every turn.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

// Settings configures every breaker built by this package
type Settings struct {
	MaxRequests      uint32        // requests let through while half-open
	Interval         time.Duration // closed-state window after which counts reset
	Timeout          time.Duration // open-state duration before probing again
	FailureThreshold uint32        // consecutive failures that open the breaker
}

func newBreaker(name string, s Settings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only remote failures trip the breaker; misses and bad input do not.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRemoteServiceError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// execute runs fn through cb and reports a rejected call as a remote failure
func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, domain.NewRemoteServiceError(cb.Name(), err)
	}
	if out == nil {
		var zero T
		return zero, err
	}
	return out.(T), err
}

// Resolver guards an IntentResolver
type Resolver struct {
	next repositories.IntentResolver
	cb   *gobreaker.CircuitBreaker
}

var _ repositories.IntentResolver = (*Resolver)(nil)

// NewResolver wraps next
func NewResolver(next repositories.IntentResolver, s Settings, logger *zap.Logger) *Resolver {
	return &Resolver{next: next, cb: newBreaker("resolver", s, logger)}
}

func (r *Resolver) ResolveAudio(ctx context.Context, utterance entities.Utterance, userID string) (*repositories.IntentResult, error) {
	return execute(r.cb, func() (*repositories.IntentResult, error) {
		return r.next.ResolveAudio(ctx, utterance, userID)
	})
}

func (r *Resolver) ResolveText(ctx context.Context, text string, userID string) (*repositories.IntentResult, error) {
	return execute(r.cb, func() (*repositories.IntentResult, error) {
		return r.next.ResolveText(ctx, text, userID)
	})
}

// Faces guards face search
type Faces struct {
	next repositories.FaceSearcher
	cb   *gobreaker.CircuitBreaker
}

var _ repositories.FaceSearcher = (*Faces)(nil)

// NewFaces wraps next
func NewFaces(next repositories.FaceSearcher, s Settings, logger *zap.Logger) *Faces {
	return &Faces{next: next, cb: newBreaker("faces", s, logger)}
}

func (f *Faces) SearchFace(ctx context.Context, image []byte, collectionID string, threshold float64) (entities.FaceMatch, error) {
	return execute(f.cb, func() (entities.FaceMatch, error) {
		return f.next.SearchFace(ctx, image, collectionID, threshold)
	})
}

// Text guards text detection
type Text struct {
	next repositories.TextDetector
	cb   *gobreaker.CircuitBreaker
}

var _ repositories.TextDetector = (*Text)(nil)

// NewText wraps next
func NewText(next repositories.TextDetector, s Settings, logger *zap.Logger) *Text {
	return &Text{next: next, cb: newBreaker("text", s, logger)}
}

func (t *Text) DetectLines(ctx context.Context, image []byte) ([]string, error) {
	return execute(t.cb, func() ([]string, error) {
		return t.next.DetectLines(ctx, image)
	})
}

// Speech guards speech synthesis
type Speech struct {
	next repositories.TextToSpeech
	cb   *gobreaker.CircuitBreaker
}

var _ repositories.TextToSpeech = (*Speech)(nil)

// NewSpeech wraps next
func NewSpeech(next repositories.TextToSpeech, s Settings, logger *zap.Logger) *Speech {
	return &Speech{next: next, cb: newBreaker("speech", s, logger)}
}

func (s *Speech) ConvertTextToSpeech(ctx context.Context, text string, voiceID string) (<-chan []byte, error) {
	return execute(s.cb, func() (<-chan []byte, error) {
		return s.next.ConvertTextToSpeech(ctx, text, voiceID)
	})
}
