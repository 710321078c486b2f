// Package challenge implements the one-time-code custom authentication
// challenge: Define decides the next round, Create issues a code through an
// out-of-band channel, Verify compares the answer.
package challenge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/otp"
)

// DefineResult is the decision for the next round
type DefineResult struct {
	ChallengeName      entities.ChallengeName `json:"challengeName,omitempty"`
	IssueTokens        bool                   `json:"issueTokens"`
	FailAuthentication bool                   `json:"failAuthentication"`
}

// Define allows exactly one custom challenge round. An empty history asks
// for the challenge, a single custom round issues tokens when it succeeded,
// and anything else fails the authentication.
func Define(history []entities.ChallengeRound) DefineResult {
	switch {
	case len(history) == 0:
		return DefineResult{ChallengeName: entities.ChallengeCustom}
	case len(history) == 1 && history[0].ChallengeName == entities.ChallengeCustom:
		return DefineResult{IssueTokens: history[0].ChallengeResult}
	default:
		return DefineResult{FailAuthentication: true}
	}
}

// Verify compares the submitted answer with the secret, exactly and
// case-sensitively.
func Verify(submitted, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(secret)) == 1
}

// CreateResult is what the client of a Create round may see
type CreateResult struct {
	PublicParameters map[string]string `json:"publicChallengeParameters"`
}

// Protocol runs the three stages over a persisted ChallengeSession
type Protocol struct {
	store    repositories.ChallengeSessionStore
	sender   repositories.CodeSender
	ttl      time.Duration
	logger   *zap.Logger
	generate func() (string, error)
}

// NewProtocol creates a protocol backed by the given session store and code
// delivery channel
func NewProtocol(store repositories.ChallengeSessionStore, sender repositories.CodeSender, ttl time.Duration, logger *zap.Logger) *Protocol {
	if ttl <= 0 {
		ttl = entities.DefaultChallengeTTL
	}
	return &Protocol{
		store:    store,
		sender:   sender,
		ttl:      ttl,
		logger:   logger,
		generate: otp.Generate,
	}
}

// Begin opens a session for the user and runs Define on its empty history
func (p *Protocol) Begin(ctx context.Context, username string) (*entities.ChallengeSession, DefineResult, error) {
	session := entities.NewChallengeSession(username, p.ttl)
	if err := p.store.Create(ctx, session); err != nil {
		return nil, DefineResult{}, fmt.Errorf("failed to create challenge session: %w", err)
	}

	p.logger.Info("Challenge session started",
		zap.String("sessionID", session.ID),
		zap.String("username", username))

	return session, Define(session.History), nil
}

// Create generates a code, delivers it to the user's email and keeps it as
// the session's private secret. Delivery failure ends the round.
func (p *Protocol) Create(ctx context.Context, session *entities.ChallengeSession, user entities.User) (CreateResult, error) {
	if session.Status == entities.ChallengeStatusResolved {
		return CreateResult{}, domain.ErrChallengeFailed
	}
	if session.HasOutstandingSecret() || len(session.History) > 0 {
		return CreateResult{}, fmt.Errorf("%w: challenge already issued", domain.ErrChallengeFailed)
	}
	if user.Email == "" {
		return CreateResult{}, errors.New("user has no email to deliver the code to")
	}

	code, err := p.generate()
	if err != nil {
		return CreateResult{}, err
	}

	if err := p.sender.SendCode(ctx, user.Email, code); err != nil {
		p.logger.Error("Failed to deliver challenge code",
			zap.String("sessionID", session.ID),
			zap.Error(err))
		p.abandon(ctx, session)
		return CreateResult{}, fmt.Errorf("failed to deliver code: %w", err)
	}

	session.SecretAnswer = code
	session.Status = entities.ChallengeStatusChallenged
	session.ExpiresAt = time.Now().Add(p.ttl)
	if err := p.store.Update(ctx, session); err != nil {
		return CreateResult{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	p.logger.Info("Challenge code delivered", zap.String("sessionID", session.ID))
	return CreateResult{PublicParameters: map[string]string{}}, nil
}

// AnswerResult is the decision after an answered round
type AnswerResult struct {
	DefineResult
	Username string
}

// Answer verifies a submitted answer against the session's secret, records
// the round and runs Define on the new history. The session is taken out of
// the store before the answer is checked, so each session is answered once.
func (p *Protocol) Answer(ctx context.Context, sessionID, submitted string) (AnswerResult, error) {
	session, err := p.store.Take(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return AnswerResult{}, fmt.Errorf("%w: unknown challenge session", domain.ErrChallengeFailed)
	}
	if err != nil {
		return AnswerResult{}, fmt.Errorf("failed to load challenge session: %w", err)
	}
	if session.Status != entities.ChallengeStatusChallenged {
		return AnswerResult{}, fmt.Errorf("%w: no challenge outstanding", domain.ErrChallengeFailed)
	}

	result := false
	if session.HasOutstandingSecret() && !session.IsExpired() {
		result = Verify(submitted, session.SecretAnswer)
	}
	session.Record(entities.ChallengeCustom, result)

	decision := Define(session.History)
	session.Resolve(decision.IssueTokens)

	p.logger.Info("Challenge answered",
		zap.String("sessionID", session.ID),
		zap.Bool("challengeResult", result),
		zap.Bool("issueTokens", decision.IssueTokens))

	return AnswerResult{DefineResult: decision, Username: session.Username}, nil
}

// Sweep removes sessions whose code was never answered in time
func (p *Protocol) Sweep(ctx context.Context) (int, error) {
	return p.store.DeleteExpired(ctx)
}

func (p *Protocol) abandon(ctx context.Context, session *entities.ChallengeSession) {
	session.Resolve(false)
	if err := p.store.Delete(ctx, session.ID); err != nil {
		p.logger.Warn("Failed to delete abandoned challenge session",
			zap.String("sessionID", session.ID),
			zap.Error(err))
	}
}
