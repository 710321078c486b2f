package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/challenge"
)

// Login is a pending login waiting for the answer to its challenge
type Login struct {
	Username  string
	SessionID string
}

// Tokens are issued once the challenge is answered correctly
type Tokens struct {
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authenticator logs clinicians in with the custom one-time-code challenge
type Authenticator struct {
	protocol *challenge.Protocol
	users    repositories.UserDirectory
	issuer   *TokenIssuer
	logger   *zap.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(protocol *challenge.Protocol, users repositories.UserDirectory, issuer *TokenIssuer, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		protocol: protocol,
		users:    users,
		issuer:   issuer,
		logger:   logger,
	}
}

// Authenticate starts a login for username. Every login requires the custom
// challenge, so on success a code has been delivered and the returned Login
// names the session to answer.
func (a *Authenticator) Authenticate(ctx context.Context, username string) (*Login, error) {
	user, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	session, decision, err := a.protocol.Begin(ctx, user.Username)
	if err != nil {
		return nil, err
	}
	if decision.ChallengeName != entities.ChallengeCustom {
		return nil, domain.ErrChallengeFailed
	}

	if _, err := a.protocol.Create(ctx, session, *user); err != nil {
		return nil, err
	}

	a.logger.Info("Login challenge issued",
		zap.String("username", user.Username),
		zap.String("sessionID", session.ID))

	return &Login{Username: user.Username, SessionID: session.ID}, nil
}

// RespondToChallenge answers the login's challenge. A wrong or late answer
// returns domain.ErrChallengeFailed and the login must start over.
func (a *Authenticator) RespondToChallenge(ctx context.Context, login *Login, code string) (*Tokens, error) {
	if login == nil {
		return nil, errors.New("no login in progress")
	}

	result, err := a.protocol.Answer(ctx, login.SessionID, code)
	if err != nil {
		return nil, err
	}
	if !result.IssueTokens {
		a.logger.Warn("Login challenge failed", zap.String("username", login.Username))
		return nil, domain.ErrChallengeFailed
	}

	user, err := a.users.GetByUsername(ctx, result.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	token, expiresAt, err := a.issuer.GenerateUserToken(user.Username)
	if err != nil {
		return nil, err
	}

	a.logger.Info("User logged in", zap.String("username", user.Username))
	return &Tokens{
		Username:    user.Username,
		Name:        user.Name,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}
