package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChallengeName identifies the kind of challenge issued in a round
type ChallengeName string

const (
	ChallengeCustom ChallengeName = "CUSTOM_CHALLENGE"
	ChallengeSRP    ChallengeName = "SRP_A"
)

// ChallengeStatus is the protocol state of a challenge session
type ChallengeStatus string

const (
	ChallengeStatusStart      ChallengeStatus = "start"
	ChallengeStatusChallenged ChallengeStatus = "challenged"
	ChallengeStatusResolved   ChallengeStatus = "resolved"
)

// DefaultChallengeTTL bounds how long an issued code stays answerable
const DefaultChallengeTTL = 3 * time.Minute

// ChallengeRound is one issue-and-answer cycle
type ChallengeRound struct {
	ChallengeName   ChallengeName `json:"challengeName"`
	ChallengeResult bool          `json:"challengeResult"`
}

// ChallengeSession is held server-side for one login attempt.
// SecretAnswer must never be copied into anything returned to a client.
type ChallengeSession struct {
	ID           string           `json:"id"`
	Username     string           `json:"username"`
	History      []ChallengeRound `json:"history"`
	SecretAnswer string           `json:"secret_answer,omitempty"`
	Status       ChallengeStatus  `json:"status"`
	Issued       bool             `json:"issued"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// NewChallengeSession creates a session with an empty history
func NewChallengeSession(username string, ttl time.Duration) *ChallengeSession {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	now := time.Now()
	return &ChallengeSession{
		ID:        uuid.NewString(),
		Username:  username,
		History:   make([]ChallengeRound, 0, 1),
		Status:    ChallengeStatusStart,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// HasOutstandingSecret reports whether a code was issued and not yet answered
func (s *ChallengeSession) HasOutstandingSecret() bool {
	return s.SecretAnswer != ""
}

// IsExpired checks if the session can no longer be answered
func (s *ChallengeSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Record appends the round result and consumes the secret
func (s *ChallengeSession) Record(name ChallengeName, result bool) {
	s.History = append(s.History, ChallengeRound{ChallengeName: name, ChallengeResult: result})
	s.SecretAnswer = ""
}

// Resolve marks the session finished, with or without tokens
func (s *ChallengeSession) Resolve(issued bool) {
	s.Status = ChallengeStatusResolved
	s.Issued = issued
	s.SecretAnswer = ""
}

// Validate validates the session data
func (s *ChallengeSession) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Username == "" {
		return errors.New("username is required")
	}
	switch s.Status {
	case ChallengeStatusStart, ChallengeStatusChallenged, ChallengeStatusResolved:
	default:
		return errors.New("invalid challenge status")
	}
	return nil
}
