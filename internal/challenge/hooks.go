package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/otp"
)

// Hooks are the identity-provider trigger handlers. Each takes the provider's
// event document, fills its "response" object and returns the document with
// every other field untouched.
type Hooks struct {
	sender   repositories.CodeSender
	logger   *zap.Logger
	generate func() (string, error)
}

// NewHooks creates trigger handlers that deliver codes through sender
func NewHooks(sender repositories.CodeSender, logger *zap.Logger) *Hooks {
	return &Hooks{sender: sender, logger: logger, generate: otp.Generate}
}

type defineRequest struct {
	Session []entities.ChallengeRound `json:"session"`
}

type createRequest struct {
	ChallengeName  entities.ChallengeName `json:"challengeName"`
	UserAttributes struct {
		Email string `json:"email"`
	} `json:"userAttributes"`
}

type verifyRequest struct {
	PrivateChallengeParameters struct {
		Answer string `json:"answer"`
	} `json:"privateChallengeParameters"`
	ChallengeAnswer string `json:"challengeAnswer"`
}

// Define answers the define-auth-challenge trigger
func (h *Hooks) Define(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	var req defineRequest
	return withResponse(event, &req, func(resp response) error {
		result := Define(req.Session)
		resp.set("issueTokens", result.IssueTokens)
		resp.set("failAuthentication", result.FailAuthentication)
		if result.ChallengeName != "" {
			resp.set("challengeName", result.ChallengeName)
		}
		h.logger.Info("Define challenge",
			zap.Int("rounds", len(req.Session)),
			zap.Bool("issueTokens", result.IssueTokens),
			zap.Bool("failAuthentication", result.FailAuthentication))
		return nil
	})
}

// Create answers the create-auth-challenge trigger. The code goes only into
// privateChallengeParameters, which the provider never hands to the client.
func (h *Hooks) Create(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	var req createRequest
	return withResponse(event, &req, func(resp response) error {
		if req.ChallengeName != entities.ChallengeCustom {
			return nil
		}

		code, err := h.generate()
		if err != nil {
			return err
		}
		if err := h.sender.SendCode(ctx, req.UserAttributes.Email, code); err != nil {
			return fmt.Errorf("failed to deliver code: %w", err)
		}

		resp.set("publicChallengeParameters", map[string]string{})
		resp.set("privateChallengeParameters", map[string]string{"answer": code})
		h.logger.Info("Challenge code delivered by trigger")
		return nil
	})
}

// Verify answers the verify-auth-challenge-response trigger
func (h *Hooks) Verify(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	var req verifyRequest
	return withResponse(event, &req, func(resp response) error {
		correct := Verify(req.ChallengeAnswer, req.PrivateChallengeParameters.Answer)
		resp.set("answerCorrect", correct)
		h.logger.Info("Verify challenge", zap.Bool("answerCorrect", correct))
		return nil
	})
}

type response map[string]json.RawMessage

func (r response) set(key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	r[key] = b
}

// withResponse decodes the request part of event into req, lets fill update
// the response object and re-encodes the event
func withResponse(event json.RawMessage, req any, fill func(resp response) error) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(event, &doc); err != nil {
		return nil, fmt.Errorf("invalid trigger event: %w", err)
	}
	if doc == nil {
		return nil, errors.New("invalid trigger event: not an object")
	}

	if raw, ok := doc["request"]; ok {
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("invalid trigger request: %w", err)
		}
	}

	resp := response{}
	if raw, ok := doc["response"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("invalid trigger response: %w", err)
		}
	}

	if err := fill(resp); err != nil {
		return nil, err
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger response: %w", err)
	}
	doc["response"] = out
	return json.Marshal(doc)
}
