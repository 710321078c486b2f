package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

func decodeEvent(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Failed to decode hook output: %v", err)
	}
	return doc
}

func TestHooks_DefineEchoesUnknownFields(t *testing.T) {
	h := NewHooks(&fakeSender{}, zaptest.NewLogger(t))
	event := json.RawMessage(`{
		"version": "1",
		"userName": "drhouse",
		"callerContext": {"clientId": "abc"},
		"request": {"session": [], "userAttributes": {"email": "house@example.com"}},
		"response": {"custom": "keep-me"}
	}`)

	out, err := h.Define(context.Background(), event)
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	doc := decodeEvent(t, out)
	if doc["version"] != "1" || doc["userName"] != "drhouse" {
		t.Errorf("Expected top-level fields to be echoed, got %v", doc)
	}
	if doc["callerContext"].(map[string]any)["clientId"] != "abc" {
		t.Errorf("Expected nested fields to be echoed, got %v", doc["callerContext"])
	}
	req := doc["request"].(map[string]any)
	if req["userAttributes"].(map[string]any)["email"] != "house@example.com" {
		t.Errorf("Expected request to be echoed unchanged, got %v", req)
	}

	resp := doc["response"].(map[string]any)
	if resp["custom"] != "keep-me" {
		t.Errorf("Expected existing response fields to be kept, got %v", resp)
	}
	if resp["challengeName"] != "CUSTOM_CHALLENGE" || resp["issueTokens"] != false || resp["failAuthentication"] != false {
		t.Errorf("Unexpected define response: %v", resp)
	}
}

func TestHooks_DefineAfterSuccessfulRound(t *testing.T) {
	h := NewHooks(&fakeSender{}, zaptest.NewLogger(t))
	event := json.RawMessage(`{"request":{"session":[{"challengeName":"CUSTOM_CHALLENGE","challengeResult":true}]},"response":{}}`)

	out, err := h.Define(context.Background(), event)
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	resp := decodeEvent(t, out)["response"].(map[string]any)
	if resp["issueTokens"] != true || resp["failAuthentication"] != false {
		t.Errorf("Unexpected define response: %v", resp)
	}
	if _, ok := resp["challengeName"]; ok {
		t.Error("Expected no new challenge after the round")
	}
}

func TestHooks_CreateKeepsCodePrivate(t *testing.T) {
	sender := &fakeSender{}
	h := NewHooks(sender, zaptest.NewLogger(t))
	event := json.RawMessage(`{"region":"us-east-1","request":{"challengeName":"CUSTOM_CHALLENGE","userAttributes":{"email":"house@example.com"}},"response":null}`)

	out, err := h.Create(context.Background(), event)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	doc := decodeEvent(t, out)
	resp := doc["response"].(map[string]any)
	public := resp["publicChallengeParameters"].(map[string]any)
	if len(public) != 0 {
		t.Errorf("Expected empty public parameters, got %v", public)
	}
	private := resp["privateChallengeParameters"].(map[string]any)
	if private["answer"] != sender.code {
		t.Errorf("Expected private answer %s, got %v", sender.code, private["answer"])
	}
	if sender.destination != "house@example.com" {
		t.Errorf("Expected delivery to the user's email, got %s", sender.destination)
	}
	if doc["region"] != "us-east-1" {
		t.Errorf("Expected region to be echoed, got %v", doc["region"])
	}
}

func TestHooks_CreateIgnoresOtherChallenges(t *testing.T) {
	sender := &fakeSender{}
	h := NewHooks(sender, zaptest.NewLogger(t))
	event := json.RawMessage(`{"request":{"challengeName":"SRP_A"},"response":{}}`)

	out, err := h.Create(context.Background(), event)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sender.calls != 0 {
		t.Error("Expected no code delivery")
	}
	if resp := decodeEvent(t, out)["response"].(map[string]any); len(resp) != 0 {
		t.Errorf("Expected response untouched, got %v", resp)
	}
}

func TestHooks_CreateDeliveryFailure(t *testing.T) {
	h := NewHooks(&fakeSender{err: errors.New("mailbox unavailable")}, zaptest.NewLogger(t))
	event := json.RawMessage(`{"request":{"challengeName":"CUSTOM_CHALLENGE","userAttributes":{"email":"x@example.com"}}}`)

	if _, err := h.Create(context.Background(), event); err == nil {
		t.Error("Expected delivery failure to fail the trigger")
	}
}

func TestHooks_Verify(t *testing.T) {
	h := NewHooks(&fakeSender{}, zaptest.NewLogger(t))

	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"matching answer", "482913", true},
		{"wrong answer", "482914", false},
		{"spaced answer", "482 913", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, _ := json.Marshal(map[string]any{
				"request": map[string]any{
					"privateChallengeParameters": map[string]string{"answer": "482913"},
					"challengeAnswer":            tt.answer,
				},
				"response": map[string]any{},
			})
			out, err := h.Verify(context.Background(), event)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			resp := decodeEvent(t, out)["response"].(map[string]any)
			if resp["answerCorrect"] != tt.want {
				t.Errorf("Expected answerCorrect=%v, got %v", tt.want, resp["answerCorrect"])
			}
		})
	}
}

func TestHooks_InvalidEvent(t *testing.T) {
	h := NewHooks(&fakeSender{}, zaptest.NewLogger(t))
	for _, raw := range []string{`not json`, `null`, `[1,2]`} {
		if _, err := h.Define(context.Background(), json.RawMessage(raw)); err == nil {
			t.Errorf("Expected error for event %s", raw)
		}
	}
}
