package entities

import (
	"testing"
	"time"
)

func TestChallengeSessionCreation(t *testing.T) {
	session := NewChallengeSession("alice", 0)

	if session.Username != "alice" {
		t.Errorf("Expected username alice, got %s", session.Username)
	}

	if session.Status != ChallengeStatusStart {
		t.Errorf("Expected status %s, got %s", ChallengeStatusStart, session.Status)
	}

	if len(session.History) != 0 {
		t.Errorf("Expected empty history, got %d rounds", len(session.History))
	}

	if session.ExpiresAt.Sub(session.CreatedAt) != DefaultChallengeTTL {
		t.Errorf("Expected default ttl %s, got %s", DefaultChallengeTTL, session.ExpiresAt.Sub(session.CreatedAt))
	}
}

func TestChallengeSessionRecordConsumesSecret(t *testing.T) {
	session := NewChallengeSession("alice", time.Minute)
	session.SecretAnswer = "482913"

	if !session.HasOutstandingSecret() {
		t.Fatal("Expected outstanding secret")
	}

	session.Record(ChallengeCustom, true)

	if session.HasOutstandingSecret() {
		t.Error("Secret should be consumed after recording the round")
	}

	if len(session.History) != 1 || !session.History[0].ChallengeResult {
		t.Errorf("Unexpected history: %+v", session.History)
	}
}

func TestChallengeSessionExpiration(t *testing.T) {
	session := NewChallengeSession("alice", time.Minute)

	if session.IsExpired() {
		t.Error("Session should not be expired initially")
	}

	session.ExpiresAt = time.Now().Add(-1 * time.Second)
	if !session.IsExpired() {
		t.Error("Session should be expired when ExpiresAt is in the past")
	}
}

func TestChallengeSessionValidation(t *testing.T) {
	session := NewChallengeSession("alice", time.Minute)
	if err := session.Validate(); err != nil {
		t.Errorf("Valid session should not have validation errors, got: %v", err)
	}

	session.Username = ""
	if err := session.Validate(); err == nil {
		t.Error("Session with empty username should have validation error")
	}

	session.Username = "alice"
	session.Status = ChallengeStatus("invalid")
	if err := session.Validate(); err == nil {
		t.Error("Session with invalid status should have validation error")
	}
}

func TestConversationStateSwitch(t *testing.T) {
	var state ConversationState

	prev := state.SwitchTo(FlowAddPatient, FlowContext{PatientName: "John", Allergen: "peanut"})
	if prev != FlowNone {
		t.Errorf("Expected previous flow none, got %s", prev)
	}

	prev = state.SwitchTo(FlowCheckPatient, FlowContext{})
	if prev != FlowAddPatient {
		t.Errorf("Expected previous flow add_patient, got %s", prev)
	}
	if state.Context.PatientName != "" {
		t.Error("Flow context should be replaced on switch")
	}

	state.TurnInProgress = true
	state.SwitchTo(FlowNone, FlowContext{})
	if state.ActiveFlow != FlowNone || !state.TurnInProgress {
		t.Errorf("Switching flow should keep the turn going, got %+v", state)
	}
}

func TestUtterancePCM(t *testing.T) {
	u := NewUtterance([]int16{1, -1, 32767}, 16000)

	pcm := u.PCM()
	want := []byte{0x01, 0x00, 0xff, 0xff, 0xff, 0x7f}
	if string(pcm) != string(want) {
		t.Errorf("Expected %v, got %v", want, pcm)
	}

	samples := u.Samples()
	samples[0] = 99
	if u.Samples()[0] != 1 {
		t.Error("Utterance must not be mutable through Samples")
	}
}
