package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/adapters"
	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
)

type fakeSender struct {
	err         error
	destination string
	code        string
	calls       int
}

func (f *fakeSender) SendCode(ctx context.Context, destination, code string) error {
	f.calls++
	f.destination = destination
	f.code = code
	return f.err
}

var testUser = entities.User{Username: "drhouse", Name: "Gregory", Email: "house@example.com"}

func TestDefine(t *testing.T) {
	tests := []struct {
		name    string
		history []entities.ChallengeRound
		want    DefineResult
	}{
		{
			name:    "empty history issues a custom challenge",
			history: nil,
			want:    DefineResult{ChallengeName: entities.ChallengeCustom},
		},
		{
			name:    "one successful round issues tokens",
			history: []entities.ChallengeRound{{ChallengeName: entities.ChallengeCustom, ChallengeResult: true}},
			want:    DefineResult{IssueTokens: true},
		},
		{
			name:    "one failed round issues nothing",
			history: []entities.ChallengeRound{{ChallengeName: entities.ChallengeCustom, ChallengeResult: false}},
			want:    DefineResult{},
		},
		{
			name: "two rounds fail authentication",
			history: []entities.ChallengeRound{
				{ChallengeName: entities.ChallengeCustom, ChallengeResult: false},
				{ChallengeName: entities.ChallengeCustom, ChallengeResult: true},
			},
			want: DefineResult{FailAuthentication: true},
		},
		{
			name:    "unexpected challenge type fails authentication",
			history: []entities.ChallengeRound{{ChallengeName: entities.ChallengeSRP, ChallengeResult: true}},
			want:    DefineResult{FailAuthentication: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Define(tt.history); got != tt.want {
				t.Errorf("Define() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	if !Verify("482913", "482913") {
		t.Error("Expected equal codes to verify")
	}
	if Verify("482913", "482914") {
		t.Error("Expected different codes to fail")
	}
	if Verify("482 913", "482913") {
		t.Error("Expected no normalization of the submitted answer")
	}
}

func newTestProtocol(t *testing.T, sender *fakeSender, ttl time.Duration) (*Protocol, *adapters.MemoryChallengeSessionStore) {
	t.Helper()
	store := adapters.NewMemoryChallengeSessionStore()
	return NewProtocol(store, sender, ttl, zaptest.NewLogger(t)), store
}

func TestProtocol_SuccessfulLogin(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	p, store := newTestProtocol(t, sender, time.Minute)

	session, decision, err := p.Begin(ctx, testUser.Username)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if decision.ChallengeName != entities.ChallengeCustom {
		t.Fatalf("Expected a custom challenge, got %+v", decision)
	}

	created, err := p.Create(ctx, session, testUser)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created.PublicParameters) != 0 {
		t.Errorf("Expected empty public parameters, got %v", created.PublicParameters)
	}
	encoded, _ := json.Marshal(created)
	if strings.Contains(string(encoded), sender.code) {
		t.Error("Create result leaked the secret code")
	}
	if sender.destination != testUser.Email {
		t.Errorf("Expected code sent to %s, got %s", testUser.Email, sender.destination)
	}

	answered, err := p.Answer(ctx, session.ID, sender.code)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if !answered.IssueTokens || answered.FailAuthentication {
		t.Errorf("Expected tokens to be issued, got %+v", answered)
	}

	if _, err := store.Get(ctx, session.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected resolved session to be removed, got %v", err)
	}
}

func TestProtocol_WrongAnswerAllowsNoRetry(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	p, _ := newTestProtocol(t, sender, time.Minute)

	session, _, err := p.Begin(ctx, testUser.Username)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := p.Create(ctx, session, testUser); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	decision, err := p.Answer(ctx, session.ID, "000000")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if decision.IssueTokens {
		t.Error("Expected no tokens for a wrong answer")
	}

	if _, err := p.Answer(ctx, session.ID, sender.code); !errors.Is(err, domain.ErrChallengeFailed) {
		t.Errorf("Expected ErrChallengeFailed on a second answer, got %v", err)
	}
}

func TestProtocol_SecondCreateRejected(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	p, _ := newTestProtocol(t, sender, time.Minute)

	session, _, _ := p.Begin(ctx, testUser.Username)
	if _, err := p.Create(ctx, session, testUser); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := p.Create(ctx, session, testUser); !errors.Is(err, domain.ErrChallengeFailed) {
		t.Errorf("Expected ErrChallengeFailed, got %v", err)
	}
	if sender.calls != 1 {
		t.Errorf("Expected one delivery, got %d", sender.calls)
	}
}

func TestProtocol_DeliveryFailure(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{err: domain.NewRemoteServiceError("ses", errors.New("throttled"))}
	p, store := newTestProtocol(t, sender, time.Minute)

	session, _, _ := p.Begin(ctx, testUser.Username)
	_, err := p.Create(ctx, session, testUser)
	if !domain.IsRemoteServiceError(err) {
		t.Fatalf("Expected a remote service error, got %v", err)
	}
	if _, err := store.Get(ctx, session.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected the session to be abandoned, got %v", err)
	}
}

func TestProtocol_ExpiredCodeIsRejected(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	p, _ := newTestProtocol(t, sender, time.Millisecond)

	session, _, _ := p.Begin(ctx, testUser.Username)
	if _, err := p.Create(ctx, session, testUser); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	decision, err := p.Answer(ctx, session.ID, sender.code)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if decision.IssueTokens {
		t.Error("Expected an expired code to be rejected")
	}
}

func TestProtocol_Sweep(t *testing.T) {
	ctx := context.Background()
	p, store := newTestProtocol(t, &fakeSender{}, time.Millisecond)

	session, _, _ := p.Begin(ctx, testUser.Username)
	time.Sleep(5 * time.Millisecond)

	removed, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 session removed, got %d", removed)
	}
	if _, err := store.Get(ctx, session.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected session to be gone, got %v", err)
	}
}

func TestProtocol_ConcurrentAnswersIssueOnce(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	p, _ := newTestProtocol(t, sender, time.Minute)

	session, _, _ := p.Begin(ctx, testUser.Username)
	if _, err := p.Create(ctx, session, testUser); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const answers = 8
	var (
		wg     sync.WaitGroup
		issued atomic.Int32
		failed atomic.Int32
	)
	for range answers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := p.Answer(ctx, session.ID, sender.code)
			switch {
			case errors.Is(err, domain.ErrChallengeFailed):
				failed.Add(1)
			case err == nil && decision.IssueTokens:
				issued.Add(1)
			default:
				t.Errorf("Unexpected answer result %+v, %v", decision, err)
			}
		}()
	}
	wg.Wait()

	if issued.Load() != 1 {
		t.Errorf("Expected tokens issued once, got %d", issued.Load())
	}
	if failed.Load() != answers-1 {
		t.Errorf("Expected %d rejected answers, got %d", answers-1, failed.Load())
	}
}

// unavailableStore loses its backend after the challenge is created
type unavailableStore struct {
	*adapters.MemoryChallengeSessionStore
	err error
}

func (s *unavailableStore) Take(ctx context.Context, id string) (*entities.ChallengeSession, error) {
	return nil, s.err
}

func TestProtocol_StoreFailureIssuesNothing(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	store := &unavailableStore{
		MemoryChallengeSessionStore: adapters.NewMemoryChallengeSessionStore(),
		err:                         domain.NewRemoteServiceError("redis", errors.New("connection reset")),
	}
	p := NewProtocol(store, sender, time.Minute, zaptest.NewLogger(t))

	session, _, _ := p.Begin(ctx, testUser.Username)
	if _, err := p.Create(ctx, session, testUser); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	decision, err := p.Answer(ctx, session.ID, sender.code)
	if !domain.IsRemoteServiceError(err) {
		t.Errorf("Expected a remote service error, got %v", err)
	}
	if decision.IssueTokens {
		t.Error("Expected no tokens when the session cannot be taken")
	}
}
