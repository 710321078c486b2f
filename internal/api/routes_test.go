package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/auth"
	"github.com/satriahrh/allergy-checker/internal/challenge"
	"github.com/satriahrh/allergy-checker/internal/websocket"
)

const (
	testJWTSecret  = "routes-test-secret-0123456789"
	testHookSecret = "hook-secret"
)

type textResolver struct {
	err    error
	userID string
}

func (r *textResolver) ResolveAudio(ctx context.Context, u entities.Utterance, userID string) (*repositories.IntentResult, error) {
	return nil, errors.New("not used")
}

func (r *textResolver) ResolveText(ctx context.Context, text, userID string) (*repositories.IntentResult, error) {
	r.userID = userID
	if r.err != nil {
		return nil, r.err
	}
	return &repositories.IntentResult{
		DialogState: repositories.DialogStateReadyForFulfillment,
		IntentName:  repositories.IntentCheckPatient,
		Message:     text,
	}, nil
}

type nopSender struct{}

func (nopSender) SendCode(ctx context.Context, destination, code string) error { return nil }

type imageMap map[string][]byte

func (m imageMap) Get(ctx context.Context, key string) ([]byte, string, error) {
	data, ok := m[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return data, "image/jpeg", nil
}

type testServer struct {
	echo     *echo.Echo
	issuer   *auth.TokenIssuer
	resolver *textResolver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	issuer, err := auth.NewTokenIssuer(testJWTSecret)
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}
	resolver := &textResolver{}

	e := echo.New()
	InitRoutes(e, Dependencies{
		Hub:        websocket.NewHub(websocket.SessionConfig{}, logger),
		Devices:    auth.NewDeviceRegistry(map[string]string{"kiosk-1": "s3cret"}),
		Issuer:     issuer,
		Hooks:      challenge.NewHooks(nopSender{}, logger),
		Resolver:   resolver,
		HookSecret: testHookSecret,
		Images:     imageMap{"patients/p-1.jpg": []byte("jpeg-bytes")},
	}, logger)

	return &testServer{echo: e, issuer: issuer, resolver: resolver}
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) deviceToken(t *testing.T) string {
	t.Helper()
	token, _, err := s.issuer.GenerateDeviceToken("kiosk-1")
	if err != nil {
		t.Fatalf("GenerateDeviceToken failed: %v", err)
	}
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("Expected Prometheus exposition format")
	}
}

func TestDeviceAuth(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid credentials", `{"serial_number":"kiosk-1","secret_key":"s3cret"}`, http.StatusOK},
		{"wrong secret", `{"serial_number":"kiosk-1","secret_key":"nope"}`, http.StatusUnauthorized},
		{"unknown device", `{"serial_number":"kiosk-2","secret_key":"s3cret"}`, http.StatusUnauthorized},
		{"missing fields", `{"serial_number":"kiosk-1"}`, http.StatusBadRequest},
		{"invalid json", `{"serial_number":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/device/auth", tt.body, "")
			if rec.Code != tt.want {
				t.Fatalf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}

			var resp DeviceAuthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Invalid response: %v", err)
			}
			claims, err := s.issuer.ValidateToken(resp.Token)
			if err != nil {
				t.Fatalf("Issued token does not validate: %v", err)
			}
			if claims.DeviceID != "kiosk-1" || claims.Role != auth.RoleDevice {
				t.Errorf("Unexpected claims %+v", claims)
			}
		})
	}
}

func TestDevices_RequireToken(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodGet, "/api/v1/devices", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/devices", "", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for invalid token, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/v1/devices", "", s.deviceToken(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp DevicesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if len(resp.Devices) != 0 {
		t.Errorf("Expected no connected devices, got %v", resp.Devices)
	}
}

func TestDeviceStatus_NotConnected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/devices/kiosk-1/status", "", s.deviceToken(t))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestTextIntent(t *testing.T) {
	s := newTestServer(t)
	token := s.deviceToken(t)

	rec := s.do(http.MethodPost, "/api/v1/devices/kiosk-1/text", `{"text":"check patient"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp TextIntentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if resp.Result.IntentName != repositories.IntentCheckPatient || resp.Result.Message != "check patient" {
		t.Errorf("Unexpected result %+v", resp.Result)
	}
	if s.resolver.userID != "text-kiosk-1" {
		t.Errorf("Unexpected resolver user %q", s.resolver.userID)
	}

	if rec := s.do(http.MethodPost, "/api/v1/devices/kiosk-1/text", `{"text":"  "}`, token); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty text, got %d", rec.Code)
	}

	s.resolver.err = errors.New("lex unavailable")
	if rec := s.do(http.MethodPost, "/api/v1/devices/kiosk-1/text", `{"text":"hello"}`, token); rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 when the resolver fails, got %d", rec.Code)
	}
}

func TestChallengeHooks(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/auth/challenge/verify",
		`{"request":{"privateChallengeParameters":{"answer":"123456"},"challengeAnswer":"123456"},"response":{}}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without hook secret, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/v1/auth/challenge/verify",
		`{"request":{"privateChallengeParameters":{"answer":"123456"},"challengeAnswer":"123456"},"response":{}}`, testHookSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var event struct {
		Response struct {
			AnswerCorrect bool `json:"answerCorrect"`
		} `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if !event.Response.AnswerCorrect {
		t.Error("Expected answer to be correct")
	}

	rec = s.do(http.MethodPost, "/api/v1/auth/challenge/define", `{"request":{"session":[]},"response":{}}`, testHookSecret)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"challengeName":"CUSTOM_CHALLENGE"`) {
		t.Errorf("Unexpected define response %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/api/v1/auth/challenge/create", `not json`, testHookSecret)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid event, got %d", rec.Code)
	}
}

func TestWebSocket_RejectsUserTokens(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodGet, "/ws", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	token, _, err := s.issuer.GenerateUserToken("drhouse")
	if err != nil {
		t.Fatalf("GenerateUserToken failed: %v", err)
	}
	if rec := s.do(http.MethodGet, "/ws", "", token); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a user token, got %d", rec.Code)
	}
}

func TestImages(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/images/patients%2Fp-1.jpg", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderContentType) != "image/jpeg" || rec.Body.String() != "jpeg-bytes" {
		t.Errorf("Unexpected image response %q %q", rec.Header().Get(echo.HeaderContentType), rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/images/patients%2Fmissing.jpg", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
