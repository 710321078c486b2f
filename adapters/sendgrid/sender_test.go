package sendgrid

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/allergy-checker/domain"
)

type fakeMailer struct {
	sent     *mail.SGMailV3
	response *rest.Response
	err      error
}

func (f *fakeMailer) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = email
	return f.response, f.err
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{APIKey: "SG.x", FromEmail: "noreply@clinic.example"}, false},
		{"missing key", Config{FromEmail: "noreply@clinic.example"}, true},
		{"missing from", Config{APIKey: "SG.x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(tt.config); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSender_SendCode(t *testing.T) {
	fake := &fakeMailer{response: &rest.Response{StatusCode: http.StatusAccepted}}
	sender := newSender(fake, Config{FromEmail: "noreply@clinic.example", FromName: "Clinic"}, zaptest.NewLogger(t))

	if err := sender.SendCode(context.Background(), "house@clinic.example", "654321"); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}

	if fake.sent.Subject != "Your OTP Code" {
		t.Errorf("Unexpected subject %q", fake.sent.Subject)
	}
	if fake.sent.From.Address != "noreply@clinic.example" {
		t.Errorf("Unexpected from %q", fake.sent.From.Address)
	}
	if to := fake.sent.Personalizations[0].To[0].Address; to != "house@clinic.example" {
		t.Errorf("Unexpected recipient %q", to)
	}
	found := false
	for _, content := range fake.sent.Content {
		if content.Type == "text/html" && strings.Contains(content.Value, "654321") {
			found = true
		}
	}
	if !found {
		t.Error("Expected the code in the HTML content")
	}
}

func TestSender_Failures(t *testing.T) {
	logger := zaptest.NewLogger(t)

	rejected := &fakeMailer{response: &rest.Response{StatusCode: http.StatusUnauthorized, Body: "bad key"}}
	err := newSender(rejected, Config{FromEmail: "a@b.c"}, logger).SendCode(context.Background(), "x@y.z", "123456")
	if !domain.IsRemoteServiceError(err) {
		t.Errorf("Expected remote service error for a rejected request, got %v", err)
	}

	broken := &fakeMailer{err: errors.New("dial tcp: timeout")}
	err = newSender(broken, Config{FromEmail: "a@b.c"}, logger).SendCode(context.Background(), "x@y.z", "123456")
	if !domain.IsRemoteServiceError(err) {
		t.Errorf("Expected remote service error for a transport failure, got %v", err)
	}

	if err := newSender(broken, Config{FromEmail: "a@b.c"}, logger).SendCode(context.Background(), "", "123456"); err == nil {
		t.Error("Expected error without destination")
	}
}
