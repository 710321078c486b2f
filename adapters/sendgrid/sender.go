// Package sendgrid delivers one-time codes by e-mail through SendGrid.
package sendgrid

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/metrics"
	"github.com/satriahrh/allergy-checker/internal/otp"
)

const serviceSendGrid = "sendgrid"

type mailer interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Config holds configuration for the SendGrid sender
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIKey == "" {
		return fmt.Errorf("sendgrid API key is required")
	}
	if config.FromEmail == "" {
		return fmt.Errorf("sendgrid from address is required")
	}
	return nil
}

// Sender implements CodeSender with the SendGrid v3 mail API
type Sender struct {
	client mailer
	from   *mail.Email
	logger *zap.Logger
}

var _ repositories.CodeSender = (*Sender)(nil)

// NewSender creates a sender
func NewSender(config Config, logger *zap.Logger) (*Sender, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return newSender(sg.NewSendClient(config.APIKey), config, logger), nil
}

func newSender(client mailer, config Config, logger *zap.Logger) *Sender {
	return &Sender{
		client: client,
		from:   mail.NewEmail(config.FromName, config.FromEmail),
		logger: logger,
	}
}

// SendCode e-mails code to destination
func (s *Sender) SendCode(ctx context.Context, destination, code string) error {
	if destination == "" {
		return fmt.Errorf("destination is required")
	}

	message := mail.NewSingleEmail(s.from, otp.EmailSubject, mail.NewEmail("", destination),
		otp.EmailText(code), otp.EmailHTML(code))

	started := time.Now()
	response, err := s.client.SendWithContext(ctx, message)
	if err == nil && response.StatusCode >= 300 {
		err = fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	metrics.ObserveRemote(serviceSendGrid, started, err)
	if err != nil {
		return domain.NewRemoteServiceError(serviceSendGrid, err)
	}

	s.logger.Info("Code sent", zap.String("destination", destination))
	return nil
}
