package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain/repositories"
	"github.com/satriahrh/allergy-checker/internal/otp"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender e-mails one-time codes through Amazon SES
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

var _ repositories.CodeSender = (*SESSender)(nil)

// NewSESSender creates a sender using from as the source address
func NewSESSender(cfg awssdk.Config, from string, logger *zap.Logger) (*SESSender, error) {
	return newSESSender(sesv2.NewFromConfig(cfg), from, logger)
}

func newSESSender(client sesAPI, from string, logger *zap.Logger) (*SESSender, error) {
	if from == "" {
		return nil, fmt.Errorf("SES from address is required")
	}
	return &SESSender{client: client, from: from, logger: logger}, nil
}

// SendCode e-mails code to destination
func (s *SESSender) SendCode(ctx context.Context, destination, code string) error {
	if destination == "" {
		return fmt.Errorf("destination is required")
	}

	started := time.Now()
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: awssdk.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{destination}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: awssdk.String(otp.EmailSubject)},
				Body: &types.Body{
					Html: &types.Content{Data: awssdk.String(otp.EmailHTML(code))},
					Text: &types.Content{Data: awssdk.String(otp.EmailText(code))},
				},
			},
		},
	})
	if err := observe(serviceSES, started, err); err != nil {
		return err
	}

	s.logger.Info("Code sent",
		zap.String("destination", destination),
		zap.String("messageID", awssdk.ToString(out.MessageId)))
	return nil
}
