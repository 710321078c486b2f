// Package aws implements the remote services of the allergy checker on AWS:
// Lex for intents, Rekognition for faces and text, Polly for speech, SES for
// code delivery, S3 for pictures and DynamoDB for records.
package aws

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/internal/metrics"
)

const (
	serviceLex         = "lex"
	serviceRekognition = "rekognition"
	servicePolly       = "polly"
	serviceSES         = "ses"
	serviceS3          = "s3"
	serviceDynamoDB    = "dynamodb"

	audioChunkSize = 4096
)

// LoadConfig resolves credentials the standard SDK way (environment, shared
// profile, instance role) for region
func LoadConfig(ctx context.Context, region string) (awssdk.Config, error) {
	if strings.TrimSpace(region) == "" {
		return awssdk.Config{}, fmt.Errorf("missing region")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// observe records the call and wraps a failure as a remote service error
func observe(service string, started time.Time, err error) error {
	metrics.ObserveRemote(service, started, err)
	return domain.NewRemoteServiceError(service, err)
}

// streamChunks copies body to a channel in chunks and closes both when done
func streamChunks(ctx context.Context, body io.ReadCloser, size int) <-chan []byte {
	out := make(chan []byte, 10)
	go func() {
		defer close(out)
		defer body.Close()

		buffer := make([]byte, size)
		for {
			n, err := io.ReadFull(body, buffer)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
