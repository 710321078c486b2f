package aws

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain/repositories"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ImageStore keeps pictures in a bucket
type S3ImageStore struct {
	client s3API
	bucket string
	region string
	logger *zap.Logger
}

var _ repositories.ImageStore = (*S3ImageStore)(nil)

// NewS3ImageStore creates a store for bucket
func NewS3ImageStore(cfg awssdk.Config, bucket string, logger *zap.Logger) (*S3ImageStore, error) {
	return newS3ImageStore(s3.NewFromConfig(cfg), bucket, cfg.Region, logger)
}

func newS3ImageStore(client s3API, bucket, region string, logger *zap.Logger) (*S3ImageStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("image bucket is required")
	}
	return &S3ImageStore{client: client, bucket: bucket, region: region, logger: logger}, nil
}

// Put uploads data under key and returns its object URL
func (s *S3ImageStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	started := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awssdk.String(s.bucket),
		Key:         awssdk.String(key),
		Body:        bytes.NewReader(data),
		ContentType: awssdk.String(contentType),
	})
	if err := observe(serviceS3, started, err); err != nil {
		return "", err
	}

	s.logger.Debug("Picture uploaded", zap.String("bucket", s.bucket), zap.String("key", key))
	return s.objectURL(key), nil
}

// Delete removes key
func (s *S3ImageStore) Delete(ctx context.Context, key string) error {
	started := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(key),
	})
	return observe(serviceS3, started, err)
}

func (s *S3ImageStore) objectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, url.PathEscape(key))
}
