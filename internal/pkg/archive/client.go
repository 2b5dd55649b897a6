package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Archiver stores raw webhook payloads.
type Archiver interface {
	Store(ctx context.Context, provider, deliveryID string, payload []byte, at time.Time) error
}

// Noop is used when no bucket is configured.
type Noop struct{}

func (Noop) Store(context.Context, string, string, []byte, time.Time) error { return nil }

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client archives payloads to an S3 bucket.
type Client struct {
	s3     putObjectAPI
	bucket string
}

// New returns an S3 archiver, or Noop when the archive is disabled.
func New(ctx context.Context, cfg *Config) (Archiver, error) {
	if !cfg.IsEnabled() {
		return Noop{}, nil
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Archiving webhook payloads to bucket: %s", cfg.BucketName)
	return &Client{s3: s3Client, bucket: cfg.BucketName}, nil
}

func (c *Client) Store(ctx context.Context, provider, deliveryID string, payload []byte, at time.Time) error {
	key := ObjectKey(provider, deliveryID, at)
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata: map[string]string{
			"provider":    provider,
			"delivery-id": deliveryID,
		},
	})
	if err != nil {
		return fmt.Errorf("archive s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}
