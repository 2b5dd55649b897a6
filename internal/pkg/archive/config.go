package archive

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pythonitalia/pycon-association/internal/pkg/env"
)

// Config holds the webhook payload archive configuration.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
}

// LoadConfig loads the archive configuration. An empty bucket disables the archive.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("ARCHIVE_S3_REGION", "eu-west-1"),
		BucketName:      strings.TrimSpace(env.GetEnv("ARCHIVE_S3_BUCKET", "")),
		EndpointURL:     env.GetEnv("ARCHIVE_S3_ENDPOINT", ""),
	}
	if cfg.IsEnabled() {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("ARCHIVE_S3_ACCESS_KEY_ID is required when ARCHIVE_S3_BUCKET is set")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("ARCHIVE_S3_SECRET_ACCESS_KEY is required when ARCHIVE_S3_BUCKET is set")
		}
	}
	return cfg, nil
}

func (c *Config) IsEnabled() bool {
	return c.BucketName != ""
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey returns webhooks/<provider>/<yyyy>/<mm>/<dd>/<delivery-id>.json.
func ObjectKey(provider, deliveryID string, at time.Time) string {
	at = at.UTC()
	id := unsafeKeyChars.ReplaceAllString(deliveryID, "_")
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json",
		unsafeKeyChars.ReplaceAllString(strings.ToLower(provider), "_"), at.Year(), int(at.Month()), at.Day(), id)
}
