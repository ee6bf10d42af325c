package reportstore

import (
	"errors"
	"fmt"
	"path"

	"github.com/ManuelReschke/HostPayouts/internal/pkg/env"
)

// Config holds the S3 target for settlement reports
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads report storage configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "eu-central-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_REPORT_PREFIX", "settlements"),
		Enabled:         env.GetEnvBool("S3_REPORTS_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when report upload is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when report upload is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when report upload is enabled")
		}
	}

	return config, nil
}

// ObjectKey builds the key for a report file: <prefix>/<dir>/<name>
func (c *Config) ObjectKey(dir, name string) string {
	return path.Join(c.Prefix, dir, name)
}

// BatchDir is the per-batch directory name shared by local and remote copies.
func BatchDir(batchID uint) string {
	return fmt.Sprintf("batch-%d", batchID)
}
