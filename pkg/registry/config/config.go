// Package config collects the process configuration from the environment in
// one fail-fast step at startup, instead of ambient os.Getenv lookups spread
// through the code.
package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	DatabaseURL string
	APIKey      string
	Port        string

	// Exactly one artifact backend is configured: a local directory or an
	// S3 bucket.
	ArtifactDir string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
}

// FromEnv reads and validates the configuration. Every missing required
// variable is reported in a single error so operators fix them in one go.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		APIKey:      os.Getenv("NUGET_API_KEY"),
		Port:        os.Getenv("PORT"),
		ArtifactDir: os.Getenv("ARTIFACT_DIR"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Prefix:    os.Getenv("S3_PREFIX"),
	}
	if cfg.Port == "" {
		cfg.Port = "5000"
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.APIKey == "" {
		missing = append(missing, "NUGET_API_KEY")
	}
	if cfg.ArtifactDir == "" && cfg.S3Bucket == "" {
		missing = append(missing, "ARTIFACT_DIR or S3_BUCKET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if cfg.ArtifactDir != "" && cfg.S3Bucket != "" {
		return nil, fmt.Errorf("ARTIFACT_DIR and S3_BUCKET are mutually exclusive")
	}

	return cfg, nil
}

// UseS3 reports whether the object store is S3-backed.
func (c *Config) UseS3() bool { return c.S3Bucket != "" }
