package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/mlpipe/internal/platform/env"
)

// Config addresses an S3-compatible endpoint. Cloud Storage is reached through its
// XML interoperability endpoint with HMAC keys.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// Scheme is the URI scheme used when reporting object locations ("gs" or "s3").
	Scheme string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("MLPIPE_OBJECTSTORE_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("MLPIPE_OBJECTSTORE_ENDPOINT", "storage.googleapis.com"),
		AccessKey: env.String("MLPIPE_OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey: env.String("MLPIPE_OBJECTSTORE_SECRET_KEY", ""),
		Region:    env.String("MLPIPE_OBJECTSTORE_REGION", "auto"),
		UseSSL:    useSSL,
		Scheme:    env.String("MLPIPE_OBJECTSTORE_SCHEME", SchemeGCS),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	switch c.Scheme {
	case SchemeGCS, SchemeS3:
	default:
		return fmt.Errorf("unsupported uri scheme %q", c.Scheme)
	}
	return nil
}
