package main

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/mlpipe/internal/platform/env"
)

type config struct {
	HealthRoute  string
	PredictRoute string
	StorageURI   string
	ModelDir     string
	LoadTimeout  time.Duration
}

func configFromEnv() (config, error) {
	loadTimeout, err := env.Duration("MLPIPE_MODEL_LOAD_TIMEOUT", 5*time.Minute)
	if err != nil {
		return config{}, err
	}
	cfg := config{
		HealthRoute:  env.String("AIP_HEALTH_ROUTE", "/health"),
		PredictRoute: env.String("AIP_PREDICT_ROUTE", "/predict"),
		StorageURI:   env.String("AIP_STORAGE_URI", ""),
		ModelDir:     env.String("MODEL_DIR", ""),
		LoadTimeout:  loadTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) Validate() error {
	if !strings.HasPrefix(c.HealthRoute, "/") {
		return errors.New("AIP_HEALTH_ROUTE must start with /")
	}
	if !strings.HasPrefix(c.PredictRoute, "/") {
		return errors.New("AIP_PREDICT_ROUTE must start with /")
	}
	if c.HealthRoute == c.PredictRoute {
		return errors.New("AIP_HEALTH_ROUTE and AIP_PREDICT_ROUTE must differ")
	}
	if c.StorageURI == "" && c.ModelDir == "" {
		return errors.New("one of AIP_STORAGE_URI or MODEL_DIR is required")
	}
	if c.LoadTimeout <= 0 {
		return errors.New("MLPIPE_MODEL_LOAD_TIMEOUT must be positive")
	}
	return nil
}
