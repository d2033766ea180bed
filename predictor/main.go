// Command predictor serves a trained model behind the managed endpoint's
// health and predict routes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/mlpipe/internal/model"
	"github.com/animus-labs/mlpipe/internal/platform/httpserver"
	"github.com/animus-labs/mlpipe/internal/platform/metrics"
	"github.com/animus-labs/mlpipe/internal/platform/objectstore"
	"github.com/prometheus/client_golang/prometheus"
)

const service = "predictor"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid predictor config", "error", err)
		os.Exit(2)
	}
	httpCfg, err := httpserver.ConfigFromEnv(service)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	loader, err := modelLoader(cfg)
	if err != nil {
		logger.Error("invalid model location", "error", err)
		os.Exit(2)
	}

	reg := prometheus.NewRegistry()
	srv := newServer(logger, metrics.NewServing(reg))

	go func() {
		loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
		defer cancel()
		_ = srv.load(loadCtx, loader)
	}()

	handler := httpserver.Wrap(logger, service, srv.routes(cfg, reg))
	if err := httpserver.Run(ctx, logger, httpCfg, handler); err != nil {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

// modelLoader reads from AIP_STORAGE_URI when set, otherwise from MODEL_DIR.
func modelLoader(cfg config) (func(context.Context) (*model.Model, error), error) {
	if cfg.StorageURI == "" {
		dir := cfg.ModelDir
		return func(context.Context) (*model.Model, error) { return model.Load(dir) }, nil
	}
	loc, err := objectstore.ParseURI(cfg.StorageURI)
	if err != nil {
		return nil, err
	}
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	store, err := objectstore.NewMinioStore(storeCfg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (*model.Model, error) {
		return model.LoadFromStore(ctx, store, loc.Bucket, loc.Key)
	}, nil
}
