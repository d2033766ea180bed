package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/mlpipe/internal/config"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/pipelines"
	"github.com/animus-labs/mlpipe/internal/platform/env"
	"github.com/animus-labs/mlpipe/internal/platform/metrics"
	"github.com/animus-labs/mlpipe/internal/platform/objectstore"
	"github.com/animus-labs/mlpipe/internal/platform/postgres"
	"github.com/animus-labs/mlpipe/internal/repo"
	repopg "github.com/animus-labs/mlpipe/internal/repo/postgres"
	"github.com/animus-labs/mlpipe/internal/session"
	"github.com/animus-labs/mlpipe/internal/submit"
	"github.com/google/go-containerregistry/pkg/authn"
	gcrgoogle "github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
)

// errConfig marks failures caused by invocation or configuration. They exit 2.
var errConfig = errors.New("configuration error")

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errConfig, fmt.Sprintf(format, args...))
}

// app holds what commands share. Fields holding functions are replaced in tests.
type app struct {
	logger *slog.Logger
	out    io.Writer

	authenticate func(ctx context.Context, cfg session.Config) (submit.Session, error)
	backend      func() submit.Backend
	openLedger   func(ctx context.Context) (repo.RunRepository, func(), error)
	objectStore  func() (objectstore.Store, error)
	preflight    func() *submit.ImagePreflight
}

func newApp(logger *slog.Logger, out io.Writer) *app {
	return &app{
		logger: logger,
		out:    out,
		authenticate: func(ctx context.Context, cfg session.Config) (submit.Session, error) {
			h, err := session.Authenticate(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
		backend: func() submit.Backend {
			var opts []submit.VertexOption
			if u := env.String("MLPIPE_VERTEX_ENDPOINT", ""); u != "" {
				opts = append(opts, submit.WithBaseURL(u))
			}
			return submit.NewVertexBackend(opts...)
		},
		openLedger: openPostgresLedger,
		objectStore: func() (objectstore.Store, error) {
			cfg, err := objectstore.ConfigFromEnv()
			if err != nil {
				return nil, err
			}
			return objectstore.NewMinioStore(cfg)
		},
		preflight: func() *submit.ImagePreflight {
			keychain := authn.NewMultiKeychain(authn.DefaultKeychain, gcrgoogle.Keychain)
			return submit.NewImagePreflight(false, remote.WithAuthFromKeychain(keychain))
		},
	}
}

// openPostgresLedger returns a nil repository when MLPIPE_DATABASE_URL is unset.
func openPostgresLedger(ctx context.Context) (repo.RunRepository, func(), error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, func() {}, configErrorf("%v", err)
	}
	if !cfg.Enabled() {
		return nil, func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("run ledger: %w", err)
	}
	if err := repopg.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, func() {}, fmt.Errorf("run ledger: %w", err)
	}
	return repopg.NewRunStore(db, cfg.Actor), func() { _ = db.Close() }, nil
}

func envConfigPath() string {
	return env.String("MLPIPE_CONFIG", "")
}

// loadConfig reads path, or MLPIPE_CONFIG when path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = envConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, domain.ErrMissingConfiguration) {
			return config.Config{}, err
		}
		return config.Config{}, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

func lookupPipeline(name string) (pipelines.Pipeline, error) {
	if strings.TrimSpace(name) == "" {
		return pipelines.Pipeline{}, configErrorf("-pipeline is required (known: %s)", strings.Join(pipelines.Names(), ", "))
	}
	p, err := pipelines.Get(name)
	if err != nil {
		return pipelines.Pipeline{}, fmt.Errorf("%w: %w", errConfig, err)
	}
	return p, nil
}

// newSubmitter builds a submitter from cfg. reg may be nil.
func (a *app) newSubmitter(cfg config.Config, ledger submit.RunRecorder, reg prometheus.Registerer) (*submit.Submitter, error) {
	opts := []submit.Option{submit.WithLogger(a.logger)}
	if cfg.UniqueRunIDs {
		opts = append(opts, submit.WithUniqueSuffix())
	}
	if cfg.ImagePreflight {
		opts = append(opts, submit.WithImagePreflight(a.preflight()))
	}
	if cfg.UploadTemplate {
		store, err := a.objectStore()
		if err != nil {
			return nil, configErrorf("object store: %v", err)
		}
		opts = append(opts, submit.WithTemplateStore(submit.NewTemplateStore(store)))
	}
	if ledger != nil {
		opts = append(opts, submit.WithLedger(ledger))
	}
	if reg != nil {
		opts = append(opts, submit.WithMetrics(metrics.NewSubmission(reg)))
	}
	return submit.New(a.backend(), opts...)
}

// exit logs err and maps it onto the process exit status.
func (a *app) exit(command string, err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	a.logger.Error("command failed", "command", command, "error", err)
	if errors.Is(err, errConfig) || errors.Is(err, domain.ErrMissingConfiguration) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

// writeMetrics dumps gatherer in the textfile collector format when
// MLPIPE_METRICS_FILE is set.
func (a *app) writeMetrics(gatherer prometheus.Gatherer) {
	path := env.String("MLPIPE_METRICS_FILE", "")
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		a.logger.Warn("write metrics", "path", path, "error", err)
	}
}
