package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/auditlog"
	"github.com/animus-labs/mlpipe/internal/repo"
	"github.com/animus-labs/mlpipe/internal/session"
	"github.com/animus-labs/mlpipe/internal/submit"
	"github.com/google/subcommands"
)

type fakeSession struct{}

func (fakeSession) Check(context.Context) error              { return nil }
func (fakeSession) ProjectID() string                        { return "acme" }
func (fakeSession) Region() string                           { return "europe-west1" }
func (fakeSession) StorageRoot() string                      { return "gs://acme-ml/train_pipeline/run/" }
func (fakeSession) HTTPClient(context.Context) *http.Client { return http.DefaultClient }

type fakeBackend struct {
	mu       sync.Mutex
	requests []submit.JobRequest
	inspect  submit.Observation
	err      error
}

func (b *fakeBackend) Kind() string { return "fake" }

func (b *fakeBackend) Submit(_ context.Context, _ submit.Session, req submit.JobRequest) (submit.BackendRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.err != nil {
		return submit.BackendRun{}, b.err
	}
	return submit.BackendRun{Name: "jobs/" + submit.JobResourceID(req.JobID)}, nil
}

func (b *fakeBackend) Inspect(context.Context, submit.Session, string) (submit.Observation, error) {
	return b.inspect, nil
}

type memoryLedger struct {
	runs   map[string]domain.PipelineRun
	events map[string][]auditlog.Record
}

func (l *memoryLedger) RecordSubmitted(_ context.Context, run domain.PipelineRun) error {
	l.runs[run.ID] = run
	return nil
}

func (l *memoryLedger) RecordStatus(_ context.Context, runID string, _, to domain.RunStatus) error {
	run := l.runs[runID]
	run.Status = to
	l.runs[runID] = run
	return nil
}

func (l *memoryLedger) GetRun(_ context.Context, runID string) (domain.PipelineRun, error) {
	run, ok := l.runs[runID]
	if !ok {
		return domain.PipelineRun{}, repo.ErrNotFound
	}
	return run, nil
}

func (l *memoryLedger) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.PipelineRun, error) {
	var out []domain.PipelineRun
	for _, r := range l.runs {
		if filter.PipelineName == "" || r.PipelineName == filter.PipelineName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memoryLedger) ListRunEvents(_ context.Context, runID string) ([]auditlog.Record, error) {
	return l.events[runID], nil
}

type harness struct {
	app     *app
	out     *bytes.Buffer
	backend *fakeBackend
	ledger  *memoryLedger
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{"MLPIPE_CONFIG", "IMAGE_TAG", "MLPIPE_IMAGE_PREFLIGHT", "MLPIPE_UNIQUE_RUN_IDS", "MLPIPE_UPLOAD_TEMPLATE", "MLPIPE_METRICS_FILE"} {
		t.Setenv(k, "")
	}
	for _, layer := range []string{"01_RAW", "03_PRIMARY", "04_PROCESSING", "05_FEATURES", "06_SCORING"} {
		t.Setenv("LAYER_"+layer, "")
	}
	t.Setenv("PROJECT_ID", "acme")
	t.Setenv("REGION", "europe-west1")
	t.Setenv("REPOSITORY_ID", "models")
	t.Setenv("BUCKET_NAME", "acme-ml")
	t.Setenv("MLPIPE_OUTPUT_DIR", dir)

	h := &harness{
		out:     &bytes.Buffer{},
		backend: &fakeBackend{},
		ledger:  &memoryLedger{runs: map[string]domain.PipelineRun{}, events: map[string][]auditlog.Record{}},
		dir:     dir,
	}
	h.app = newApp(slog.New(slog.NewJSONHandler(io.Discard, nil)), h.out)
	h.app.authenticate = func(context.Context, session.Config) (submit.Session, error) { return fakeSession{}, nil }
	h.app.backend = func() submit.Backend { return h.backend }
	h.app.openLedger = func(context.Context) (repo.RunRepository, func(), error) { return h.ledger, func() {}, nil }
	return h
}

func (h *harness) run(t *testing.T, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet("mlpipe", flag.ContinueOnError)
	cmdr := subcommands.NewCommander(fs, "mlpipe")
	cmdr.Output = io.Discard
	cmdr.Error = io.Discard
	register(cmdr, h.app)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cmdr.Execute(ctx)
}

func TestComponentsCommand(t *testing.T) {
	h := newHarness(t)
	if got := h.run(t, "components", "-pipeline", "deployment"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	want := filepath.Join(h.dir, "pipelines", "deployment", "components", "hyperparameter_tuning.yaml")
	if strings.TrimSpace(h.out.String()) != want {
		t.Fatalf("unexpected output %q", h.out.String())
	}
}

func TestCompileCommand(t *testing.T) {
	h := newHarness(t)
	if got := h.run(t, "compile", "-pipeline", "train_pipeline"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	path := filepath.Join(h.dir, "pipelines", "train_pipeline", "train_pipeline_pipeline.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if !strings.HasPrefix(h.out.String(), path+"\t") {
		t.Fatalf("unexpected output %q", h.out.String())
	}
}

func TestConfigErrorsExitTwo(t *testing.T) {
	h := newHarness(t)
	t.Setenv("BUCKET_NAME", "")
	tests := [][]string{
		{"compile", "-pipeline", "train_pipeline"},
		{"compile"},
		{"compile", "-pipeline", "nope"},
		{"status"},
	}
	for _, args := range tests {
		if got := h.run(t, args...); got != subcommands.ExitUsageError {
			t.Fatalf("%v: exit=%v, want usage error", args, got)
		}
	}
}

func TestRunCompilesAndSubmitsWithoutCaching(t *testing.T) {
	h := newHarness(t)
	if got := h.run(t, "run", "-pipeline", "train_pipeline", "-labels", "team=ml"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	if len(h.backend.requests) != 1 {
		t.Fatalf("expected one submission, got %d", len(h.backend.requests))
	}
	req := h.backend.requests[0]
	if req.CachingEnabled {
		t.Fatalf("run must submit with caching disabled by default")
	}
	if req.Labels["team"] != "ml" || req.Labels["pipeline"] != "train_pipeline" {
		t.Fatalf("unexpected labels %v", req.Labels)
	}
	if len(h.ledger.runs) != 1 {
		t.Fatalf("expected run recorded in ledger")
	}
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "train_pipeline-") {
		t.Fatalf("unexpected output %q", h.out.String())
	}
}

func TestSubmitRequiresCompiledDocument(t *testing.T) {
	h := newHarness(t)
	if got := h.run(t, "submit", "-pipeline", "train_pipeline"); got != subcommands.ExitFailure {
		t.Fatalf("exit=%v, want failure", got)
	}
	if got := h.run(t, "compile", "-pipeline", "train_pipeline"); got != subcommands.ExitSuccess {
		t.Fatalf("compile exit=%v", got)
	}
	if got := h.run(t, "submit", "-pipeline", "train_pipeline"); got != subcommands.ExitSuccess {
		t.Fatalf("submit exit=%v", got)
	}
	if h.backend.requests[0].CachingEnabled {
		t.Fatalf("submit must disable caching by default")
	}
	if got := h.run(t, "submit", "-pipeline", "train_pipeline", "-caching"); got != subcommands.ExitSuccess {
		t.Fatalf("submit -caching exit=%v", got)
	}
	if !h.backend.requests[1].CachingEnabled {
		t.Fatalf("submit -caching must enable caching")
	}
}

func TestSubmitFailureExitsOne(t *testing.T) {
	h := newHarness(t)
	h.backend.err = errors.New("quota exceeded")
	if got := h.run(t, "run", "-pipeline", "deployment"); got != subcommands.ExitFailure {
		t.Fatalf("exit=%v, want failure", got)
	}
	if len(h.backend.requests) != 1 {
		t.Fatalf("submission must not be retried, got %d attempts", len(h.backend.requests))
	}
}

func TestAuthenticationFailureHalts(t *testing.T) {
	h := newHarness(t)
	h.app.authenticate = func(context.Context, session.Config) (submit.Session, error) {
		return nil, domain.Errorf(domain.ErrAuthentication, "no credentials")
	}
	if got := h.run(t, "run", "-pipeline", "deployment"); got != subcommands.ExitFailure {
		t.Fatalf("exit=%v, want failure", got)
	}
	if len(h.backend.requests) != 0 {
		t.Fatalf("nothing may be submitted without credentials")
	}
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t)
	h.ledger.runs["train_pipeline-20240309140507"] = domain.PipelineRun{
		ID:           "train_pipeline-20240309140507",
		PipelineName: "train_pipeline",
		BackendName:  "jobs/train-pipeline-20240309140507",
		Status:       domain.RunStatusPending,
	}
	h.backend.inspect = submit.Observation{Status: domain.RunStatusRunning, State: "PIPELINE_STATE_RUNNING"}

	if got := h.run(t, "status", "train_pipeline-20240309140507"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	if strings.TrimSpace(h.out.String()) != "train_pipeline-20240309140507\trunning" {
		t.Fatalf("unexpected output %q", h.out.String())
	}
	if h.ledger.runs["train_pipeline-20240309140507"].Status != domain.RunStatusRunning {
		t.Fatalf("ledger not updated")
	}

	if got := h.run(t, "status", "unknown-run"); got != subcommands.ExitFailure {
		t.Fatalf("unknown run exit=%v", got)
	}
}

func TestStatusWithoutLedgerNeedsJob(t *testing.T) {
	h := newHarness(t)
	h.app.openLedger = func(context.Context) (repo.RunRepository, func(), error) { return nil, func() {}, nil }
	if got := h.run(t, "status", "r"); got != subcommands.ExitUsageError {
		t.Fatalf("exit=%v, want usage error", got)
	}
	h.backend.inspect = submit.Observation{Status: domain.RunStatusSucceeded}
	if got := h.run(t, "status", "-job", "jobs/r", "-wait", "-interval", "1ms", "r"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	if got := h.run(t, "runs"); got != subcommands.ExitUsageError {
		t.Fatalf("runs without ledger exit=%v", got)
	}
}

func TestRunsCommand(t *testing.T) {
	h := newHarness(t)
	h.ledger.runs["a"] = domain.PipelineRun{ID: "a", PipelineName: "train_pipeline", Status: domain.RunStatusSucceeded}
	if got := h.run(t, "runs", "-pipeline", "train_pipeline"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	if !strings.HasPrefix(h.out.String(), "a\ttrain_pipeline\tsucceeded\t") {
		t.Fatalf("unexpected output %q", h.out.String())
	}
	if got := h.run(t, "runs", "-status", "exploded"); got != subcommands.ExitUsageError {
		t.Fatalf("unknown status exit=%v", got)
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels(" team = ml ,env=dev,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(labels) != 2 || labels["team"] != "ml" || labels["env"] != "dev" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if _, err := parseLabels("broken"); !errors.Is(err, errConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	h := newHarness(t)
	event := auditlog.RunSubmitted("ci", domain.PipelineRun{
		ID:           "r",
		PipelineName: "train_pipeline",
		SubmittedAt:  time.Unix(1700000000, 0).UTC(),
	})
	h.ledger.events["r"] = []auditlog.Record{{EventID: 1, IntegritySHA256: "bogus", Event: event}}

	if got := h.run(t, "history", "r"); got != subcommands.ExitSuccess {
		t.Fatalf("exit=%v", got)
	}
	out := h.out.String()
	if !strings.Contains(out, `"action":"pipeline_run.submitted"`) || !strings.Contains(out, `"verified":false`) {
		t.Fatalf("unexpected output %q", out)
	}
	if got := h.run(t, "history"); got != subcommands.ExitUsageError {
		t.Fatalf("missing run id exit=%v", got)
	}
}
