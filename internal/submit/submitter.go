package submit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/mlpipe/internal/compiler"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/metrics"
)

type Submitter struct {
	backend   Backend
	now       func() time.Time
	suffix    func() string
	logger    *slog.Logger
	preflight *ImagePreflight
	templates *TemplateStore
	ledger    RunRecorder
	metrics   *metrics.Submission
}

type Option func(*Submitter)

// WithUniqueSuffix appends eight random hex characters to every run id so that
// submissions within the same second do not collide.
func WithUniqueSuffix() Option {
	return func(s *Submitter) { s.suffix = randomSuffix }
}

func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) { s.logger = logger }
}

func WithImagePreflight(p *ImagePreflight) Option {
	return func(s *Submitter) { s.preflight = p }
}

func WithTemplateStore(t *TemplateStore) Option {
	return func(s *Submitter) { s.templates = t }
}

func WithLedger(r RunRecorder) Option {
	return func(s *Submitter) { s.ledger = r }
}

func WithMetrics(m *metrics.Submission) Option {
	return func(s *Submitter) { s.metrics = m }
}

func New(backend Backend, opts ...Option) (*Submitter, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	s := &Submitter{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

type submitOptions struct {
	documentPath string
	labels       map[string]string
}

type SubmitOption func(*submitOptions)

// WithDocumentPath records where the document was loaded from.
func WithDocumentPath(path string) SubmitOption {
	return func(o *submitOptions) { o.documentPath = path }
}

// WithLabels attaches extra run labels. Keys and values are rewritten to the
// backend's label charset; a key that sanitizes to empty is dropped.
func WithLabels(labels map[string]string) SubmitOption {
	return func(o *submitOptions) {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if key := labelKey(k); key != "" {
				o.labels[key] = labelValue(labels[k])
			}
		}
	}
}

// Submit hands doc to the backend exactly once and returns the pending run.
func (s *Submitter) Submit(ctx context.Context, doc compiler.Document, sess Session, pipelineName string, caching bool, opts ...SubmitOption) (domain.PipelineRun, error) {
	start := s.now()
	run, err := s.submit(ctx, doc, sess, strings.TrimSpace(pipelineName), caching, opts)
	s.metrics.Observe(pipelineName, s.now().Sub(start).Seconds(), err)
	if err != nil {
		s.logger.Error("pipeline submission failed", "pipeline", pipelineName, "run_id", run.ID, "error", err)
		return domain.PipelineRun{}, err
	}
	s.logger.Info("pipeline submitted",
		"pipeline", run.PipelineName,
		"run_id", run.ID,
		"backend", s.backend.Kind(),
		"backend_name", run.BackendName,
		"caching", run.CachingEnabled,
		"document_sha256", run.DocumentSHA256,
	)
	return run, nil
}

func (s *Submitter) submit(ctx context.Context, doc compiler.Document, sess Session, pipelineName string, caching bool, opts []SubmitOption) (domain.PipelineRun, error) {
	o := submitOptions{labels: map[string]string{}}
	for _, opt := range opts {
		opt(&o)
	}

	if pipelineName == "" {
		return domain.PipelineRun{}, domain.Errorf(domain.ErrSubmission, "pipeline name is required")
	}
	if len(doc.Bytes()) == 0 {
		return domain.PipelineRun{}, domain.Errorf(domain.ErrSubmission, "workflow document is empty")
	}
	if doc.PipelineName() != pipelineName {
		return domain.PipelineRun{}, domain.Errorf(domain.ErrSubmission, "document was compiled for %q, not %q", doc.PipelineName(), pipelineName)
	}
	if sess == nil {
		return domain.PipelineRun{}, domain.Errorf(domain.ErrSessionExpired, "no session")
	}
	if err := sess.Check(ctx); err != nil {
		return domain.PipelineRun{}, err
	}

	submittedAt := s.now().UTC()
	run := domain.PipelineRun{
		ID:             RunID(pipelineName, submittedAt),
		PipelineName:   pipelineName,
		DocumentPath:   o.documentPath,
		CachingEnabled: caching,
		SubmittedAt:    submittedAt,
	}
	if s.suffix != nil {
		run.ID += "-" + s.suffix()
	}

	if s.preflight != nil {
		if err := s.preflight.Check(ctx, doc); err != nil {
			return run, err
		}
	}

	doc, err := doc.WithCaching(caching)
	if err != nil {
		return run, domain.Wrap(domain.ErrSubmission, err, "apply caching option")
	}
	run.DocumentSHA256 = doc.SHA256()

	storageRoot := doc.StorageRoot()
	if storageRoot == "" {
		storageRoot = sess.StorageRoot()
	}
	if s.templates != nil {
		uri, err := s.templates.Upload(ctx, storageRoot, doc)
		if err != nil {
			return run, err
		}
		run.TemplateURI = uri
	}

	o.labels["pipeline"] = labelValue(pipelineName)
	req := JobRequest{
		JobID:          run.ID,
		DisplayName:    pipelineName,
		Project:        sess.ProjectID(),
		Location:       sess.Region(),
		TemplateURI:    run.TemplateURI,
		CachingEnabled: caching,
		StorageRoot:    storageRoot,
		Labels:         o.labels,
	}
	if req.TemplateURI == "" {
		req.Document = doc.Bytes()
	}

	accepted, err := s.backend.Submit(ctx, sess, req)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			return run, err
		}
		return run, domain.Wrap(domain.ErrSubmission, err, "%s backend", s.backend.Kind())
	}
	run.BackendName = accepted.Name
	run.Status = domain.RunStatusPending

	if s.ledger != nil {
		if err := s.ledger.RecordSubmitted(ctx, run); err != nil {
			s.logger.Warn("record submitted run", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

// Observe asks the backend for the run's current status. Status only moves forward;
// a backward observation is logged and ignored.
func (s *Submitter) Observe(ctx context.Context, sess Session, run domain.PipelineRun) (domain.PipelineRun, error) {
	if strings.TrimSpace(run.BackendName) == "" {
		return run, domain.Errorf(domain.ErrSubmission, "run %q has no backend name", run.ID)
	}
	if sess == nil {
		return run, domain.Errorf(domain.ErrSessionExpired, "no session")
	}
	if err := sess.Check(ctx); err != nil {
		return run, err
	}
	obs, err := s.backend.Inspect(ctx, sess, run.BackendName)
	if err != nil {
		return run, err
	}
	if obs.Status == "" || obs.Status == run.Status {
		return run, nil
	}
	current := run.Status
	if current == "" {
		current = domain.RunStatusPending
	}
	if !domain.CanTransitionRunStatus(current, obs.Status) {
		s.logger.Warn("ignoring backward run status", "run_id", run.ID, "from", current, "to", obs.Status)
		return run, nil
	}
	if s.ledger != nil {
		if err := s.ledger.RecordStatus(ctx, run.ID, current, obs.Status); err != nil {
			s.logger.Warn("record run status", "run_id", run.ID, "error", err)
		}
	}
	s.logger.Info("run status changed", "run_id", run.ID, "from", current, "to", obs.Status, "state", obs.State)
	run.Status = obs.Status
	return run, nil
}

// Wait polls Observe every interval until the run reaches a terminal status or ctx ends.
func (s *Submitter) Wait(ctx context.Context, sess Session, run domain.PipelineRun, interval time.Duration) (domain.PipelineRun, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		next, err := s.Observe(ctx, sess, run)
		if err != nil {
			return run, err
		}
		run = next
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// labelKey is labelValue for keys, which must also start with a letter.
func labelKey(k string) string {
	out := labelValue(strings.TrimSpace(k))
	if out != "" && (out[0] < 'a' || out[0] > 'z') {
		out = labelValue("l" + out)
	}
	return out
}

// labelValue lowercases v and replaces characters labels do not allow.
func labelValue(v string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(v) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > 63 {
		out = out[:63]
	}
	return out
}
