package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/mlpipe/internal/compiler"
	"github.com/animus-labs/mlpipe/internal/config"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/pipelines"
	"github.com/animus-labs/mlpipe/internal/platform/auditlog"
	"github.com/animus-labs/mlpipe/internal/platform/filewatch"
	"github.com/animus-labs/mlpipe/internal/repo"
	"github.com/animus-labs/mlpipe/internal/submit"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
)

// commonFlags are shared by every command that needs a pipeline and its config.
type commonFlags struct {
	config   string
	pipeline string
}

func (f *commonFlags) set(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "pipeline config file (default $MLPIPE_CONFIG)")
	fs.StringVar(&f.pipeline, "pipeline", "", "pipeline name: "+strings.Join(pipelines.Names(), ", "))
}

func (f *commonFlags) load() (config.Config, pipelines.Pipeline, error) {
	p, err := lookupPipeline(f.pipeline)
	if err != nil {
		return config.Config{}, pipelines.Pipeline{}, err
	}
	cfg, err := loadConfig(f.config)
	if err != nil {
		return config.Config{}, pipelines.Pipeline{}, err
	}
	return cfg, p, nil
}

type componentsCmd struct {
	app *app
	commonFlags
}

func (*componentsCmd) Name() string     { return "components" }
func (*componentsCmd) Synopsis() string { return "write component descriptors of a pipeline" }
func (*componentsCmd) Usage() string {
	return "components -pipeline NAME [-config FILE]\n\n  Writes pipelines/NAME/components/*.yaml under the output directory.\n\n"
}
func (c *componentsCmd) SetFlags(fs *flag.FlagSet) { c.commonFlags.set(fs) }

func (c *componentsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run())
}

func (c *componentsCmd) run() error {
	cfg, p, err := c.load()
	if err != nil {
		return err
	}
	paths, err := p.WriteComponents(cfg)
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintln(c.app.out, path)
	}
	return nil
}

type compileCmd struct {
	app *app
	commonFlags
}

func (*compileCmd) Name() string     { return "compile" }
func (*compileCmd) Synopsis() string { return "compile a pipeline into its workflow document" }
func (*compileCmd) Usage() string {
	return "compile -pipeline NAME [-config FILE]\n\n  Writes pipelines/NAME/NAME_pipeline.json and prints its path and sha256.\n\n"
}
func (c *compileCmd) SetFlags(fs *flag.FlagSet) { c.commonFlags.set(fs) }

func (c *compileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, p, err := c.load()
	if err != nil {
		return c.app.exit(c.Name(), err)
	}
	_, err = c.app.compile(cfg, p)
	return c.app.exit(c.Name(), err)
}

func (a *app) compile(cfg config.Config, p pipelines.Pipeline) (compiler.Document, error) {
	doc, g, err := p.Compile(cfg)
	if err != nil {
		return compiler.Document{}, err
	}
	for _, w := range g.Warnings() {
		a.logger.Warn("pipeline warning", "pipeline", p.Name, "warning", w)
	}
	path := p.DocumentPath(cfg)
	a.logger.Info("pipeline compiled", "pipeline", p.Name, "path", path, "sha256", doc.SHA256())
	fmt.Fprintf(a.out, "%s\t%s\n", path, doc.SHA256())
	return doc, nil
}

// submitFlags configure a submission and optional wait for completion.
type submitFlags struct {
	caching  bool
	wait     bool
	interval time.Duration
	labels   string
}

func (f *submitFlags) set(fs *flag.FlagSet) {
	fs.BoolVar(&f.caching, "caching", false, "let the backend reuse cached step results")
	fs.BoolVar(&f.wait, "wait", false, "poll until the run finishes")
	fs.DurationVar(&f.interval, "interval", 30*time.Second, "polling interval with -wait")
	fs.StringVar(&f.labels, "labels", "", "extra run labels as k=v,k=v")
}

func parseLabels(raw string) (map[string]string, error) {
	labels := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, configErrorf("invalid label %q, want k=v", pair)
		}
		labels[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return labels, nil
}

// submitDocument submits doc under a fresh session and prints the run.
func (a *app) submitDocument(ctx context.Context, cfg config.Config, p pipelines.Pipeline, doc compiler.Document, docPath string, f submitFlags) error {
	labels, err := parseLabels(f.labels)
	if err != nil {
		return err
	}
	sess, err := a.authenticate(ctx, cfg.Session(p.Name))
	if err != nil {
		return err
	}
	ledger, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	reg := prometheus.NewRegistry()
	defer a.writeMetrics(reg)

	var recorder submit.RunRecorder
	if ledger != nil {
		recorder = ledger
	}
	s, err := a.newSubmitter(cfg, recorder, reg)
	if err != nil {
		return err
	}
	run, err := s.Submit(ctx, doc, sess, p.Name, f.caching, submit.WithDocumentPath(docPath), submit.WithLabels(labels))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", run.ID, run.BackendName, run.Status)
	if !f.wait {
		return nil
	}
	return a.wait(ctx, s, sess, run, f.interval)
}

func (a *app) wait(ctx context.Context, s *submit.Submitter, sess submit.Session, run domain.PipelineRun, interval time.Duration) error {
	final, err := s.Wait(ctx, sess, run, interval)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\n", final.ID, final.Status)
	if final.Status != domain.RunStatusSucceeded {
		return fmt.Errorf("run %s finished %s", final.ID, final.Status)
	}
	return nil
}

type submitCmd struct {
	app *app
	commonFlags
	submitFlags
	document string
}

func (*submitCmd) Name() string     { return "submit" }
func (*submitCmd) Synopsis() string { return "submit a compiled workflow document" }
func (*submitCmd) Usage() string {
	return "submit -pipeline NAME [-config FILE] [-document FILE] [-caching] [-wait]\n\n  Submits once with caching disabled unless asked. A failed submission is not retried.\n\n"
}

func (c *submitCmd) SetFlags(fs *flag.FlagSet) {
	c.commonFlags.set(fs)
	c.submitFlags.set(fs)
	fs.StringVar(&c.document, "document", "", "workflow document (default: the compile output path)")
}

func (c *submitCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run(ctx))
}

func (c *submitCmd) run(ctx context.Context) error {
	cfg, p, err := c.load()
	if err != nil {
		return err
	}
	path := c.document
	if path == "" {
		path = p.DocumentPath(cfg)
	}
	doc, err := compiler.Load(path)
	if err != nil {
		return err
	}
	return c.app.submitDocument(ctx, cfg, p, doc, path, c.submitFlags)
}

type runCmd struct {
	app *app
	commonFlags
	submitFlags
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "compile a pipeline and submit it" }
func (*runCmd) Usage() string {
	return "run -pipeline NAME [-config FILE] [-caching] [-wait]\n\n  Compiles, then submits the fresh document with caching disabled unless asked.\n\n"
}

func (c *runCmd) SetFlags(fs *flag.FlagSet) {
	c.commonFlags.set(fs)
	c.submitFlags.set(fs)
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run(ctx))
}

func (c *runCmd) run(ctx context.Context) error {
	cfg, p, err := c.load()
	if err != nil {
		return err
	}
	doc, err := c.app.compile(cfg, p)
	if err != nil {
		return err
	}
	return c.app.submitDocument(ctx, cfg, p, doc, p.DocumentPath(cfg), c.submitFlags)
}

type statusCmd struct {
	app      *app
	config   string
	job      string
	wait     bool
	interval time.Duration
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show the status of a submitted run" }
func (*statusCmd) Usage() string {
	return "status [-config FILE] [-job NAME] [-wait] RUN_ID\n\n  Without -job the backend job name is looked up in the run ledger.\n\n"
}

func (c *statusCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "pipeline config file (default $MLPIPE_CONFIG)")
	fs.StringVar(&c.job, "job", "", "backend job resource name")
	fs.BoolVar(&c.wait, "wait", false, "poll until the run finishes")
	fs.DurationVar(&c.interval, "interval", 30*time.Second, "polling interval with -wait")
}

func (c *statusCmd) Execute(ctx context.Context, fs *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run(ctx, fs.Args()))
}

func (c *statusCmd) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return configErrorf("status takes exactly one RUN_ID")
	}
	runID := args[0]
	cfg, err := loadConfig(c.config)
	if err != nil {
		return err
	}
	ledger, closeLedger, err := c.app.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	run := domain.PipelineRun{ID: runID, BackendName: c.job, Status: domain.RunStatusPending}
	if ledger != nil {
		stored, err := ledger.GetRun(ctx, runID)
		switch {
		case err == nil:
			run = stored
			if c.job != "" {
				run.BackendName = c.job
			}
		case c.job == "":
			return fmt.Errorf("look up run %s: %w", runID, err)
		}
	}
	if run.BackendName == "" {
		return configErrorf("-job is required when the run ledger is not configured")
	}

	pipeline := run.PipelineName
	sess, err := c.app.authenticate(ctx, cfg.Session(pipeline))
	if err != nil {
		return err
	}
	var recorder submit.RunRecorder
	if ledger != nil {
		recorder = ledger
	}
	s, err := c.app.newSubmitter(config.Config{}, recorder, nil)
	if err != nil {
		return err
	}
	if c.wait {
		return c.app.wait(ctx, s, sess, run, c.interval)
	}
	observed, err := s.Observe(ctx, sess, run)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.app.out, "%s\t%s\n", observed.ID, observed.Status)
	return nil
}

type runsCmd struct {
	app      *app
	pipeline string
	status   string
	limit    int
}

func (*runsCmd) Name() string     { return "runs" }
func (*runsCmd) Synopsis() string { return "list runs recorded in the run ledger" }
func (*runsCmd) Usage() string {
	return "runs [-pipeline NAME] [-status STATUS] [-limit N]\n\n  Requires MLPIPE_DATABASE_URL.\n\n"
}

func (c *runsCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.pipeline, "pipeline", "", "only runs of this pipeline")
	fs.StringVar(&c.status, "status", "", "only runs in this status: "+strings.Join(knownStatuses(), ", "))
	fs.IntVar(&c.limit, "limit", 20, "maximum number of runs")
}

func (c *runsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run(ctx))
}

func (c *runsCmd) run(ctx context.Context) error {
	ledger, closeLedger, err := c.app.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()
	if ledger == nil {
		return configErrorf("MLPIPE_DATABASE_URL is not set")
	}
	filter := repo.RunFilter{PipelineName: c.pipeline, Limit: c.limit}
	if c.status != "" {
		filter.Status = domain.NormalizeRunStatus(c.status)
		if filter.Status == "" {
			return configErrorf("unknown status %q", c.status)
		}
	}
	runs, err := ledger.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(c.app.out, "%s\t%s\t%s\t%s\n", r.ID, r.PipelineName, r.Status, r.SubmittedAt.Format(time.RFC3339))
	}
	return nil
}

type historyCmd struct {
	app *app
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print the audit trail of a run as NDJSON" }
func (*historyCmd) Usage() string {
	return "history RUN_ID\n\n  Each line carries a verified flag from recomputing the event's integrity hash.\n  Requires MLPIPE_DATABASE_URL.\n\n"
}
func (*historyCmd) SetFlags(*flag.FlagSet) {}

func (c *historyCmd) Execute(ctx context.Context, fs *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run(ctx, fs.Args()))
}

func (c *historyCmd) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return configErrorf("history takes exactly one RUN_ID")
	}
	ledger, closeLedger, err := c.app.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()
	if ledger == nil {
		return configErrorf("MLPIPE_DATABASE_URL is not set")
	}
	records, err := ledger.ListRunEvents(ctx, args[0])
	if err != nil {
		return err
	}
	exp := auditlog.NewNDJSONExporter(c.app.out)
	for _, rec := range records {
		if err := rec.Verify(); err != nil {
			c.app.logger.Warn("audit event failed verification", "run_id", args[0], "event_id", rec.EventID, "error", err)
		}
		if err := exp.Export(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

type watchCmd struct {
	app *app
	commonFlags
	settle time.Duration
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "recompile a pipeline whenever its config file changes" }
func (*watchCmd) Usage() string {
	return "watch -pipeline NAME -config FILE\n\n  Compiles once, then again on every change to FILE until interrupted.\n\n"
}

func (c *watchCmd) SetFlags(fs *flag.FlagSet) {
	c.commonFlags.set(fs)
	fs.DurationVar(&c.settle, "settle", 200*time.Millisecond, "wait this long after a change before recompiling")
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.app.exit(c.Name(), c.run(ctx))
}

func (c *watchCmd) run(ctx context.Context) error {
	cfg, p, err := c.load()
	if err != nil {
		return err
	}
	path := c.config
	if path == "" {
		path = envConfigPath()
	}
	if path == "" {
		return configErrorf("watch needs -config or MLPIPE_CONFIG")
	}
	if _, err := c.app.compile(cfg, p); err != nil {
		return err
	}
	return filewatch.OnChange(ctx, c.settle, func(context.Context) error {
		cfg, err := loadConfig(path)
		if err != nil {
			c.app.logger.Error("reload config", "path", path, "error", err)
			return nil
		}
		if _, err := c.app.compile(cfg, p); err != nil {
			c.app.logger.Error("recompile", "pipeline", p.Name, "error", err)
		}
		return nil
	}, path)
}

// register adds every command to cmdr.
func register(cmdr *subcommands.Commander, a *app) {
	cmdr.Register(cmdr.HelpCommand(), "")
	cmdr.Register(cmdr.FlagsCommand(), "")
	cmdr.Register(cmdr.CommandsCommand(), "")

	for _, c := range []subcommands.Command{
		&componentsCmd{app: a},
		&compileCmd{app: a},
		&watchCmd{app: a},
	} {
		cmdr.Register(c, "build")
	}
	for _, c := range []subcommands.Command{
		&submitCmd{app: a},
		&runCmd{app: a},
		&statusCmd{app: a},
		&runsCmd{app: a},
		&historyCmd{app: a},
	} {
		cmdr.Register(c, "runs")
	}
}

func knownStatuses() []string {
	s := []string{
		string(domain.RunStatusPending),
		string(domain.RunStatusRunning),
		string(domain.RunStatusSucceeded),
		string(domain.RunStatusFailed),
		string(domain.RunStatusCancelled),
	}
	sort.Strings(s)
	return s
}
