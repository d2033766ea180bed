package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/auditlog"
	"github.com/animus-labs/mlpipe/internal/repo"
)

const (
	insertRunQuery = `INSERT INTO pipeline_runs (
	run_id,
	pipeline_name,
	document_path,
	document_sha256,
	template_uri,
	backend_name,
	caching_enabled,
	status,
	submitted_at,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (run_id) DO NOTHING`

	updateRunStatusQuery = `UPDATE pipeline_runs
	SET status = $3, updated_at = $4
	WHERE run_id = $1 AND status = $2`

	selectRunColumns = `SELECT run_id, pipeline_name, document_path, document_sha256, template_uri,
	backend_name, caching_enabled, status, submitted_at
	FROM pipeline_runs`

	selectRunByIDQuery = selectRunColumns + ` WHERE run_id = $1`

	selectRunEventsQuery = `SELECT event_id, occurred_at, actor, action, resource_type, resource_id,
	request_id, payload, integrity_sha256
	FROM audit_events
	WHERE resource_type = $1 AND resource_id = $2
	ORDER BY event_id ASC`
)

// RunStore is the Postgres-backed run ledger.
type RunStore struct {
	db    DB
	actor string
	now   func() time.Time
}

func NewRunStore(db DB, actor string) *RunStore {
	if db == nil {
		return nil
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "mlpipe"
	}
	return &RunStore{db: db, actor: actor, now: time.Now}
}

func (s *RunStore) RecordSubmitted(ctx context.Context, run domain.PipelineRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(run.PipelineName) == "" {
		return fmt.Errorf("pipeline name is required")
	}
	status := run.Status
	if status == "" {
		status = domain.RunStatusPending
	}
	run.SubmittedAt = normalizeTime(run.SubmittedAt)

	return s.inTx(ctx, func(q DB) error {
		return recordSubmitted(ctx, q, s.actor, run, status)
	})
}

func recordSubmitted(ctx context.Context, q DB, actor string, run domain.PipelineRun, status domain.RunStatus) error {
	res, err := q.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.PipelineName),
		nullIfEmpty(run.DocumentPath),
		strings.TrimSpace(run.DocumentSHA256),
		nullIfEmpty(run.TemplateURI),
		strings.TrimSpace(run.BackendName),
		run.CachingEnabled,
		string(status),
		run.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Already recorded.
		return nil
	}
	if _, err := auditlog.Insert(ctx, q, auditlog.RunSubmitted(actor, run)); err != nil {
		return err
	}
	return nil
}

// RecordStatus moves a run from one status to the next. The update only
// applies while the stored status still equals from.
func (s *RunStore) RecordStatus(ctx context.Context, runID string, from, to domain.RunStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if !domain.CanTransitionRunStatus(from, to) {
		return fmt.Errorf("%w: %s -> %s", repo.ErrConflict, from, to)
	}
	at := s.now().UTC()
	return s.inTx(ctx, func(q DB) error {
		res, err := q.ExecContext(ctx, updateRunStatusQuery, runID, string(from), string(to), at)
		if err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: run %s is not %s", repo.ErrConflict, runID, from)
		}
		if _, err := auditlog.Insert(ctx, q, auditlog.RunStatusChanged(s.actor, runID, from, to, at)); err != nil {
			return err
		}
		return nil
	})
}

// inTx runs fn so that a ledger row and its audit event commit together. A DB
// that cannot begin transactions (such as a *sql.Tx owned by the caller) is used as is.
func (s *RunStore) inTx(ctx context.Context, fn func(q DB) error) error {
	beginner, ok := s.db.(TxBeginner)
	if !ok {
		return fn(s.db)
	}
	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	if s == nil || s.db == nil {
		return domain.PipelineRun{}, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.PipelineRun{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunByIDQuery, runID))
	if err != nil {
		return domain.PipelineRun{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.PipelineRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query, args := listRunsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.PipelineRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func listRunsQuery(filter repo.RunFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if name := strings.TrimSpace(filter.PipelineName); name != "" {
		args = append(args, name)
		clauses = append(clauses, fmt.Sprintf("pipeline_name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := selectRunColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY submitted_at DESC, run_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var documentPath sql.NullString
	var templateURI sql.NullString
	var status string
	if err := row.Scan(&run.ID, &run.PipelineName, &documentPath, &run.DocumentSHA256, &templateURI,
		&run.BackendName, &run.CachingEnabled, &status, &run.SubmittedAt); err != nil {
		return domain.PipelineRun{}, err
	}
	run.DocumentPath = documentPath.String
	run.TemplateURI = templateURI.String
	run.Status = domain.NormalizeRunStatus(status)
	run.SubmittedAt = run.SubmittedAt.UTC()
	return run, nil
}

// ListRunEvents returns the audit trail of a run, oldest first.
func (s *RunStore) ListRunEvents(ctx context.Context, runID string) ([]auditlog.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, selectRunEventsQuery, auditlog.ResourcePipelineRun, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	records := make([]auditlog.Record, 0)
	for rows.Next() {
		var rec auditlog.Record
		var requestID sql.NullString
		var payload []byte
		if err := rows.Scan(&rec.EventID, &rec.OccurredAt, &rec.Actor, &rec.Action, &rec.ResourceType,
			&rec.ResourceID, &requestID, &payload, &rec.IntegritySHA256); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		rec.RequestID = requestID.String
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return records, nil
}
