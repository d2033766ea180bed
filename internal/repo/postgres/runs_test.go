package postgres

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/repo"
)

type execResult int64

func (r execResult) LastInsertId() (int64, error) { return 0, nil }
func (r execResult) RowsAffected() (int64, error) { return int64(r), nil }

type execDB struct {
	queries  []string
	args     [][]any
	affected int64
	err      error
}

func (d *execDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	d.queries = append(d.queries, query)
	d.args = append(d.args, args)
	if d.err != nil {
		return nil, d.err
	}
	return execResult(d.affected), nil
}

func (d *execDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (d *execDB) QueryRowContext(context.Context, string, ...any) *sql.Row {
	panic("unexpected QueryRowContext")
}

func TestRunQueries(t *testing.T) {
	if !strings.Contains(insertRunQuery, "ON CONFLICT (run_id) DO NOTHING") {
		t.Fatalf("expected idempotent insert")
	}
	if !strings.Contains(updateRunStatusQuery, "WHERE run_id = $1 AND status = $2") {
		t.Fatalf("expected compare-and-set predicate in status update")
	}
	if !strings.Contains(selectRunByIDQuery, "run_id = $1") {
		t.Fatalf("expected run_id predicate in lookup query")
	}
	if !strings.Contains(selectRunEventsQuery, "resource_type = $1 AND resource_id = $2") || !strings.Contains(selectRunEventsQuery, "ORDER BY event_id ASC") {
		t.Fatalf("expected run events ordered oldest first")
	}
	if !strings.Contains(schemaQuery, "CREATE TABLE IF NOT EXISTS pipeline_runs") || !strings.Contains(schemaQuery, "CREATE TABLE IF NOT EXISTS audit_events") {
		t.Fatalf("expected ledger tables in schema")
	}
}

func TestListRunsQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter repo.RunFilter
		where  string
		args   []any
	}{
		{name: "all", filter: repo.RunFilter{}, where: "", args: []any{}},
		{name: "pipeline", filter: repo.RunFilter{PipelineName: " train_pipeline "}, where: " WHERE pipeline_name = $1", args: []any{"train_pipeline"}},
		{
			name:   "pipeline status limit",
			filter: repo.RunFilter{PipelineName: "train_pipeline", Status: domain.RunStatusRunning, Limit: 5},
			where:  " WHERE pipeline_name = $1 AND status = $2",
			args:   []any{"train_pipeline", "running", 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := listRunsQuery(tt.filter)
			if !strings.HasPrefix(query, selectRunColumns+tt.where+" ORDER BY submitted_at DESC") {
				t.Fatalf("unexpected query %q", query)
			}
			if tt.filter.Limit > 0 && !strings.HasSuffix(query, "LIMIT $3") {
				t.Fatalf("expected limit placeholder in %q", query)
			}
			if !reflect.DeepEqual(args, tt.args) {
				t.Fatalf("unexpected args %v", args)
			}
		})
	}
}

func TestRecordSubmittedSkipsAuditWhenAlreadyRecorded(t *testing.T) {
	db := &execDB{affected: 0}
	store := NewRunStore(db, "")
	run := domain.PipelineRun{
		ID:             "train_pipeline-20240309140507",
		PipelineName:   "train_pipeline",
		DocumentSHA256: "abc",
		BackendName:    "projects/p/locations/r/pipelineJobs/x",
	}
	if err := store.RecordSubmitted(context.Background(), run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(db.queries) != 1 || db.queries[0] != insertRunQuery {
		t.Fatalf("unexpected queries %v", db.queries)
	}
	if status := db.args[0][7]; status != "pending" {
		t.Fatalf("expected pending default, got %v", status)
	}
	if at, ok := db.args[0][8].(time.Time); !ok || at.IsZero() {
		t.Fatalf("expected submitted_at to be set, got %v", db.args[0][8])
	}
}

func TestRecordSubmittedValidation(t *testing.T) {
	store := NewRunStore(&execDB{}, "ci")
	if err := store.RecordSubmitted(context.Background(), domain.PipelineRun{PipelineName: "p"}); err == nil {
		t.Fatalf("expected missing run id error")
	}
	if err := store.RecordSubmitted(context.Background(), domain.PipelineRun{ID: "r"}); err == nil {
		t.Fatalf("expected missing pipeline error")
	}
	var nilStore *RunStore
	if err := nilStore.RecordSubmitted(context.Background(), domain.PipelineRun{ID: "r"}); err == nil {
		t.Fatalf("expected uninitialized store error")
	}
	if NewRunStore(nil, "ci") != nil {
		t.Fatalf("expected nil store for nil db")
	}
}

func TestRecordStatusConflicts(t *testing.T) {
	db := &execDB{affected: 0}
	store := NewRunStore(db, "ci")
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	err := store.RecordStatus(context.Background(), "r", domain.RunStatusPending, domain.RunStatusRunning)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale status, got %v", err)
	}
	if want := []any{"r", "pending", "running", time.Unix(1700000000, 0).UTC()}; !reflect.DeepEqual(db.args[0], want) {
		t.Fatalf("unexpected args %v", db.args[0])
	}

	err = store.RecordStatus(context.Background(), "r", domain.RunStatusSucceeded, domain.RunStatusRunning)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict for backward transition, got %v", err)
	}
	if len(db.queries) != 1 {
		t.Fatalf("backward transition must not reach the database")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &execDB{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(db.queries) != 1 || db.queries[0] != schemaQuery {
		t.Fatalf("unexpected queries %v", db.queries)
	}
	db.err = errors.New("boom")
	if err := EnsureSchema(context.Background(), db); err == nil {
		t.Fatalf("expected error")
	}
}
