package postgres

import (
	"context"
	"fmt"
)

const schemaQuery = `CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id TEXT PRIMARY KEY,
	pipeline_name TEXT NOT NULL,
	document_path TEXT,
	document_sha256 TEXT NOT NULL,
	template_uri TEXT,
	backend_name TEXT NOT NULL,
	caching_enabled BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_runs_pipeline_idx ON pipeline_runs (pipeline_name, submitted_at DESC);
CREATE TABLE IF NOT EXISTS audit_events (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	request_id TEXT,
	payload JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
);`

// EnsureSchema creates the ledger tables when they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if _, err := db.ExecContext(ctx, schemaQuery); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
