// Package repo defines the persistence contracts for the run ledger.
package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/platform/auditlog"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type RunFilter struct {
	PipelineName string
	Status       domain.RunStatus
	Limit        int
}

type RunRepository interface {
	RecordSubmitted(ctx context.Context, run domain.PipelineRun) error
	RecordStatus(ctx context.Context, runID string, from, to domain.RunStatus) error
	GetRun(ctx context.Context, runID string) (domain.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.PipelineRun, error)
	ListRunEvents(ctx context.Context, runID string) ([]auditlog.Record, error)
}
