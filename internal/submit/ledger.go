package submit

import (
	"context"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// RunRecorder persists submitted runs and their observed status changes.
type RunRecorder interface {
	RecordSubmitted(ctx context.Context, run domain.PipelineRun) error
	RecordStatus(ctx context.Context, runID string, from, to domain.RunStatus) error
}
