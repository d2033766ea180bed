package auditlog

import (
	"time"

	"github.com/animus-labs/mlpipe/internal/domain"
)

const (
	ActionRunSubmitted     = "pipeline_run.submitted"
	ActionRunStatusChanged = "pipeline_run.status_changed"

	ResourcePipelineRun = "pipeline_run"
)

// RunSubmitted describes a run accepted by the execution backend.
func RunSubmitted(actor string, run domain.PipelineRun) Event {
	return Event{
		OccurredAt:   run.SubmittedAt,
		Actor:        actor,
		Action:       ActionRunSubmitted,
		ResourceType: ResourcePipelineRun,
		ResourceID:   run.ID,
		Payload: map[string]any{
			"pipeline":        run.PipelineName,
			"document_path":   run.DocumentPath,
			"document_sha256": run.DocumentSHA256,
			"template_uri":    run.TemplateURI,
			"backend_name":    run.BackendName,
			"caching":         run.CachingEnabled,
		},
	}
}

// RunStatusChanged describes an observed forward status transition.
func RunStatusChanged(actor, runID string, from, to domain.RunStatus, at time.Time) Event {
	return Event{
		OccurredAt:   at,
		Actor:        actor,
		Action:       ActionRunStatusChanged,
		ResourceType: ResourcePipelineRun,
		ResourceID:   runID,
		Payload: map[string]any{
			"from": string(from),
			"to":   string(to),
		},
	}
}
