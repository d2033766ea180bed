package domain

import (
	"strings"
	"time"
)

// Edge is a dependency between two pipeline nodes: Downstream starts after Upstream completes.
type Edge struct {
	Upstream   string
	Downstream string
	Binding    *Binding
}

// Binding hands the upstream node's named output to the downstream node's named input.
// It is resolved by the execution backend at run time.
type Binding struct {
	Output string
	Input  string
}

func (e Edge) Equal(other Edge) bool {
	if e.Upstream != other.Upstream || e.Downstream != other.Downstream {
		return false
	}
	if e.Binding == nil || other.Binding == nil {
		return e.Binding == nil && other.Binding == nil
	}
	return *e.Binding == *other.Binding
}

// RootConfig is the pipeline-wide configuration serialized with the graph.
type RootConfig struct {
	StorageRoot string
	Description string
}

// RunStatus is the backend-assigned state of a submitted pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// NormalizeRunStatus maps free-form status values to canonical run statuses.
func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatusPending), "queued", "submitted":
		return RunStatusPending
	case string(RunStatusRunning):
		return RunStatusRunning
	case string(RunStatusSucceeded):
		return RunStatusSucceeded
	case string(RunStatusFailed):
		return RunStatusFailed
	case string(RunStatusCancelled), "canceled":
		return RunStatusCancelled
	default:
		return ""
	}
}

func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// CanTransitionRunStatus enforces forward-only status progression.
func CanTransitionRunStatus(current, next RunStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return runStatusOrder(current) < runStatusOrder(next)
}

func runStatusOrder(status RunStatus) int {
	switch status {
	case RunStatusPending:
		return 1
	case RunStatusRunning:
		return 2
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return 3
	default:
		return 0
	}
}

// PipelineRun is one submitted instantiation of a compiled workflow document.
// The backend owns it after submission; locally it is only observed.
type PipelineRun struct {
	ID             string
	PipelineName   string
	DocumentPath   string
	DocumentSHA256 string
	TemplateURI    string
	BackendName    string
	CachingEnabled bool
	Status         RunStatus
	SubmittedAt    time.Time
}
