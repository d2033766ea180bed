// Package submit sends compiled workflow documents to a pipeline execution backend.
//
// A submission is a single attempt. Nothing is retried; resubmitting mints a new
// run id. After submission the backend owns the run and it is only observed.
package submit

import (
	"context"
	"errors"
	"net/http"

	"github.com/animus-labs/mlpipe/internal/domain"
)

var (
	ErrJobExists   = errors.New("pipeline job already exists")
	ErrJobNotFound = errors.New("pipeline job not found")
)

// Session is the authenticated context a submission runs under.
type Session interface {
	Check(ctx context.Context) error
	ProjectID() string
	Region() string
	StorageRoot() string
	HTTPClient(ctx context.Context) *http.Client
}

// Backend defines the execution surface a Submitter talks to.
type Backend interface {
	Kind() string
	Submit(ctx context.Context, sess Session, req JobRequest) (BackendRun, error)
	Inspect(ctx context.Context, sess Session, name string) (Observation, error)
}

type JobRequest struct {
	JobID          string
	DisplayName    string
	Project        string
	Location       string
	TemplateURI    string
	Document       []byte
	CachingEnabled bool
	StorageRoot    string
	Labels         map[string]string
}

// BackendRun is what the backend reports on accepting a job.
type BackendRun struct {
	Name  string
	State string
}

type Observation struct {
	Status  domain.RunStatus
	State   string
	Message string
}
