package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
)

// APIError is a non-success response the backend did not classify further.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("pipeline api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("pipeline api error (status=%d): %s", e.StatusCode, body)
}

// VertexBackend submits pipeline jobs to the Vertex AI Pipelines REST API.
//
// The job carries the mlpipe.workflow/v1 document as pipelineSpec (or its
// uploaded copy as templateUri). The managed service only accepts KFP
// PipelineSpec IR there, so against the public endpoint a translating gateway
// must sit behind MLPIPE_VERTEX_ENDPOINT.
type VertexBackend struct {
	baseURL string
}

type VertexOption func(*VertexBackend)

// WithBaseURL overrides the regional endpoint, e.g. for tests.
func WithBaseURL(u string) VertexOption {
	return func(b *VertexBackend) { b.baseURL = strings.TrimRight(strings.TrimSpace(u), "/") }
}

func NewVertexBackend(opts ...VertexOption) *VertexBackend {
	b := &VertexBackend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *VertexBackend) Kind() string { return "vertex_ai" }

type pipelineJob struct {
	Name          string            `json:"name,omitempty"`
	DisplayName   string            `json:"displayName,omitempty"`
	TemplateURI   string            `json:"templateUri,omitempty"`
	PipelineSpec  json.RawMessage   `json:"pipelineSpec,omitempty"`
	RuntimeConfig *runtimeConfig    `json:"runtimeConfig,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	State         string            `json:"state,omitempty"`
	Error         *jobError         `json:"error,omitempty"`
}

type runtimeConfig struct {
	GCSOutputDirectory string `json:"gcsOutputDirectory,omitempty"`
}

type jobError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (b *VertexBackend) Submit(ctx context.Context, sess Session, req JobRequest) (BackendRun, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return BackendRun{}, errors.New("job id is required")
	}
	if req.TemplateURI == "" && len(req.Document) == 0 {
		return BackendRun{}, errors.New("template uri or document is required")
	}

	job := pipelineJob{
		DisplayName: req.DisplayName,
		TemplateURI: req.TemplateURI,
		Labels:      req.Labels,
	}
	if req.TemplateURI == "" {
		job.PipelineSpec = json.RawMessage(req.Document)
	}
	if req.StorageRoot != "" {
		job.RuntimeConfig = &runtimeConfig{GCSOutputDirectory: req.StorageRoot}
	}
	body, err := json.Marshal(job)
	if err != nil {
		return BackendRun{}, fmt.Errorf("marshal pipeline job: %w", err)
	}

	path := fmt.Sprintf("/projects/%s/locations/%s/pipelineJobs", url.PathEscape(req.Project), url.PathEscape(req.Location))
	query := url.Values{"pipelineJobId": []string{JobResourceID(req.JobID)}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(sess)+path+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return BackendRun{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out pipelineJob
	if err := b.do(sess.HTTPClient(ctx), httpReq, &out); err != nil {
		return BackendRun{}, err
	}
	return BackendRun{Name: out.Name, State: out.State}, nil
}

func (b *VertexBackend) Inspect(ctx context.Context, sess Session, name string) (Observation, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return Observation{}, errors.New("pipeline job name is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint(sess)+"/"+name, nil)
	if err != nil {
		return Observation{}, err
	}
	var out pipelineJob
	if err := b.do(sess.HTTPClient(ctx), httpReq, &out); err != nil {
		return Observation{}, err
	}
	obs := Observation{Status: vertexStatus(out.State), State: out.State}
	if out.Error != nil {
		obs.Message = out.Error.Message
	}
	return obs, nil
}

func (b *VertexBackend) endpoint(sess Session) string {
	if b.baseURL != "" {
		return b.baseURL
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", sess.Region())
}

func (b *VertexBackend) do(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode pipeline api response: %w", err)
		}
		return nil
	case http.StatusUnauthorized:
		return domain.Wrap(domain.ErrSessionExpired, &APIError{StatusCode: resp.StatusCode, Body: string(body)}, "backend rejected credentials")
	case http.StatusConflict:
		return ErrJobExists
	case http.StatusNotFound:
		return ErrJobNotFound
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// JobResourceID maps a run id onto the backend's job id alphabet: lowercase letters,
// digits and hyphens.
func JobResourceID(runID string) string {
	return strings.ReplaceAll(strings.ToLower(runID), "_", "-")
}

func vertexStatus(state string) domain.RunStatus {
	switch state {
	case "PIPELINE_STATE_QUEUED", "PIPELINE_STATE_PENDING", "PIPELINE_STATE_UNSPECIFIED", "":
		return domain.RunStatusPending
	case "PIPELINE_STATE_RUNNING", "PIPELINE_STATE_CANCELLING", "PIPELINE_STATE_PAUSED":
		return domain.RunStatusRunning
	case "PIPELINE_STATE_SUCCEEDED":
		return domain.RunStatusSucceeded
	case "PIPELINE_STATE_FAILED":
		return domain.RunStatusFailed
	case "PIPELINE_STATE_CANCELLED":
		return domain.RunStatusCancelled
	default:
		return ""
	}
}
