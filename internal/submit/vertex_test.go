package submit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/animus-labs/mlpipe/internal/domain"
)

func TestVertexSubmit(t *testing.T) {
	var gotPath, gotJobID string
	var gotBody pipelineJob
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		gotPath = r.URL.Path
		gotJobID = r.URL.Query().Get("pipelineJobId")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"projects/acme/locations/europe-west1/pipelineJobs/train-pipeline-20240309140507","state":"PIPELINE_STATE_PENDING"}`)
	}))
	defer srv.Close()

	backend := NewVertexBackend(WithBaseURL(srv.URL + "/v1/"))
	run, err := backend.Submit(context.Background(), &fakeSession{client: srv.Client()}, JobRequest{
		JobID:       "train_pipeline-20240309140507",
		DisplayName: "train_pipeline",
		Project:     "acme",
		Location:    "europe-west1",
		Document:    []byte(`{"schemaVersion":"mlpipe.workflow/v1"}`),
		StorageRoot: "gs://bucket/train_pipeline/run/",
		Labels:      map[string]string{"pipeline": "train_pipeline"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotPath != "/v1/projects/acme/locations/europe-west1/pipelineJobs" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotJobID != "train-pipeline-20240309140507" {
		t.Fatalf("unexpected job id %q", gotJobID)
	}
	if gotBody.DisplayName != "train_pipeline" || gotBody.RuntimeConfig == nil || gotBody.RuntimeConfig.GCSOutputDirectory != "gs://bucket/train_pipeline/run/" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
	if string(gotBody.PipelineSpec) != `{"schemaVersion":"mlpipe.workflow/v1"}` {
		t.Fatalf("expected inline pipeline spec, got %s", gotBody.PipelineSpec)
	}
	if run.Name != "projects/acme/locations/europe-west1/pipelineJobs/train-pipeline-20240309140507" {
		t.Fatalf("unexpected run name %q", run.Name)
	}
}

func TestVertexSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, check: func(err error) bool { return errors.Is(err, domain.ErrSessionExpired) }},
		{name: "conflict", status: http.StatusConflict, check: func(err error) bool { return errors.Is(err, ErrJobExists) }},
		{name: "bad request", status: http.StatusBadRequest, check: func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
		}},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
		}))
		backend := NewVertexBackend(WithBaseURL(srv.URL))
		_, err := backend.Submit(context.Background(), &fakeSession{client: srv.Client()}, JobRequest{
			JobID:       "p-1",
			Project:     "acme",
			Location:    "europe-west1",
			TemplateURI: "gs://bucket/t.json",
		})
		srv.Close()
		if !tt.check(err) {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
	}
}

func TestVertexSubmitRequiresPayload(t *testing.T) {
	backend := NewVertexBackend(WithBaseURL("http://127.0.0.1:0"))
	if _, err := backend.Submit(context.Background(), &fakeSession{}, JobRequest{JobID: "p-1"}); err == nil {
		t.Fatalf("expected error without template or document")
	}
}

func TestVertexInspect(t *testing.T) {
	tests := []struct {
		state string
		want  domain.RunStatus
	}{
		{state: "PIPELINE_STATE_QUEUED", want: domain.RunStatusPending},
		{state: "PIPELINE_STATE_RUNNING", want: domain.RunStatusRunning},
		{state: "PIPELINE_STATE_SUCCEEDED", want: domain.RunStatusSucceeded},
		{state: "PIPELINE_STATE_FAILED", want: domain.RunStatusFailed},
		{state: "PIPELINE_STATE_CANCELLED", want: domain.RunStatusCancelled},
		{state: "SOMETHING_NEW", want: ""},
	}
	for _, tt := range tests {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_ = json.NewEncoder(w).Encode(pipelineJob{Name: "x", State: tt.state})
		}))
		backend := NewVertexBackend(WithBaseURL(srv.URL))
		obs, err := backend.Inspect(context.Background(), &fakeSession{client: srv.Client()}, "projects/acme/locations/europe-west1/pipelineJobs/p-1")
		srv.Close()
		if err != nil {
			t.Fatalf("%s: inspect: %v", tt.state, err)
		}
		if obs.Status != tt.want || obs.State != tt.state {
			t.Fatalf("%s: expected %q, got %+v", tt.state, tt.want, obs)
		}
		if gotPath != "/projects/acme/locations/europe-west1/pipelineJobs/p-1" {
			t.Fatalf("unexpected path %q", gotPath)
		}
	}
}

func TestVertexInspectNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	backend := NewVertexBackend(WithBaseURL(srv.URL))
	if _, err := backend.Inspect(context.Background(), &fakeSession{client: srv.Client()}, "projects/a/locations/b/pipelineJobs/c"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestVertexDefaultEndpoint(t *testing.T) {
	if got := NewVertexBackend().endpoint(&fakeSession{}); got != "https://europe-west1-aiplatform.googleapis.com/v1" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}
