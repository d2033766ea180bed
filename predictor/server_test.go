package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/mlpipe/internal/model"
	"github.com/animus-labs/mlpipe/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() config {
	return config{HealthRoute: "/health", PredictRoute: "/predict", ModelDir: "unused"}
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Parse(
		[]byte(`{"intercept": -0.25, "coefficients": [0.8, -1.1]}`),
		[]byte(`{"features": ["f1", "f2"]}`),
	)
	if err != nil {
		t.Fatalf("parse model: %v", err)
	}
	return m
}

func newTestServer(t *testing.T) (*server, http.Handler, *metrics.Serving) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewServing(reg)
	srv := newServer(slog.New(slog.NewJSONHandler(io.Discard, nil)), m)
	return srv, srv.routes(testConfig(), reg), m
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPredictReturnsOnePredictionPerInstance(t *testing.T) {
	srv, h, m := newTestServer(t)
	if err := srv.load(context.Background(), func(context.Context) (*model.Model, error) { return testModel(t), nil }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if srv.State() != stateReady {
		t.Fatalf("expected ready, got %s", srv.State())
	}

	rec := do(h, http.MethodPost, "/predict", `{"instances":[{"f1":1.0,"f2":2.0}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp predictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Predictions) != 1 {
		t.Fatalf("expected one prediction, got %d", len(resp.Predictions))
	}
	p := resp.Predictions[0]
	if math.Abs(p.ProbabilityNegative+p.ProbabilityPositive-1) > 1e-9 {
		t.Fatalf("probabilities do not sum to 1: %+v", p)
	}
	if !strings.Contains(rec.Body.String(), `"probability_negative"`) || !strings.Contains(rec.Body.String(), `"probability_positive"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if srv.State() != stateServing {
		t.Fatalf("expected serving, got %s", srv.State())
	}
	if got := testutil.ToFloat64(m.Instances); got != 1 {
		t.Fatalf("instances_total=%v", got)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("200")); got != 1 {
		t.Fatalf("requests_total{code=200}=%v", got)
	}
}

func TestPredictBeforeLoad(t *testing.T) {
	srv, h, _ := newTestServer(t)

	if rec := do(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health status=%d body=%q", rec.Code, rec.Body.String())
	}
	rec := do(h, http.MethodPost, "/predict", `{"instances":[{"f1":1,"f2":2}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if srv.State() != stateUninitialized {
		t.Fatalf("expected uninitialized, got %s", srv.State())
	}
}

func TestFailedLoadKeepsServerUninitialized(t *testing.T) {
	srv, h, _ := newTestServer(t)
	err := srv.load(context.Background(), func(context.Context) (*model.Model, error) { return nil, errors.New("missing") })
	if err == nil {
		t.Fatalf("expected load error")
	}
	if rec := do(h, http.MethodPost, "/predict", `{"instances":[]}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
}

func TestPredictBadRequests(t *testing.T) {
	srv, h, _ := newTestServer(t)
	if err := srv.load(context.Background(), func(context.Context) (*model.Model, error) { return testModel(t), nil }); err != nil {
		t.Fatalf("load: %v", err)
	}
	tests := []struct {
		name string
		body string
	}{
		{name: "missing feature", body: `{"instances":[{"f1":1}]}`},
		{name: "non-numeric feature", body: `{"instances":[{"f1":1,"f2":"x"}]}`},
		{name: "no instances", body: `{}`},
		{name: "malformed", body: `{"instances":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/predict", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400 body=%s", rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "predictions") {
				t.Fatalf("expected no partial predictions: %s", rec.Body.String())
			}
		})
	}
}

func TestCustomRoutesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newServer(slog.New(slog.NewJSONHandler(io.Discard, nil)), metrics.NewServing(reg))
	cfg := config{HealthRoute: "/v1/ping", PredictRoute: "/v1/models/churn/predict", ModelDir: "unused"}
	h := srv.routes(cfg, reg)

	if rec := do(h, http.MethodGet, "/v1/ping", ""); rec.Code != http.StatusOK {
		t.Fatalf("custom health status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/health", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("default health should not be routed, status=%d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/v1/models/churn/predict", `{"instances":[]}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("custom predict status=%d", rec.Code)
	}
	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mlpipe_serving_model_ready") {
		t.Fatalf("metrics status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AIP_HEALTH_ROUTE", "")
	t.Setenv("AIP_PREDICT_ROUTE", "")
	t.Setenv("AIP_STORAGE_URI", "")
	t.Setenv("MODEL_DIR", "")
	t.Setenv("MLPIPE_MODEL_LOAD_TIMEOUT", "")
	if _, err := configFromEnv(); err == nil {
		t.Fatalf("expected missing model location error")
	}

	t.Setenv("MODEL_DIR", "/models/churn")
	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}
	if cfg.HealthRoute != "/health" || cfg.PredictRoute != "/predict" {
		t.Fatalf("unexpected routes %+v", cfg)
	}

	t.Setenv("AIP_PREDICT_ROUTE", "/health")
	if _, err := configFromEnv(); err == nil {
		t.Fatalf("expected clashing routes to fail")
	}
}

func TestModelLoaderFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, model.ModelFile), []byte(`{"intercept": 0, "coefficients": [1]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, model.SchemaFile), []byte(`{"features": ["x"]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader, err := modelLoader(config{ModelDir: dir})
	if err != nil {
		t.Fatalf("modelLoader: %v", err)
	}
	m, err := loader(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := m.Schema().Features; len(got) != 1 || got[0] != "x" {
		t.Fatalf("unexpected schema %v", got)
	}

	if _, err := modelLoader(config{StorageURI: "http://bucket/model"}); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
