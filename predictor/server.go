package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/animus-labs/mlpipe/internal/model"
	"github.com/animus-labs/mlpipe/internal/platform/metrics"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type state int32

const (
	stateUninitialized state = iota
	stateReady
	stateServing
)

func (s state) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateServing:
		return "serving"
	default:
		return "uninitialized"
	}
}

const maxRequestBytes = 16 << 20

type predictRequest struct {
	Instances []model.Instance `json:"instances"`
}

type predictResponse struct {
	Predictions []model.Prediction `json:"predictions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	logger  *slog.Logger
	metrics *metrics.Serving
	model   atomic.Pointer[model.Model]
	state   atomic.Int32
}

func newServer(logger *slog.Logger, m *metrics.Serving) *server {
	return &server{logger: logger, metrics: m}
}

func (s *server) State() state {
	return state(s.state.Load())
}

// load runs loader once and publishes the model. A failed load leaves the
// server uninitialized so /predict keeps answering 503.
func (s *server) load(ctx context.Context, loader func(context.Context) (*model.Model, error)) error {
	m, err := loader(ctx)
	if err != nil {
		s.logger.Error("model load failed", "error", err)
		return err
	}
	s.model.Store(m)
	s.state.CompareAndSwap(int32(stateUninitialized), int32(stateReady))
	if s.metrics != nil {
		s.metrics.ModelReady.Set(1)
	}
	s.logger.Info("model loaded", "features", len(m.Schema().Features))
	return nil
}

func (s *server) routes(cfg config, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET(cfg.HealthRoute, s.health)
	e.Match([]string{http.MethodPost, http.MethodGet}, cfg.PredictRoute, s.predict)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return e
}

func (s *server) health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *server) predict(c echo.Context) error {
	start := time.Now()
	code, body := s.score(c.Request())
	if s.metrics != nil {
		s.metrics.Predictions.WithLabelValues(strconv.Itoa(code)).Inc()
		s.metrics.Latency.Observe(time.Since(start).Seconds())
	}
	return c.JSON(code, body)
}

func (s *server) score(r *http.Request) (int, any) {
	m := s.model.Load()
	if m == nil {
		return http.StatusServiceUnavailable, errorResponse{Error: model.ErrModelNotLoaded.Error()}
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: "read request: " + err.Error()}
	}
	var req predictRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: "decode request: " + err.Error()}
	}
	if req.Instances == nil {
		return http.StatusBadRequest, errorResponse{Error: "instances is required"}
	}

	preds, err := m.Predict(req.Instances)
	if err != nil {
		if errors.Is(err, model.ErrSchemaMismatch) {
			return http.StatusBadRequest, errorResponse{Error: err.Error()}
		}
		s.logger.Error("predict failed", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: "prediction failed"}
	}

	s.state.CompareAndSwap(int32(stateReady), int32(stateServing))
	if s.metrics != nil {
		s.metrics.Instances.Add(float64(len(preds)))
	}
	return http.StatusOK, predictResponse{Predictions: preds}
}
