// Package metrics defines the Prometheus collectors exported by mlpipe binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mlpipe"

// Submission counts pipeline run submissions by outcome.
type Submission struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewSubmission(reg prometheus.Registerer) *Submission {
	factory := promauto.With(reg)
	return &Submission{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "submit",
				Name:      "runs_total",
				Help:      "Pipeline run submissions by pipeline and outcome.",
			},
			[]string{"pipeline", "outcome"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "submit",
				Name:      "duration_seconds",
				Help:      "Time spent submitting a pipeline run.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"pipeline"},
		),
	}
}

// Observe records one submission attempt. A nil receiver is a no-op.
func (m *Submission) Observe(pipeline string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "submitted"
	if err != nil {
		outcome = "failed"
	}
	m.Runs.WithLabelValues(pipeline, outcome).Inc()
	m.Duration.WithLabelValues(pipeline).Observe(seconds)
}

// Serving tracks the prediction server.
type Serving struct {
	Predictions *prometheus.CounterVec
	Instances   prometheus.Counter
	Latency     prometheus.Histogram
	ModelReady  prometheus.Gauge
}

func NewServing(reg prometheus.Registerer) *Serving {
	factory := promauto.With(reg)
	return &Serving{
		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "serving",
				Name:      "requests_total",
				Help:      "Prediction requests by response code.",
			},
			[]string{"code"},
		),
		Instances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "instances_total",
			Help:      "Instances scored.",
		}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "request_duration_seconds",
			Help:      "Prediction request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		ModelReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "model_ready",
			Help:      "1 once the model has been loaded.",
		}),
	}
}
