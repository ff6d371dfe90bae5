// Package metrics exposes arbiter's Prometheus counters and histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbiter"

// Recorder is nil-safe: methods on a nil *Recorder do nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	evaluations       *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	settlements       *prometheus.CounterVec
}

// New registers arbiter's metrics on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	auto := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,
		evaluations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Session evaluations by outcome (ok or error kind).",
		}, []string{"outcome"}),
		evaluationLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of one session evaluation including retries.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 180},
		}),
		settlements: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement decisions by type (release, hold, resolved).",
		}, []string{"decision"}),
	}
}

func (r *Recorder) ObserveEvaluation(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(outcome).Inc()
	r.evaluationLatency.Observe(d.Seconds())
}

func (r *Recorder) Settlement(decision string) {
	if r == nil {
		return
	}
	r.settlements.WithLabelValues(decision).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
