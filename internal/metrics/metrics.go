// Package metrics records test-run outcomes for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives run events from the dispatcher.
type Recorder interface {
	RecordRun(class, status string, duration time.Duration)
	RecordDQI(class string, score float64)
	RecordCompletion(status string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordRun(string, string, time.Duration) {}
func (Nop) RecordDQI(string, float64)               {}
func (Nop) RecordCompletion(string)                 {}

// PrometheusRecorder is a Recorder backed by its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	dqiScore         *prometheus.HistogramVec
	completionsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with Go runtime and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dqrunner_test_runs_total",
			Help: "Total number of test case runs by class and resulting status.",
		}, []string{"class", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dqrunner_test_run_duration_seconds",
			Help:    "Duration of test case runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		dqiScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dqrunner_dqi_percentage",
			Help:    "DQI percentage recorded for failed runs.",
			Buckets: []float64{0, 10, 25, 50, 75, 90, 95, 99, 100},
		}, []string{"class"}),
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dqrunner_validation_completions_total",
			Help: "Total number of data-validation completions by status.",
		}, []string{"status"}),
	}

	registry.MustRegister(r.runsTotal)
	registry.MustRegister(r.runDuration)
	registry.MustRegister(r.dqiScore)
	registry.MustRegister(r.completionsTotal)

	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) RecordRun(class, status string, duration time.Duration) {
	r.runsTotal.WithLabelValues(class, status).Inc()
	r.runDuration.WithLabelValues(class).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RecordDQI(class string, score float64) {
	r.dqiScore.WithLabelValues(class).Observe(score)
}

func (r *PrometheusRecorder) RecordCompletion(status string) {
	r.completionsTotal.WithLabelValues(status).Inc()
}
