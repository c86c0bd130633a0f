// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job results used as the "result" label.
const (
	ResultSucceeded = "succeeded"
	ResultRetried   = "retried"
	ResultFailed    = "failed"
	ResultConflict  = "conflict"
)

type Metrics struct {
	registry         *prometheus.Registry
	jobs             *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	sessionsIngested prometheus.Counter
}

// New builds a Metrics with its own registry, so tests can create as many as
// they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calls_jobs_total",
			Help: "Finished job attempts by type and result.",
		}, []string{"type", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calls_job_duration_seconds",
			Help:    "Wall time of one job attempt.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type"}),
		sessionsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calls_sessions_ingested_total",
			Help: "Call sessions created from provider webhooks or imports.",
		}),
	}
	m.registry.MustRegister(
		m.jobs,
		m.jobDuration,
		m.sessionsIngested,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveJob(jobType, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, result).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(took.Seconds())
}

func (m *Metrics) SessionIngested() {
	if m == nil {
		return
	}
	m.sessionsIngested.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
