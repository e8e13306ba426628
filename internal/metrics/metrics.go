// Package metrics exposes Prometheus collectors for the ask pipeline and the HTTP API.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diydoctor"

// Metrics owns a private registry so tests can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	verdicts        *prometheus.CounterVec
	noContext       prometheus.Counter
	fusedNodes      prometheus.Histogram
	stageErrors     *prometheus.CounterVec
	sessionsBuilt   *prometheus.CounterVec
	sessionNodes    prometheus.Histogram
	activeSessions  prometheus.Gauge
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of retrieval, generation and judging stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "verdicts_total",
			Help:      "Judged answers by verdict.",
		}, []string{"verdict"}),
		noContext: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "insufficient_context_total",
			Help:      "Queries answered without calling the generator because retrieval found nothing.",
		}),
		fusedNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fused_nodes",
			Help:      "Number of fused nodes passed to the generator.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 7, 10},
		}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Failed pipeline stages.",
		}, []string{"stage"}),
		sessionsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "built_total",
			Help:      "Sessions built by source kind.",
		}, []string{"kind"}),
		sessionNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "nodes",
			Help:      "Nodes per built session.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently registered.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.stageDuration, m.verdicts, m.noContext, m.fusedNodes, m.stageErrors,
		m.sessionsBuilt, m.sessionNodes, m.activeSessions,
		m.requestTotal, m.requestDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StageFailed counts a failed stage.
func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageErrors.WithLabelValues(stage).Inc()
}

// Verdict counts a judged answer.
func (m *Metrics) Verdict(v string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(v).Inc()
}

// NoContext counts a query short-circuited for lack of evidence.
func (m *Metrics) NoContext() {
	if m == nil {
		return
	}
	m.noContext.Inc()
}

// FusedNodes records the size of a fused result.
func (m *Metrics) FusedNodes(n int) {
	if m == nil {
		return
	}
	m.fusedNodes.Observe(float64(n))
}

// SessionBuilt counts a built session and its size.
func (m *Metrics) SessionBuilt(kind string, nodes int) {
	if m == nil {
		return
	}
	m.sessionsBuilt.WithLabelValues(kind).Inc()
	m.sessionNodes.Observe(float64(nodes))
}

// ActiveSessions sets the number of registered sessions.
func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
