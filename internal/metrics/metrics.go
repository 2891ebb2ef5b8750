// Package metrics exposes pipeline and HTTP measurements in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "produkscan"

// Metrics owns a private registry with the ProdukScan collectors plus the
// Go runtime and process collectors.
type Metrics struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	localized    *prometheus.CounterVec
	stages       *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	liveSessions prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by result mode and outcome",
		}, []string{"mode", "outcome"}),
		localized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "localized_total",
			Help:      "Pipeline runs by whether a hand localized the product",
		}, []string{"localized"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Time spent per pipeline stage",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Open live classification websocket sessions",
		}),
	}

	registry.MustRegister(
		m.runs, m.localized, m.stages, m.requests, m.liveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRun counts a finished pipeline run.
func (m *Metrics) ObserveRun(mode, outcome string, localized bool) {
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.localized.WithLabelValues(strconv.FormatBool(localized)).Inc()
}

// ObserveRequest counts a served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// LiveSessionStarted and LiveSessionEnded track open websocket sessions.
func (m *Metrics) LiveSessionStarted() { m.liveSessions.Inc() }
func (m *Metrics) LiveSessionEnded()   { m.liveSessions.Dec() }

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
