package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hivemind"

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry             *prometheus.Registry
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	registrations        *prometheus.CounterVec
	registrationDuration *prometheus.HistogramVec
	taxonomyRowsCreated  *prometheus.CounterVec
	agentScans           *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP, registration and agent metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Registration attempts by outcome (matched, created, rejected, error)",
	}, []string{"outcome"})

	registrationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "registration_duration_seconds",
		Help:      "Duration of registration attempts by outcome",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"outcome"})

	taxonomyRowsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "taxonomy_rows_created_total",
		Help:      "Brand, model and device type rows created by registrations",
	}, []string{"level"})

	agentScans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_scans_total",
		Help:      "Local agent neighbour-table scans by result",
	}, []string{"result"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		registrations,
		registrationDuration,
		taxonomyRowsCreated,
		agentScans,
	)

	return &Metrics{
		registry:             registry,
		httpRequests:         httpRequests,
		httpRequestDuration:  httpRequestDuration,
		registrations:        registrations,
		registrationDuration: registrationDuration,
		taxonomyRowsCreated:  taxonomyRowsCreated,
		agentScans:           agentScans,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveRegistration records one registration attempt.
func (m *Metrics) ObserveRegistration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
	m.registrationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncTaxonomyRowCreated counts a committed brand, model or device_type insert.
func (m *Metrics) IncTaxonomyRowCreated(level string) {
	if m == nil {
		return
	}
	m.taxonomyRowsCreated.WithLabelValues(level).Inc()
}

// IncAgentScan counts one agent scan; result is "ok" or "error".
func (m *Metrics) IncAgentScan(result string) {
	if m == nil {
		return
	}
	m.agentScans.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
