package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	postingsTotal       *prometheus.CounterVec
	idempotentReplays   *prometheus.CounterVec
	reconciliationRuns  *prometheus.CounterVec
	unresolvedVariances prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_postings_total",
		Help: "Accounting units of work by operation and outcome.",
	}, []string{"operation", "outcome"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_idempotent_replays_total",
		Help: "Requests answered from a stored idempotency result.",
	}, []string{"operation"})
	reconRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_reconciliation_runs_total",
		Help: "Reconciliation runs by final status.",
	}, []string{"status"})
	unresolved := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_unresolved_variances",
		Help: "Unresolved reconciliation variances at last summary.",
	})
	registry.MustRegister(requests, duration, postings, replays, reconRuns, unresolved)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		postingsTotal:       postings,
		idempotentReplays:   replays,
		reconciliationRuns:  reconRuns,
		unresolvedVariances: unresolved,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// PostingCommitted counts a committed unit of work.
func (m *Metrics) PostingCommitted(operation string) {
	if m != nil {
		m.postingsTotal.WithLabelValues(operation, "committed").Inc()
	}
}

// PostingFailed counts a rolled-back unit of work.
func (m *Metrics) PostingFailed(operation string) {
	if m != nil {
		m.postingsTotal.WithLabelValues(operation, "failed").Inc()
	}
}

// IdempotentReplay counts a request short-circuited to its cached result.
func (m *Metrics) IdempotentReplay(operation string) {
	if m != nil {
		m.idempotentReplays.WithLabelValues(operation).Inc()
	}
}

// ReconciliationRun counts a reconciliation run outcome.
func (m *Metrics) ReconciliationRun(status string) {
	if m != nil {
		m.reconciliationRuns.WithLabelValues(status).Inc()
	}
}

// UnresolvedVariances records the latest unresolved variance count.
func (m *Metrics) UnresolvedVariances(count int) {
	if m != nil {
		m.unresolvedVariances.Set(float64(count))
	}
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
