package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Governance metrics: one decision per request through each middleware stage.
var (
	permissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_permission_decisions_total",
			Help: "Permission check outcomes by reason.",
		},
		[]string{"reason"},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_rate_limit_decisions_total",
			Help: "Rate limit outcomes (allowed, rejected, error).",
		},
		[]string{"outcome"},
	)

	auditSinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "governance_audit_sink_failures_total",
		Help: "Audit sink writes that failed and were suppressed.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		permissionDecisions, rateLimitDecisions, auditSinkFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PermissionDecision records one permission-check outcome.
func PermissionDecision(reason string) {
	permissionDecisions.WithLabelValues(reason).Inc()
}

// RateLimitDecision records one rate-limit outcome.
func RateLimitDecision(outcome string) {
	rateLimitDecisions.WithLabelValues(outcome).Inc()
}

// AuditSinkFailure records a suppressed audit write failure.
func AuditSinkFailure() {
	auditSinkFailures.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
