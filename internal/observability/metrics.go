package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	gatewayDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments of the wizard and its
// reference backend. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gateway metrics
	GatewayRequestsTotal       *prometheus.CounterVec
	GatewayRequestDuration     *prometheus.HistogramVec
	GatewayCircuitBreakerState prometheus.Gauge
	GatewayRetriesTotal        *prometheus.CounterVec

	// Wizard metrics
	StorePublishesTotal   *prometheus.CounterVec
	SubmissionsTotal      *prometheus.CounterVec
	AutoSaveAttemptsTotal *prometheus.CounterVec
	AutoSaveRetriesTotal  prometheus.Counter

	// Reference backend metrics
	AnswerUpdatesTotal     *prometheus.CounterVec
	SimulatedFailuresTotal *prometheus.CounterVec
	TemplatesLoaded        prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Gateway
		GatewayRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_gateway_requests_total",
			Help: "Total number of backend calls made by the gateway.",
		}, []string{"operation_id", "status"}),
		GatewayRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_gateway_request_duration_seconds",
			Help:    "Backend call duration in seconds.",
			Buckets: gatewayDurationBuckets,
		}, []string{"operation_id"}),
		GatewayCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		GatewayRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_gateway_retries_total",
			Help: "Total number of gateway call retries.",
		}, []string{"operation_id"}),

		// Wizard
		StorePublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_store_publishes_total",
			Help: "Total number of form state snapshots published.",
		}, []string{"operation"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Total number of document submissions.",
		}, []string{"outcome"}),
		AutoSaveAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_autosave_attempts_total",
			Help: "Total number of field save attempts.",
		}, []string{"outcome"}),
		AutoSaveRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_autosave_retries_total",
			Help: "Total number of field save retries scheduled.",
		}),

		// Reference backend
		AnswerUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_backend_answer_updates_total",
			Help: "Total number of answer updates handled by the reference backend.",
		}, []string{"status"}),
		SimulatedFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_backend_simulated_failures_total",
			Help: "Total number of failures injected by the reference backend.",
		}, []string{"status"}),
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_backend_templates_loaded",
			Help: "Number of request templates served by the reference backend.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GatewayRequestsTotal,
		m.GatewayRequestDuration,
		m.GatewayCircuitBreakerState,
		m.GatewayRetriesTotal,
		m.StorePublishesTotal,
		m.SubmissionsTotal,
		m.AutoSaveAttemptsTotal,
		m.AutoSaveRetriesTotal,
		m.AnswerUpdatesTotal,
		m.SimulatedFailuresTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordGatewayRequest records one backend call. Status 0 means no response.
func (m *Metrics) RecordGatewayRequest(operationID string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(operationID, strconv.Itoa(status)).Inc()
	m.GatewayRequestDuration.WithLabelValues(operationID).Observe(duration.Seconds())
}

// SetGatewayCircuitBreakerState sets the breaker state: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetGatewayCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.GatewayCircuitBreakerState.Set(state)
}

// RecordGatewayRetry records a gateway retry.
func (m *Metrics) RecordGatewayRetry(operationID string) {
	if m == nil {
		return
	}
	m.GatewayRetriesTotal.WithLabelValues(operationID).Inc()
}

// RecordStorePublish records a published snapshot.
func (m *Metrics) RecordStorePublish(operation string) {
	if m == nil {
		return
	}
	m.StorePublishesTotal.WithLabelValues(operation).Inc()
}

// RecordSubmission records a submission outcome: success, network_error,
// server_error, or no_document.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAutoSaveAttempt records a field save outcome: saved, failed, or rejected.
func (m *Metrics) RecordAutoSaveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AutoSaveAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordAutoSaveRetry records a scheduled field save retry.
func (m *Metrics) RecordAutoSaveRetry() {
	if m == nil {
		return
	}
	m.AutoSaveRetriesTotal.Inc()
}

// RecordAnswerUpdate records an answer update response status.
func (m *Metrics) RecordAnswerUpdate(status int) {
	if m == nil {
		return
	}
	m.AnswerUpdatesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordSimulatedFailure records an injected failure.
func (m *Metrics) RecordSimulatedFailure(status int) {
	if m == nil {
		return
	}
	m.SimulatedFailuresTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// SetTemplatesLoaded sets the number of served templates.
func (m *Metrics) SetTemplatesLoaded(count int) {
	if m == nil {
		return
	}
	m.TemplatesLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
