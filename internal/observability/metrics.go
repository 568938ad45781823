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

const namespace = "clamflow"

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Backend
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        prometheus.Counter
	BackendUnauthorizedTotal   prometheus.Counter

	// Approvals
	ApprovalQueueItems   *prometheus.GaugeVec
	ApprovalActionsTotal *prometheus.CounterVec

	// Forms and labels
	FormSubmissionsTotal *prometheus.CounterVec
	LabelFallbacksTotal  prometheus.Counter

	// Workflow
	FlowTransitionsTotal *prometheus.CounterVec

	// Offline queue
	OfflineQueueDepth      prometheus.Gauge
	OfflineSyncOperations  *prometheus.CounterVec
	OfflineSyncPassesTotal *prometheus.CounterVec

	// Sessions
	SessionLoginsTotal *prometheus.CounterVec

	// Caches
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	PolicyReloadsTotal         *prometheus.CounterVec
	LookupCacheHitsTotal       *prometheus.CounterVec
	LookupCacheMissesTotal     *prometheus.CounterVec

	// Realtime
	RealtimeClients prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request body size in bytes.",
			Buckets:   bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size in bytes.",
			Buckets:   bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of ClamFlow backend requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "ClamFlow backend request duration in seconds.",
			Buckets:   backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_circuit_breaker_state",
			Help:      "Backend circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Total number of backend request retries.",
		}),
		BackendUnauthorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_unauthorized_total",
			Help:      "Total number of sessions cleared after a backend 401.",
		}),

		ApprovalQueueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approval_queue_items",
			Help:      "Pending approval items by priority.",
		}, []string{"priority"}),
		ApprovalActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_actions_total",
			Help:      "Total approve and reject actions.",
		}, []string{"action", "form_type", "result"}),

		FormSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_submissions_total",
			Help:      "Total form submissions by outcome.",
		}, []string{"form_type", "outcome"}),
		LabelFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "label_fallbacks_total",
			Help:      "Total QR labels generated locally after a backend failure.",
		}),

		FlowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_transitions_total",
			Help:      "Total QC flow transitions.",
		}, []string{"event"}),

		OfflineQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Number of submissions waiting to be replayed.",
		}),
		OfflineSyncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_sync_operations_total",
			Help:      "Total replayed offline operations by result.",
		}, []string{"result"}),
		OfflineSyncPassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_sync_passes_total",
			Help:      "Total offline sync passes by result.",
		}, []string{"result"}),

		SessionLoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_logins_total",
			Help:      "Total login attempts by result.",
		}, []string{"result"}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_cache_hits_total",
			Help:      "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_cache_misses_total",
			Help:      "Total capability cache misses.",
		}),
		PolicyReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_reloads_total",
			Help:      "Role policy reloads by result.",
		}, []string{"status"}),
		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_cache_hits_total",
			Help:      "Total lookup cache hits.",
		}, []string{"lookup_id"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_cache_misses_total",
			Help:      "Total lookup cache misses.",
		}, []string{"lookup_id"}),

		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Connected approval stream clients.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.BackendUnauthorizedTotal,
		m.ApprovalQueueItems,
		m.ApprovalActionsTotal,
		m.FormSubmissionsTotal,
		m.LabelFallbacksTotal,
		m.FlowTransitionsTotal,
		m.OfflineQueueDepth,
		m.OfflineSyncOperations,
		m.OfflineSyncPassesTotal,
		m.SessionLoginsTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.PolicyReloadsTotal,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
		m.RealtimeClients,
	)

	return m
}

// --- Recording helpers. All are safe to call on a nil *Metrics. ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records a backend request. Status 0 means the request
// never produced an HTTP response.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the breaker gauge (0=closed, 1=half-open, 2=open).
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry() {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.Inc()
}

// RecordBackendUnauthorized records a session cleared after a backend 401.
func (m *Metrics) RecordBackendUnauthorized() {
	if m == nil {
		return
	}
	m.BackendUnauthorizedTotal.Inc()
}

// SetApprovalQueue replaces the queue gauges with per-priority counts.
func (m *Metrics) SetApprovalQueue(counts map[string]int, priorities []string) {
	if m == nil {
		return
	}
	for _, p := range priorities {
		m.ApprovalQueueItems.WithLabelValues(p).Set(float64(counts[p]))
	}
}

// RecordApprovalAction records an approve or reject action.
func (m *Metrics) RecordApprovalAction(action, formType, result string) {
	if m == nil {
		return
	}
	m.ApprovalActionsTotal.WithLabelValues(action, formType, result).Inc()
}

// RecordFormSubmission records a form submission outcome: submitted,
// invalid, queued, replayed or failed.
func (m *Metrics) RecordFormSubmission(formType, outcome string) {
	if m == nil {
		return
	}
	m.FormSubmissionsTotal.WithLabelValues(formType, outcome).Inc()
}

// RecordLabelFallback records a locally generated QR label.
func (m *Metrics) RecordLabelFallback() {
	if m == nil {
		return
	}
	m.LabelFallbacksTotal.Inc()
}

// RecordFlowTransition records a QC flow transition.
func (m *Metrics) RecordFlowTransition(event string) {
	if m == nil {
		return
	}
	m.FlowTransitionsTotal.WithLabelValues(event).Inc()
}

// SetOfflineQueueDepth sets the offline queue depth.
func (m *Metrics) SetOfflineQueueDepth(n int) {
	if m == nil {
		return
	}
	m.OfflineQueueDepth.Set(float64(n))
}

// RecordOfflineSyncPass records the outcome of one sync pass.
func (m *Metrics) RecordOfflineSyncPass(synced, failed int) {
	if m == nil {
		return
	}
	m.OfflineSyncOperations.WithLabelValues("synced").Add(float64(synced))
	m.OfflineSyncOperations.WithLabelValues("failed").Add(float64(failed))
	result := "success"
	if failed > 0 {
		result = "partial"
	}
	m.OfflineSyncPassesTotal.WithLabelValues(result).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.SessionLoginsTotal.WithLabelValues(result).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordPolicyReload records a role policy reload ("success" or "error").
func (m *Metrics) RecordPolicyReload(status string) {
	if m == nil {
		return
	}
	m.PolicyReloadsTotal.WithLabelValues(status).Inc()
}

// RecordLookupCacheHit records a lookup cache hit.
func (m *Metrics) RecordLookupCacheHit(lookupID string) {
	if m == nil {
		return
	}
	m.LookupCacheHitsTotal.WithLabelValues(lookupID).Inc()
}

// RecordLookupCacheMiss records a lookup cache miss.
func (m *Metrics) RecordLookupCacheMiss(lookupID string) {
	if m == nil {
		return
	}
	m.LookupCacheMissesTotal.WithLabelValues(lookupID).Inc()
}

// SetRealtimeClients sets the number of connected stream clients.
func (m *Metrics) SetRealtimeClients(n int) {
	if m == nil {
		return
	}
	m.RealtimeClients.Set(float64(n))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
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

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
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
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush lets streaming handlers flush through the wrapper.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
