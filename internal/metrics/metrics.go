package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for HTTP requests and the asset core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reqTotal      *prometheus.CounterVec
	reqLatency    *prometheus.HistogramVec
	quotaDenials  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	alertsCreated *prometheus.CounterVec
	scanRuns      *prometheus.CounterVec
	relayed       *prometheus.CounterVec
	registry      *prometheus.Registry
}

// New creates a new Metrics instance with a private Prometheus registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	reqLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	quotaDenials := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itam_quota_denials_total",
			Help: "Quota reservations denied, by resource kind",
		},
		[]string{"kind"},
	)

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itam_state_transitions_total",
			Help: "Applied lifecycle transitions",
		},
		[]string{"entity", "from", "to"},
	)

	alertsCreated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itam_warranty_alerts_created_total",
			Help: "Warranty alerts created by the scan",
		},
		[]string{"type"},
	)

	scanRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itam_warranty_scans_total",
			Help: "Warranty scan runs by outcome",
		},
		[]string{"result"},
	)

	relayed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itam_notifications_relayed_total",
			Help: "Notifications handed to the delivery channel",
		},
		[]string{"result"},
	)

	registry.MustRegister(reqTotal, reqLatency, quotaDenials, transitions, alertsCreated, scanRuns, relayed)

	return &Metrics{
		reqTotal:      reqTotal,
		reqLatency:    reqLatency,
		quotaDenials:  quotaDenials,
		transitions:   transitions,
		alertsCreated: alertsCreated,
		scanRuns:      scanRuns,
		relayed:       relayed,
		registry:      registry,
	}
}

// QuotaDenied counts a denied reservation
func (m *Metrics) QuotaDenied(kind string) {
	if m == nil {
		return
	}
	m.quotaDenials.WithLabelValues(kind).Inc()
}

// Transition counts an applied status change
func (m *Metrics) Transition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

// AlertCreated counts a new warranty alert
func (m *Metrics) AlertCreated(alertType string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(alertType).Inc()
}

// ScanRun counts a warranty scan run; result is ok, error or skipped
func (m *Metrics) ScanRun(result string) {
	if m == nil {
		return
	}
	m.scanRuns.WithLabelValues(result).Inc()
}

// Relayed counts notifications published (result ok) or failed
func (m *Metrics) Relayed(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.relayed.WithLabelValues(result).Add(float64(n))
}

// Middleware returns a Chi middleware that collects metrics
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)

			// Prefer the route pattern so ids don't explode label cardinality
			path := r.URL.Path
			if chiCtx := chi.RouteContext(r.Context()); chiCtx != nil && len(chiCtx.RoutePatterns) > 0 {
				path = chiCtx.RoutePatterns[len(chiCtx.RoutePatterns)-1]
			}

			status := http.StatusText(rw.code)
			m.reqTotal.WithLabelValues(r.Method, path, status).Inc()
			m.reqLatency.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns an http.Handler that serves Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the HTTP status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	return sr.ResponseWriter.Write(b)
}
