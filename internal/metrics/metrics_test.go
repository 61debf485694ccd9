package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, router http.Handler) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMetricsEndpoint(t *testing.T) {
	m := New()
	router := chi.NewRouter()
	router.Use(m.Middleware())
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	router.Get("/metrics", m.Handler().ServeHTTP)

	testReq := httptest.NewRequest("GET", "/ping", nil)
	testW := httptest.NewRecorder()
	router.ServeHTTP(testW, testReq)
	assert.Equal(t, http.StatusOK, testW.Code)
	assert.Equal(t, "pong", testW.Body.String())

	body := scrape(t, router)
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, "http_request_duration_seconds")
	assert.Contains(t, body, `path="/ping"`)
}

func TestMetricsWithChiRoutePatterns(t *testing.T) {
	m := New()
	router := chi.NewRouter()
	router.Use(m.Middleware())
	router.Get("/assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset"))
	})
	router.Get("/metrics", m.Handler().ServeHTTP)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/assets/abc-123", nil))

	body := scrape(t, router)
	assert.Contains(t, body, `path="/assets/{id}"`)
	assert.NotContains(t, body, "abc-123")
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.QuotaDenied("asset")
	m.Transition("asset", "available", "in_use")
	m.AlertCreated("expired")
	m.ScanRun("ok")
	m.Relayed("ok", 3)

	router := chi.NewRouter()
	router.Get("/metrics", m.Handler().ServeHTTP)
	body := scrape(t, router)

	assert.Contains(t, body, `itam_quota_denials_total{kind="asset"} 1`)
	assert.Contains(t, body, `itam_state_transitions_total{entity="asset",from="available",to="in_use"} 1`)
	assert.Contains(t, body, `itam_warranty_alerts_created_total{type="expired"} 1`)
	assert.Contains(t, body, `itam_warranty_scans_total{result="ok"} 1`)
	assert.Contains(t, body, `itam_notifications_relayed_total{result="ok"} 3`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.QuotaDenied("user")
		m.Transition("maintenance", "pending", "in_progress")
		m.AlertCreated("expiring")
		m.ScanRun("error")
		m.Relayed("error", 1)
	})
}
