package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/internal/observability"
)

func TestNewRouter_health(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "GET", "/api/health", nil)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "GET", "/api/ready", nil)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)

	deps := Dependencies{
		Config:   testConfig(),
		Metrics:  metrics,
		Registry: observability.Handler(reg),
	}
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clamflow_http_requests_total") {
		t.Error("metrics output should include the HTTP request counter")
	}
}

func TestNewRouter_authenticatedRoutes_requireSession(t *testing.T) {
	ts := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{"POST", "/api/auth/logout"},
		{"GET", "/api/me"},
		{"GET", "/api/permissions/check?module=reports"},
		{"GET", "/api/workflow/"},
		{"POST", "/api/workflow/lot"},
		{"GET", "/api/workflow/qc-staff"},
		{"POST", "/api/workflow/qc-staff"},
		{"POST", "/api/workflow/reset"},
		{"GET", "/api/workflow/events"},
		{"GET", "/api/approvals/"},
		{"GET", "/api/approvals/summary"},
		{"GET", "/api/approvals/export"},
		{"GET", "/api/approvals/stream"},
		{"POST", "/api/approvals/1/approve"},
		{"POST", "/api/approvals/1/reject"},
		{"POST", "/api/forms/weight-note"},
		{"POST", "/api/forms/ppc"},
		{"POST", "/api/forms/fp"},
		{"POST", "/api/labels/qr"},
		{"POST", "/api/rfid/link"},
		{"GET", "/api/lookups"},
		{"GET", "/api/lookups/suppliers"},
		{"DELETE", "/api/lookups/suppliers/cache"},
		{"GET", "/api/sync/status"},
		{"POST", "/api/sync/run"},
		{"GET", "/api/dashboard/metrics"},
		{"GET", "/api/lots/LOT-1"},
		{"GET", "/api/records/weight-notes"},
		{"POST", "/api/records/fp-forms/1/approve"},
		{"POST", "/api/qc-lead/depuration-results"},
		{"GET", "/api/staff-lead/attendance"},
		{"POST", "/api/gate/entry"},
		{"POST", "/api/attendance"},
		{"POST", "/api/onboarding/staff"},
		{"POST", "/api/onboarding/1/reject"},
		{"POST", "/api/admin/admins"},
		{"PUT", "/api/admin/admins/1/permissions"},
	}

	for _, tc := range routes {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := ts.do(t, "", tc.method, tc.path, nil)
			if w.Code != 401 {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if got := w.Header().Get("X-Redirect"); got != LoginRedirect {
				t.Errorf("X-Redirect = %q, want %q", got, LoginRedirect)
			}
		})
	}
}

func TestNewRouter_unknownSession(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "no-such-session", "GET", "/api/me", nil)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSecurityHeaders_onHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "GET", "/api/health", nil)

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get(HeaderCorrelationID); got == "" {
		t.Error("health should still get X-Correlation-Id")
	}
}

func TestNewRouter_loginRateLimited(t *testing.T) {
	fb := newFakeBackend()
	deps := Dependencies{
		Config:       testConfig(),
		Backend:      fb,
		LoginLimiter: NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}),
	}
	r := NewRouter(deps)

	var last int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.9:5555"
		r.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third login status = %d, want 429", last)
	}
}
