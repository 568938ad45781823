package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/clamflow/clamflow-bff/internal/backend"
	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/model"
)

const metricsPath = "/dashboard/metrics"

// ==========================================================================
// Circuit Breaker Tests
// ==========================================================================

func TestResilience_CircuitBreakerTripsOnConsecutiveFailures(t *testing.T) {
	h := NewTestHarness(t,
		WithCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
	)
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, metricsPath).RespondWithError(http.StatusInternalServerError, "boom")

	for range 2 {
		h.AssertStatus(t, h.GET("/api/dashboard/metrics", sid), http.StatusBadGateway)
	}
	if got := h.Client.Breaker().State(); got != backend.BreakerOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	env := h.AssertStatus(t, h.GET("/api/dashboard/metrics", sid), http.StatusBadGateway)
	if env.Error == nil || env.Error.Code != model.ErrBackendUnavailable {
		t.Errorf("error = %+v, want BACKEND_UNAVAILABLE", env.Error)
	}
	h.Backend().AssertCalled(t, http.MethodGet, metricsPath, 2)
}

func TestResilience_CircuitBreakerRecoveryAfterTimeout(t *testing.T) {
	h := NewTestHarness(t,
		WithCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			Timeout:          200 * time.Millisecond,
		}),
	)
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, metricsPath).
		RespondWithError(http.StatusServiceUnavailable, "maintenance").
		RespondWith(http.StatusOK, map[string]any{"total_lots": 4})

	h.AssertStatus(t, h.GET("/api/dashboard/metrics", sid), http.StatusBadGateway)
	h.AssertStatus(t, h.GET("/api/dashboard/metrics", sid), http.StatusBadGateway)
	h.Backend().AssertCalled(t, http.MethodGet, metricsPath, 1)

	time.Sleep(300 * time.Millisecond)

	var data map[string]any
	h.AssertData(t, h.GET("/api/dashboard/metrics", sid), http.StatusOK, &data)
	if data["total_lots"] != float64(4) {
		t.Errorf("data = %v", data)
	}
	if got := h.Client.Breaker().State(); got != backend.BreakerClosed {
		t.Errorf("breaker state = %v, want closed", got)
	}
}

// ==========================================================================
// Retry and Timeout Tests
// ==========================================================================

func fastRetry() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       3,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        50 * time.Millisecond,
		IdempotentOnly:    true,
	}
}

func TestResilience_RetriesIdempotentReads(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry()))
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, metricsPath).
		RespondWithError(http.StatusServiceUnavailable, "warming up").
		RespondWith(http.StatusOK, map[string]any{"total_lots": 2})

	h.AssertStatus(t, h.GET("/api/dashboard/metrics", sid), http.StatusOK)
	h.Backend().AssertCalled(t, http.MethodGet, metricsPath, 2)
}

func TestResilience_DoesNotRetryWrites(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry()))
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodPost, "/weight-notes/").
		RespondWithError(http.StatusServiceUnavailable, "warming up").
		RespondWith(http.StatusCreated, map[string]any{"id": "wn-1"})

	h.AssertStatus(t, h.POST("/api/forms/weight-note", WeightNoteFixture(), sid), http.StatusAccepted)
	h.Backend().AssertCalled(t, http.MethodPost, "/weight-notes/", 1)
}

func TestResilience_BackendTimeout(t *testing.T) {
	h := NewTestHarness(t, WithBackendTimeout(100*time.Millisecond))
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, metricsPath).
		RespondWithDelay(time.Second, http.StatusOK, map[string]any{"total_lots": 1})

	env := h.AssertStatus(t, h.GET("/api/dashboard/metrics", sid), http.StatusGatewayTimeout)
	if env.Error == nil || env.Error.Code != model.ErrBackendTimeout {
		t.Errorf("error = %+v, want BACKEND_TIMEOUT", env.Error)
	}
}

// ==========================================================================
// Session and Response Shaping Tests
// ==========================================================================

func TestResilience_BackendUnauthorizedClearsSession(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, metricsPath).RespondWithError(http.StatusUnauthorized, "Token revoked")

	resp := h.GET("/api/dashboard/metrics", sid)
	if got := resp.Header.Get("X-Redirect"); got != "/login" {
		t.Errorf("X-Redirect = %q, want /login", got)
	}
	h.AssertStatus(t, resp, http.StatusUnauthorized)

	h.AssertStatus(t, h.GET("/api/me", sid), http.StatusUnauthorized)
}

func TestResilience_UnwrapsBackendEnvelope(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, metricsPath).RespondWith(http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"total_lots": 9, "active_staff": 31},
	})

	var data map[string]any
	h.AssertData(t, h.GET("/api/dashboard/metrics", sid), http.StatusOK, &data)
	if data["total_lots"] != float64(9) || data["active_staff"] != float64(31) {
		t.Errorf("data = %v", data)
	}
}

func TestResilience_LookupCache(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(ProductionLead())
	h.Backend().On(http.MethodGet, "/data/suppliers").RespondWith(http.StatusOK, []map[string]any{
		{"id": 1, "name": "Coastal Clams"},
		{"id": 2, "name": "Bay Harvest"},
	})

	var first, second model.LookupResponse
	h.AssertData(t, h.GET("/api/lookups/suppliers?q=bay", sid), http.StatusOK, &first)
	h.AssertData(t, h.GET("/api/lookups/suppliers?q=BAY", sid), http.StatusOK, &second)

	if len(first.Options) != 1 || first.Options[0].Label != "Bay Harvest" {
		t.Errorf("options = %+v, want Bay Harvest", first.Options)
	}
	if first.Cached || !second.Cached {
		t.Errorf("cached = %v then %v, want false then true", first.Cached, second.Cached)
	}
	h.Backend().AssertCalled(t, http.MethodGet, "/data/suppliers", 1)
}
