package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Set at link time.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// Readiness states.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is one dependency probe.
type CheckResult struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker probes a dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks lists the probes behind /api/ready. The backend, session
// store and flow store are critical: if any fails the BFF is not ready.
// The offline queue and idempotency store only degrade it, since forms can
// still be submitted directly while they are down. Nil probes are skipped,
// except Backend, which must be set.
type ReadinessChecks struct {
	Backend          HealthChecker
	SessionStore     HealthChecker
	FlowStore        HealthChecker
	OfflineQueue     HealthChecker
	IdempotencyStore HealthChecker
}

type probe struct {
	name     string
	checker  HealthChecker
	critical bool
}

func (c ReadinessChecks) probes() []probe {
	all := []probe{
		{"backend", c.Backend, true},
		{"session_store", c.SessionStore, true},
		{"flow_store", c.FlowStore, true},
		{"offline_queue", c.OfflineQueue, false},
		{"idempotency_store", c.IdempotencyStore, false},
	}
	out := all[:0]
	for _, p := range all {
		if p.checker != nil || p.name == "backend" {
			out = append(out, p)
		}
	}
	return out
}

const checkTimeout = 2 * time.Second

var errNotConfigured = errors.New("not configured")

// HandleHealth serves liveness. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleReady runs every probe concurrently and reports 503 only when a
// critical probe fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make([]CheckResult, len(probes))

		var wg sync.WaitGroup
		for i, p := range probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(r.Context(), p)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: StatusReady, Checks: make(map[string]CheckResult, len(probes))}
		for i, p := range probes {
			res := results[i]
			resp.Checks[p.name] = res
			if res.Status == "ok" {
				continue
			}
			if res.Critical {
				resp.Status = StatusNotReady
			} else if resp.Status == StatusReady {
				resp.Status = StatusDegraded
			}
		}

		code := http.StatusOK
		if resp.Status == StatusNotReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func runCheck(parent context.Context, p probe) CheckResult {
	res := CheckResult{Status: "ok", Critical: p.critical}
	if p.checker == nil {
		res.Status, res.Error = "error", errNotConfigured.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()
	start := time.Now()
	err := p.checker.HealthCheck(ctx)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Status, res.Error = "error", err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
