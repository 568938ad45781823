package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that stands in for the
// ClamFlow REST API. Responses are configured per route ("METHOD /path") and
// every received request is recorded for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.RWMutex
	routes   map[string]*routeConfig
	received map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	ReceivedAt  time.Time
}

// Token returns the bearer token the request carried.
func (r *RecordedRequest) Token() string {
	const prefix = "Bearer "
	h := r.Headers.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

type routeConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// RouteMock is a builder for configuring responses for one backend route.
type RouteMock struct {
	backend *MockBackend
	key     string
}

func routeKey(method, path string) string { return method + " " + path }

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		routes:   make(map[string]*routeConfig),
		received: make(map[string][]*RecordedRequest),
	}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.serve))
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// On returns a builder for configuring responses for method and path.
func (mb *MockBackend) On(method, path string) *RouteMock {
	return &RouteMock{backend: mb, key: routeKey(method, path)}
}

// RespondWith appends a response. Once all configured responses have been
// served, the last one repeats.
func (rm *RouteMock) RespondWith(status int, body any) *RouteMock {
	rm.backend.addResponse(rm.key, &mockResponse{status: status, body: body})
	return rm
}

// RespondWithError appends a FastAPI style error response.
func (rm *RouteMock) RespondWithError(status int, detail string) *RouteMock {
	return rm.RespondWith(status, map[string]any{"detail": detail})
}

// RespondWithDelay appends a delayed response to simulate a slow backend.
func (rm *RouteMock) RespondWithDelay(delay time.Duration, status int, body any) *RouteMock {
	rm.backend.addResponse(rm.key, &mockResponse{status: status, body: body, delay: delay})
	return rm
}

// RespondWithConnectionError appends a response that drops the connection.
func (rm *RouteMock) RespondWithConnectionError() *RouteMock {
	rm.backend.addResponse(rm.key, &mockResponse{connError: true})
	return rm
}

func (mb *MockBackend) addResponse(key string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.routes[key]
	if !ok {
		cfg = &routeConfig{}
		mb.routes[key] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) serve(w http.ResponseWriter, r *http.Request) {
	key := routeKey(r.Method, r.URL.Path)

	rec := &RecordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryParams: make(map[string]string),
		Headers:     r.Header.Clone(),
		ReceivedAt:  time.Now(),
	}
	for k, values := range r.URL.Query() {
		if len(values) > 0 {
			rec.QueryParams[k] = values[0]
		}
	}
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		rec.RawBody = body
		if len(body) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(body, &parsed); err == nil {
				rec.Body = parsed
			}
		}
	}

	mb.mu.Lock()
	mb.received[key] = append(mb.received[key], rec)
	mb.mu.Unlock()

	resp := mb.nextResponse(key)
	if resp == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"detail": fmt.Sprintf("mock: no route registered for %s", key),
		})
		return
	}

	if resp.connError {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			if conn != nil {
				conn.Close()
			}
		}
		return
	}

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.body != nil {
		json.NewEncoder(w).Encode(resp.body)
	}
}

func (mb *MockBackend) nextResponse(key string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.routes[key]
	mb.mu.RUnlock()
	if !ok {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return nil
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the route was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, method, path string, want int) {
	t.Helper()
	if got := len(mb.Requests(method, path)); got != want {
		t.Errorf("mock: %s %s called %d times, want %d", method, path, got, want)
	}
}

// LastRequest returns the last request received on the route, or nil.
func (mb *MockBackend) LastRequest(method, path string) *RecordedRequest {
	reqs := mb.Requests(method, path)
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Requests returns all requests received on the route.
func (mb *MockBackend) Requests(method, path string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[routeKey(method, path)]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// Reset clears the responses and recorded requests of one route.
func (mb *MockBackend) Reset(method, path string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	key := routeKey(method, path)
	delete(mb.routes, key)
	delete(mb.received, key)
}
