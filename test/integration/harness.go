// Package integration provides a reusable test harness for end-to-end
// testing of the ClamFlow BFF. It starts the full HTTP router against a mock
// backend, with in-memory or miniredis-backed stores and a test token issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/approval"
	"github.com/clamflow/clamflow-bff/internal/backend"
	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/internal/command"
	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/internal/label"
	"github.com/clamflow/clamflow-bff/internal/metadata"
	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/internal/offline"
	"github.com/clamflow/clamflow-bff/internal/realtime"
	"github.com/clamflow/clamflow-bff/internal/search"
	"github.com/clamflow/clamflow-bff/internal/session"
	"github.com/clamflow/clamflow-bff/internal/transport"
	"github.com/clamflow/clamflow-bff/internal/workflow"
	"github.com/clamflow/clamflow-bff/model"
)

// serviceToken is the token the approval poller and anonymous replays use.
const serviceToken = "svc-approval-poller"

// TestHarness encapsulates a fully wired BFF instance with a mock backend
// for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer
	mock   *MockBackend

	// Internal components exposed for advanced test scenarios.
	Config      *config.Config
	Client      *backend.Client
	Sessions    *session.Manager
	Tracker     *workflow.Tracker
	Approvals   *approval.Service
	Poller      *approval.Poller
	Hub         *realtime.Hub
	Queue       offline.Queue
	Syncer      *offline.Syncer
	Idempotency command.IdempotencyStore
	Registry    *prometheus.Registry
	Redis       *miniredis.Miniredis
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	redis          bool
	breaker        *config.CircuitBreakerConfig
	retry          *config.RetryConfig
	handlerTimeout time.Duration
	backendTimeout time.Duration
	maxRetries     int
}

// WithRedis backs sessions, the offline queue and idempotency records with
// an in-process miniredis server.
func WithRedis() HarnessOption {
	return func(c *harnessConfig) { c.redis = true }
}

// WithCircuitBreaker overrides the backend circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = &cb }
}

// WithRetry overrides the backend retry settings.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = &r }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithBackendTimeout sets the backend HTTP client timeout.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.backendTimeout = d }
}

// WithMaxRetries sets how many failed replays a queued operation survives.
func WithMaxRetries(n int) HarnessOption {
	return func(c *harnessConfig) { c.maxRetries = n }
}

// NewTestHarness creates and starts a full BFF test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		backendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:      t,
		issuer: newTokenIssuer(testSigningSecret),
		mock:   newMockBackend(t),
	}

	// Step 1: Build config pointing at the mock backend.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Backend.BaseURL = h.mock.URL()
	cfg.Backend.Timeout = hc.backendTimeout
	cfg.Backend.Retry = config.RetryConfig{MaxAttempts: 1, IdempotentOnly: true}
	if hc.retry != nil {
		cfg.Backend.Retry = *hc.retry
	}
	if hc.breaker != nil {
		cfg.Backend.CircuitBreaker = *hc.breaker
	}
	if hc.maxRetries > 0 {
		cfg.Offline.MaxRetries = hc.maxRetries
	}
	h.Config = cfg

	// Step 2: Telemetry.
	logger := zap.NewNop()
	h.Registry = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Registry)

	// Step 3: Stores.
	var (
		sessionStore session.Store            = session.NewMemoryStore()
		queue        offline.Queue            = offline.NewMemoryQueue()
		idem         command.IdempotencyStore = command.NewMemoryIdempotencyStore()
	)
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { rdb.Close() })
		sessionStore = session.NewRedisStore(rdb)
		queue = offline.NewRedisQueue(rdb)
		idem = command.NewRedisIdempotencyStore(rdb)
	}
	h.Queue = queue
	h.Idempotency = idem

	// Step 4: Sessions and the backend client.
	h.Sessions = session.NewManager(sessionStore,
		session.NewTokenParser(testSigningSecret, cfg.Identity.Algorithms), cfg.Session.TTL, logger)

	client, err := backend.New(cfg.Backend,
		backend.WithLogger(logger),
		backend.WithMetrics(metrics),
		backend.WithUnauthorizedHandler(h.Sessions.HandleUnauthorized),
	)
	if err != nil {
		t.Fatalf("backend.New() error = %v", err)
	}
	h.Client = client

	// Step 5: Domain services.
	matrix := capability.DefaultMatrix()
	h.Tracker = workflow.NewTracker(workflow.NewMemoryFlowStore(), matrix)
	h.Approvals = approval.NewService(client, matrix, logger, metrics)
	h.Hub = realtime.NewHub(logger, metrics)
	h.Poller = approval.NewPoller(h.Approvals, h.Hub, time.Minute, serviceToken, logger, metrics)

	tokens := func(ctx context.Context, op model.Operation) string {
		if sess, found, err := sessionStore.Get(ctx, op.SessionID); err == nil && found {
			return sess.Token
		}
		return serviceToken
	}
	h.Syncer = offline.NewSyncer(queue, client, tokens, time.Minute, logger, metrics).
		WithMaxRetries(cfg.Offline.MaxRetries)

	// Step 6: Router.
	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Registry: observability.Handler(h.Registry),
		Ready: observability.ReadinessChecks{
			Backend:          client,
			SessionStore:     sessionStore,
			FlowStore:        observability.CheckerFunc(h.Tracker.Ping),
			OfflineQueue:     queue,
			IdempotencyStore: idem,
		},
		Backend:      client,
		Sessions:     h.Sessions,
		Matrix:       matrix,
		Capabilities: capability.NewResolver(matrix, 0),
		Tracker:      h.Tracker,
		Approvals:    h.Approvals,
		Poller:       h.Poller,
		Hub:          h.Hub,
		Labels:       label.NewGenerator(client, logger, metrics),
		Lookups:      search.NewLookupProvider(search.DefaultSources(client), time.Minute, 100, metrics),
		Menu:         metadata.NewMenuProvider(matrix, h.Approvals, logger),
		Idempotency:  idem,
		Syncer:       h.Syncer,
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Backend returns the mock ClamFlow API.
func (h *TestHarness) Backend() *MockBackend {
	return h.mock
}

// Token issues a valid backend access token for u.
func (h *TestHarness) Token(u TestUser) string {
	return h.issuer.GenerateToken(u, time.Hour)
}

// LoginResponse builds the body the backend returns for a successful login.
func LoginResponse(token string, u TestUser) map[string]any {
	return map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user": map[string]any{
			"id":        u.ID,
			"username":  u.Username,
			"full_name": u.FullName,
			"role":      u.Role,
			"is_active": true,
		},
	}
}

// Login signs u in through the BFF login endpoint and returns the session id.
func (h *TestHarness) Login(u TestUser) string {
	h.t.Helper()
	return h.LoginWithToken(u, h.Token(u))
}

// LoginWithToken signs u in with a specific backend token.
func (h *TestHarness) LoginWithToken(u TestUser, token string) string {
	h.t.Helper()
	h.mock.Reset(http.MethodPost, "/auth/login")
	h.mock.On(http.MethodPost, "/auth/login").RespondWith(http.StatusOK, LoginResponse(token, u))

	resp := h.POST("/api/auth/login", map[string]string{"username": u.Username, "password": "pw"}, "")
	if resp.StatusCode != http.StatusOK {
		body := h.ReadBody(resp)
		h.t.Fatalf("login %s: status = %d, body: %s", u.Username, resp.StatusCode, body)
	}
	defer resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == h.Config.Session.CookieName {
			return c.Value
		}
	}
	h.t.Fatalf("login %s: no session cookie", u.Username)
	return ""
}

// --- HTTP client helpers ---

// GET performs a GET request with the session cookie.
func (h *TestHarness) GET(path, sid string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, sid, nil)
}

// POST performs a POST request with a JSON body and the session cookie.
func (h *TestHarness) POST(path string, body any, sid string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, sid, nil)
}

// POSTWithHeaders performs a POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, sid string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, sid, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, sid string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: h.Config.Session.CookieName, Value: sid})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// Envelope is the decoded response wrapper.
type Envelope struct {
	Success  bool                 `json:"success"`
	Data     json.RawMessage      `json:"data"`
	Message  string               `json:"message"`
	Error    *model.ErrorEnvelope `json:"error"`
	Redirect string               `json:"redirect"`
}

// ReadBody reads and returns the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// ParseEnvelope decodes the response wrapper.
func (h *TestHarness) ParseEnvelope(resp *http.Response) Envelope {
	h.t.Helper()
	data := h.ReadBody(resp)
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.t.Fatalf("unmarshal envelope: %v\nbody: %s", err, data)
	}
	return env
}

// AssertStatus checks the status code and returns the decoded envelope.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, want int) Envelope {
	t.Helper()
	env := h.ParseEnvelope(resp)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d\nenvelope: %s", resp.StatusCode, want, FormatJSON(env))
	}
	return env
}

// AssertData checks the status code and decodes the envelope data into target.
func (h *TestHarness) AssertData(t *testing.T, resp *http.Response, want int, target any) {
	t.Helper()
	env := h.AssertStatus(t, resp, want)
	if err := json.Unmarshal(env.Data, target); err != nil {
		t.Fatalf("unmarshal data: %v\ndata: %s", err, env.Data)
	}
}

// --- Fixtures ---

const (
	fixtureLotID     = "3c1f7a52-0d6b-4b8e-9f3a-6e2d1c0b9a87"
	fixtureSupplier  = "8f2e4d6c-1a3b-4c5d-9e7f-0a1b2c3d4e5f"
	fixtureStaffID   = "6a5b4c3d-2e1f-4a0b-8c9d-7e6f5a4b3c2d"
	fixtureBoxNumber = "BX-0042"
)

// WeightNoteFixture returns a valid weight note body.
func WeightNoteFixture() map[string]any {
	return map[string]any{
		"lot_id":      fixtureLotID,
		"supplier_id": fixtureSupplier,
		"box_number":  fixtureBoxNumber,
		"weight":      21.75,
		"qc_staff_id": fixtureStaffID,
	}
}

// PendingFormFixture returns a pending approval record as the backend lists it.
func PendingFormFixture(id, formType, status string, age time.Duration) map[string]any {
	return map[string]any{
		"id":          id,
		"formType":    formType,
		"status":      status,
		"lotId":       "LOT-" + strings.ToUpper(id),
		"submittedBy": "Station Operator",
		"submittedAt": time.Now().Add(-age).UTC().Format(time.RFC3339),
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
