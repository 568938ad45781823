// Package backend is the BFF's only gateway to the remote ClamFlow REST API.
// It injects the caller's bearer token, normalizes response envelopes and
// error shapes, and guards the backend with a circuit breaker and retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

const maxResponseBytes = 10 << 20

// UnauthorizedHandler is called when the backend rejects a session token.
// The client guarantees at most one call per distinct token.
type UnauthorizedHandler func(ctx context.Context, token string)

// Request describes one backend call. Op is a stable operation name used for
// metrics, spans and logs.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Token overrides the bearer token from the RequestContext. Used by
	// background callers that act without a user session.
	Token string
}

// Client calls the ClamFlow backend.
type Client struct {
	baseURL        string
	http           *http.Client
	breaker        *CircuitBreaker
	retry          config.RetryConfig
	logger         *zap.Logger
	metrics        *observability.Metrics
	onUnauthorized UnauthorizedHandler

	// Tokens whose 401 has already been handled, with when it was handled.
	handledMu sync.Mutex
	handled   map[string]time.Time
	now       func() time.Time
}

// handledTokenTTL bounds how long a rejected token is remembered. Its session
// is gone by then, so a later 401 for it only re-runs an idempotent cleanup.
const handledTokenTTL = 15 * time.Minute

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUnauthorizedHandler sets the 401 callback.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(c *Client) { c.onUnauthorized = h }
}

// New creates a backend client for the configured base URL.
func New(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend: base_url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("backend: invalid base_url %q: %w", base, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retry:   cfg.Retry,
		logger:  zap.NewNop(),
		handled: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = newCircuitBreaker(cfg.CircuitBreaker, func(from, to BreakerState) {
		c.metrics.SetBackendCircuitBreakerState(float64(to))
		c.logger.Warn("backend circuit breaker state changed",
			zap.Stringer("from", from), zap.Stringer("to", to))
	})

	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Do executes a backend request and returns the unwrapped response payload.
// Known list endpoints are coerced to a JSON array.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Op == "" {
		req.Op = req.Method + " " + req.Path
	}

	ctx, span := observability.StartSpan(ctx, "backend.request",
		observability.AttrOperation.String(req.Op),
	)
	data, err := c.do(ctx, req)
	observability.EndSpanWithError(span, err)
	return data, err
}

func (c *Client) do(ctx context.Context, req Request) (json.RawMessage, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
	}

	rctx := model.RequestContextFrom(ctx)
	token := req.Token
	if token == "" && rctx != nil {
		token = rctx.Token
	}

	resp, err := c.executeWithRetry(ctx, req, token, bodyBytes)
	if err != nil {
		var te *transportError
		if errors.As(err, &te) {
			observability.RequestLogger(ctx, c.logger).Warn("backend request failed",
				zap.String("operation", req.Op),
				zap.String("code", te.env.Code),
				zap.Error(te.err),
			)
			return nil, te.env
		}
		return nil, err
	}

	if resp.status == http.StatusUnauthorized {
		c.handleUnauthorized(ctx, token)
		return nil, &model.ErrorEnvelope{
			Code:    model.ErrUnauthorized,
			Message: errorMessage(resp.status, resp.body),
		}
	}
	if resp.status < 200 || resp.status >= 300 {
		return nil, &model.ErrorEnvelope{
			Code:    codeForStatus(resp.status),
			Message: errorMessage(resp.status, resp.body),
		}
	}

	data, err := unwrapEnvelope(resp.body)
	if err != nil {
		return nil, err
	}
	if req.Method == http.MethodGet && isListEndpoint(req.Path) {
		data = coerceArray(data)
	}
	return data, nil
}

// handleUnauthorized fires the 401 callback once per token.
func (c *Client) handleUnauthorized(ctx context.Context, token string) {
	c.metrics.RecordBackendUnauthorized()
	if c.onUnauthorized == nil || token == "" {
		return
	}
	if !c.markHandled(token) {
		return
	}
	observability.RequestLogger(ctx, c.logger).Warn("backend rejected session token, clearing session")
	c.onUnauthorized(ctx, token)
}

// markHandled records token and reports whether it was not already recorded.
// Entries older than handledTokenTTL are swept on each call.
func (c *Client) markHandled(token string) bool {
	c.handledMu.Lock()
	defer c.handledMu.Unlock()

	now := c.now()
	for t, at := range c.handled {
		if now.Sub(at) >= handledTokenTTL {
			delete(c.handled, t)
		}
	}
	if _, seen := c.handled[token]; seen {
		return false
	}
	c.handled[token] = now
	return true
}

type rawResponse struct {
	status int
	body   []byte
}

// errRetryStatus asks the retry loop for another attempt after a 5xx.
var errRetryStatus = errors.New("backend: retryable status")

func (c *Client) executeWithRetry(ctx context.Context, req Request, token string, bodyBytes []byte) (rawResponse, error) {
	attempts := max(c.retry.MaxAttempts, 1)
	if c.retry.IdempotentOnly && !isIdempotentMethod(req.Method) {
		attempts = 1
	}

	try := 0
	op := func() (rawResponse, error) {
		try++
		if try > 1 {
			c.metrics.RecordBackendRetry()
		}
		resp, err := c.executeOnce(ctx, req, token, bodyBytes)
		switch {
		case err != nil && !isRetryableError(err):
			return rawResponse{}, backoff.Permanent(err)
		case err != nil:
			c.logger.Debug("backend: retrying after error",
				zap.String("operation", req.Op), zap.Int("attempt", try), zap.Error(err))
			return rawResponse{}, err
		case isRetryableStatus(resp.status) && try < attempts:
			c.logger.Debug("backend: retrying after status",
				zap.String("operation", req.Op), zap.Int("attempt", try), zap.Int("status", resp.status))
			return resp, errRetryStatus
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(newBackOff(c.retry)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err == nil {
		return resp, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, errRetryStatus) {
		return rawResponse{}, model.NewBackendTimeoutError()
	}
	return rawResponse{}, err
}

// transportError marks a failure that never produced an HTTP response.
type transportError struct {
	env *model.ErrorEnvelope
	err error
}

func (e *transportError) Error() string { return e.env.Error() + ": " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.env }

func (c *Client) executeOnce(ctx context.Context, req Request, token string, bodyBytes []byte) (rawResponse, error) {
	done, err := c.breaker.Allow()
	if err != nil {
		return rawResponse{}, model.NewBackendUnavailableError()
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.buildURL(req.Path, req.Query), body)
	if err != nil {
		done(true)
		return rawResponse{}, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header = buildHeaders(ctx, token, req.Method, bodyBytes != nil)
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		done(false)
		c.metrics.RecordBackendRequest(req.Op, 0, time.Since(start))
		if ctx.Err() != nil || isTimeout(err) {
			return rawResponse{}, &transportError{env: model.NewBackendTimeoutError(), err: err}
		}
		return rawResponse{}, &transportError{env: model.NewBackendUnavailableError(), err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(req.Op, resp.StatusCode, time.Since(start))
	if err != nil {
		done(false)
		return rawResponse{}, &transportError{env: model.NewBackendUnavailableError(), err: err}
	}

	done(resp.StatusCode < http.StatusInternalServerError)

	return rawResponse{status: resp.StatusCode, body: respBody}, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func buildHeaders(ctx context.Context, token, method string, hasBody bool) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if hasBody || method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+sanitizeHeader(token))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// --- response shaping ---

var statusCodes = map[int]string{
	http.StatusBadRequest:          model.ErrBadRequest,
	http.StatusUnauthorized:        model.ErrUnauthorized,
	http.StatusForbidden:           model.ErrForbidden,
	http.StatusNotFound:            model.ErrNotFound,
	http.StatusConflict:            model.ErrConflict,
	http.StatusUnprocessableEntity: model.ErrValidationError,
	http.StatusTooManyRequests:     model.ErrRateLimited,
}

func codeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 500 {
		return model.ErrBackendUnavailable
	}
	return model.ErrBadRequest
}

// errorMessage extracts detail, message or error from an error body, falling
// back to "HTTP <code>: <status text>".
func errorMessage(status int, body []byte) string {
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

// unwrapEnvelope strips up to two {success, data} layers. A payload that is
// not an envelope is returned unchanged. An envelope with success=false is
// reported as BAD_REQUEST.
func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	data := json.RawMessage(bytes.TrimSpace(body))
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}

	for i := 0; i < 2; i++ {
		var obj map[string]json.RawMessage
		if data[0] != '{' || json.Unmarshal(data, &obj) != nil {
			return data, nil
		}

		if rawSuccess, ok := obj["success"]; ok {
			var success bool
			if json.Unmarshal(rawSuccess, &success) != nil {
				return data, nil
			}
			if !success {
				return nil, model.NewBadRequestError(envelopeError(obj))
			}
			inner, ok := obj["data"]
			if !ok {
				return json.RawMessage("null"), nil
			}
			data = bytes.TrimSpace(inner)
			if len(data) == 0 {
				return json.RawMessage("null"), nil
			}
			continue
		}

		// {data: {success, data}}
		inner, ok := obj["data"]
		if !ok || len(obj) != 1 {
			return data, nil
		}
		var innerObj map[string]json.RawMessage
		if json.Unmarshal(inner, &innerObj) != nil {
			return data, nil
		}
		if _, ok := innerObj["success"]; !ok {
			return data, nil
		}
		data = bytes.TrimSpace(inner)
	}
	return data, nil
}

func envelopeError(obj map[string]json.RawMessage) string {
	for _, key := range []string{"error", "message"} {
		var s string
		if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return "Request failed"
}

var listEndpoints = map[string]bool{
	"/data/suppliers":           true,
	"/data/staff":               true,
	"/data/vendors":             true,
	"/data/lots":                true,
	"/notifications":            true,
	"/inventory":                true,
	"/weight-notes/":            true,
	"/ppc-forms/":               true,
	"/fp-forms/":                true,
	"/depuration/":              true,
	"/staff-lead/staff-list":    true,
	"/staff-lead/vendor-list":   true,
	"/super-admin/admins":       true,
	"/super-admin/audit-logs":   true,
	"/qc/forms/pending":         true,
	"/api/gate/inside-vehicles": true,
}

func isListEndpoint(path string) bool {
	return listEndpoints[path]
}

// coerceArray returns data when it is an array, the array inside a bare
// {"data": [...]} wrapper, and [] otherwise.
func coerceArray(data json.RawMessage) json.RawMessage {
	if len(data) > 0 && data[0] == '[' {
		return data
	}
	var obj map[string]json.RawMessage
	if len(data) > 0 && data[0] == '{' && json.Unmarshal(data, &obj) == nil && len(obj) == 1 {
		if inner := bytes.TrimSpace(obj["data"]); len(inner) > 0 && inner[0] == '[' {
			return inner
		}
	}
	return json.RawMessage("[]")
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableError reports whether err came from the transport. Breaker
// rejections and request-building failures are final.
func isRetryableError(err error) bool {
	var te *transportError
	return errors.As(err, &te) && te.env.Code == model.ErrBackendUnavailable
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newBackOff(cfg config.RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffInitial
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.Multiplier = cfg.BackoffMultiplier
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	b.MaxInterval = cfg.BackoffMax
	if b.MaxInterval <= 0 {
		b.MaxInterval = 2 * time.Second
	}
	b.RandomizationFactor = 0.2
	return b
}
