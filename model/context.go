package model

import (
	"context"
	"fmt"
	"strings"
)

// RequestContext is the authenticated operator behind a request, built from
// the session by the auth middleware. Handlers treat it as read-only.
type RequestContext struct {
	SessionID string
	UserID    string
	Username  string
	Role      Role
	// RoleName is the role as the backend spells it, e.g. "station_qa".
	RoleName string
	Station  string
	// Token is the backend bearer token forwarded on every call.
	Token string

	CorrelationID string
	TraceID       string
	SpanID        string
}

// Validate reports which of SessionID, UserID and Token are missing.
func (rc *RequestContext) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"session id", rc.SessionID},
		{"user id", rc.UserID},
		{"token", rc.Token},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("request context: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

type requestContextKey struct{}

// WithRequestContext returns ctx carrying rctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext carried by ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
