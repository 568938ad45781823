package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// DefaultSessionCookie names the cookie carrying the BFF session id.
const DefaultSessionCookie = "clamflow_session"

// SessionResolver looks up a live BFF session.
type SessionResolver interface {
	Resolve(ctx context.Context, sid string) (model.Session, error)
}

// SessionIDFrom returns the session id from the session cookie, or from an
// Authorization bearer header when no cookie is present.
func SessionIDFrom(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// SessionAuthenticator returns middleware that resolves the caller's session
// and stores a RequestContext built from it. Requests without a live session
// get 401 with a login redirect.
func SessionAuthenticator(sessions SessionResolver, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Resolve(r.Context(), SessionIDFrom(r, cookieName))
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := r.Context()
			rctx := &model.RequestContext{
				SessionID:     sess.ID,
				UserID:        sess.User.ID,
				Username:      sess.User.Username,
				Role:          sess.User.CanonicalRole(),
				RoleName:      sess.User.Role,
				Station:       sess.User.Station,
				Token:         sess.Token,
				CorrelationID: CorrelationIDFrom(ctx),
				TraceID:       observability.TraceIDFromContext(ctx),
				SpanID:        observability.SpanIDFromContext(ctx),
			}
			if rctx.Validate() != nil {
				WriteError(w, model.NewUnauthorizedError("Session is incomplete; sign in again"))
				return
			}
			observability.AnnotateOperator(ctx, rctx.UserID, rctx.Role.Slug(), rctx.Station)
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(ctx, rctx)))
		})
	}
}

// requestContext returns the RequestContext or writes 401.
func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("Not signed in"))
		return nil, false
	}
	return rctx, true
}
