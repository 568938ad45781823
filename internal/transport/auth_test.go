package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clamflow/clamflow-bff/model"
)

func TestSessionIDFrom(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if got := SessionIDFrom(req, DefaultSessionCookie); got != "" {
		t.Errorf("SessionIDFrom() = %q, want empty", got)
	}

	req.Header.Set("Authorization", "Bearer sess-header")
	if got := SessionIDFrom(req, DefaultSessionCookie); got != "sess-header" {
		t.Errorf("SessionIDFrom() = %q, want sess-header", got)
	}

	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "sess-cookie"})
	if got := SessionIDFrom(req, DefaultSessionCookie); got != "sess-cookie" {
		t.Errorf("SessionIDFrom() = %q, want the cookie to win", got)
	}
}

type stubResolver struct {
	sess model.Session
	err  error
}

func (s stubResolver) Resolve(context.Context, string) (model.Session, error) {
	return s.sess, s.err
}

func TestSessionAuthenticator_buildsRequestContext(t *testing.T) {
	resolver := stubResolver{sess: model.Session{
		ID:    "sess-1",
		Token: "tok-1",
		User:  model.User{ID: "42", Username: "ravi", Role: "station_qa", Station: "PPC Station"},
	}}

	var got *model.RequestContext
	handler := RequestID(SessionAuthenticator(resolver, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.RequestContextFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderCorrelationID, "corr-9")
	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got == nil {
		t.Fatal("RequestContext should be in context")
	}
	if got.SessionID != "sess-1" || got.UserID != "42" || got.Token != "tok-1" {
		t.Errorf("RequestContext = %+v", got)
	}
	if got.Role != model.RoleQCStaff {
		t.Errorf("Role = %q, want %q", got.Role, model.RoleQCStaff)
	}
	if got.RoleName != "station_qa" {
		t.Errorf("RoleName = %q, want station_qa", got.RoleName)
	}
	if got.CorrelationID != "corr-9" {
		t.Errorf("CorrelationID = %q, want corr-9", got.CorrelationID)
	}
}

func TestSessionAuthenticator_rejects(t *testing.T) {
	resolver := stubResolver{err: model.NewUnauthorizedError("Session expired")}
	handler := SessionAuthenticator(resolver, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestLogin_createsSession(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "POST", "/api/auth/login", map[string]string{"username": "asha", "password": "secret"})

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var body struct {
		SessionID string     `json:"session_id"`
		Me        meResponse `json:"me"`
	}
	decodeData(t, w, &body)
	if body.SessionID == "" {
		t.Fatal("session_id should be set")
	}
	if body.Me.Role != model.RoleProductionLead {
		t.Errorf("role = %q, want %q", body.Me.Role, model.RoleProductionLead)
	}
	if len(body.Me.Menu.Items) == 0 {
		t.Error("menu should list the role's modules")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == DefaultSessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login should set the session cookie")
	}
	if cookie.Value != body.SessionID || !cookie.HttpOnly {
		t.Errorf("cookie = %+v", cookie)
	}

	sess, err := ts.sessions.Resolve(context.Background(), body.SessionID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sess.Token != "tok-asha" {
		t.Errorf("session token = %q, want tok-asha", sess.Token)
	}
}

func TestLogin_validation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "POST", "/api/auth/login", map[string]string{"username": "  "})

	if w.Code != 422 {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	env := decodeEnvelope(t, w)
	if len(env.Error.Details) != 2 {
		t.Errorf("details = %+v, want username and password", env.Error.Details)
	}
}

func TestLogin_badCredentials(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "POST", "/api/auth/login", map[string]string{"username": "asha", "password": "wrong"})

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("failed login should not set a cookie")
	}
}

func TestLogin_malformedBody(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "", "POST", "/api/auth/login", "{not json")

	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestLogout_destroysSession(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Admin")

	w := ts.do(t, sid, "POST", "/api/auth/logout", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Set-Cookie"); !strings.Contains(got, "Max-Age=0") {
		t.Errorf("Set-Cookie = %q, want the cookie cleared", got)
	}

	w = ts.do(t, sid, "GET", "/api/me", nil)
	if w.Code != 401 {
		t.Errorf("me after logout status = %d, want 401", w.Code)
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Security Guard")

	w := ts.do(t, sid, "GET", "/api/me", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var me meResponse
	decodeData(t, w, &me)
	if me.Role != model.RoleSecurityGuard {
		t.Errorf("role = %q", me.Role)
	}
	if len(me.Modules) != 1 || me.Modules[0] != "gate_control" {
		t.Errorf("modules = %v, want [gate_control]", me.Modules)
	}
	if me.Permissions.CanManageSystem {
		t.Error("security guard should not manage the system")
	}
	if len(me.Capabilities) != 1 || me.Capabilities[0] != "module:gate_control" {
		t.Errorf("capabilities = %v, want [module:gate_control]", me.Capabilities)
	}
	if len(me.Outranks) != 1 || me.Outranks[0] != model.RoleSecurityGuard {
		t.Errorf("outranks = %v, want [Security Guard]", me.Outranks)
	}
}

func TestPermissionCheck(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "QC Staff")

	tests := []struct {
		query string
		want  bool
	}{
		{"module=quality_control", true},
		{"module=admin_panel", false},
		{"form_type=weight_note", true},
		{"form_type=depuration_form", false},
		{"permission=canManageSystem", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := ts.do(t, sid, "GET", "/api/permissions/check?"+tt.query, nil)
			if w.Code != 200 {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var body struct {
				Allowed bool `json:"allowed"`
			}
			decodeData(t, w, &body)
			if body.Allowed != tt.want {
				t.Errorf("allowed = %v, want %v", body.Allowed, tt.want)
			}
		})
	}

	w := ts.do(t, sid, "GET", "/api/permissions/check", nil)
	if w.Code != 400 {
		t.Errorf("status without a query = %d, want 400", w.Code)
	}
}

func TestSessionAuthenticator_rejectsIncompleteSession(t *testing.T) {
	resolver := stubResolver{sess: model.Session{ID: "sess-1", User: model.User{ID: "42"}}}
	called := false
	handler := SessionAuthenticator(resolver, "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || called {
		t.Errorf("status = %d, handler called = %v, want 401 without calling", w.Code, called)
	}
}
