package transport

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/model"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// meResponse describes the signed-in user and what the dashboard shows them.
type meResponse struct {
	User        model.User            `json:"user"`
	Role        model.Role            `json:"role"`
	Level       int                   `json:"level"`
	Permissions model.RolePermissions `json:"permissions"`
	Modules     []string              `json:"modules"`
	// Outranks lists the roles at or below the user's level, for display.
	Outranks []model.Role `json:"outranks"`
	// Capabilities is the raw capability set, e.g. "form:approve:fp_form".
	Capabilities []string             `json:"capabilities,omitempty"`
	Menu         model.NavigationTree `json:"menu"`
	ExpiresAt    time.Time            `json:"expires_at"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	var details []model.FieldError
	if body.Username == "" {
		details = append(details, model.FieldError{Field: "username", Code: model.FieldRequired, Message: "Username is required"})
	}
	if body.Password == "" {
		details = append(details, model.FieldError{Field: "password", Code: model.FieldRequired, Message: "Password is required"})
	}
	if len(details) > 0 {
		WriteValidationError(w, details)
		return
	}

	ctx := r.Context()
	res, err := h.deps.Backend.Login(ctx, body.Username, body.Password)
	if err != nil {
		h.deps.Metrics.RecordLogin("failure")
		h.logger(r).Warn("login rejected", zap.String("username", body.Username), zap.Error(err))
		WriteError(w, err)
		return
	}

	user := res.User
	if user.ID == "" {
		// Older backends return only the token.
		pctx := model.WithRequestContext(ctx, &model.RequestContext{Token: res.AccessToken})
		user, err = h.deps.Backend.Profile(pctx)
		if err != nil {
			h.deps.Metrics.RecordLogin("failure")
			WriteError(w, err)
			return
		}
	}

	sess, err := h.deps.Sessions.Create(ctx, res.AccessToken, user)
	if err != nil {
		h.deps.Metrics.RecordLogin("failure")
		WriteError(w, err)
		return
	}
	h.deps.Metrics.RecordLogin("success")
	h.logger(r).Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("role", user.Role),
	)

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.deps.Config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	rctx := &model.RequestContext{
		SessionID: sess.ID,
		UserID:    user.ID,
		Role:      user.CanonicalRole(),
		RoleName:  user.Role,
		Token:     sess.Token,
	}
	resp := h.buildMe(r, rctx, sess)
	WriteData(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"me":         resp,
	})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	if err := h.deps.Sessions.Destroy(r.Context(), rctx.SessionID); err != nil {
		WriteError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.deps.Config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	WriteMessage(w, http.StatusOK, nil, "Signed out")
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	sess, err := h.deps.Sessions.Resolve(r.Context(), rctx.SessionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, h.buildMe(r, rctx, sess))
}

func (h *handlers) buildMe(r *http.Request, rctx *model.RequestContext, sess model.Session) meResponse {
	resp := meResponse{
		User:      sess.User,
		Role:      rctx.Role,
		Level:     rctx.Role.Level(),
		Modules:   []string{},
		Outranks:  []model.Role{},
		ExpiresAt: sess.ExpiresAt,
	}
	for _, role := range model.AllRoles {
		if capability.HasHierarchyLevel(rctx.Role, role) {
			resp.Outranks = append(resp.Outranks, role)
		}
	}
	if m := h.deps.Matrix; m != nil {
		resp.Permissions = m.Permissions(rctx.Role)
		resp.Modules = m.AccessibleModules(rctx.Role)
	}
	if h.deps.Capabilities != nil {
		caps, err := h.deps.Capabilities.Resolve(rctx)
		if err != nil {
			h.logger(r).Warn("capability resolution failed", zap.Error(err))
		} else {
			resp.Capabilities = caps.Sorted()
		}
	}
	if h.deps.Menu != nil {
		resp.Menu = h.deps.Menu.Menu(r.Context(), rctx)
	}
	return resp
}

func (h *handlers) permissionCheck(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	m := h.deps.Matrix
	q := r.URL.Query()
	switch {
	case q.Get("module") != "":
		module := q.Get("module")
		WriteData(w, http.StatusOK, map[string]any{"module": module, "allowed": m.CanAccessModule(rctx.Role, module)})
	case q.Get("form_type") != "":
		ft := model.FormType(q.Get("form_type"))
		WriteData(w, http.StatusOK, map[string]any{"form_type": ft, "allowed": m.CanApproveForm(rctx.Role, ft)})
	case q.Get("permission") != "":
		flag := q.Get("permission")
		WriteData(w, http.StatusOK, map[string]any{"permission": flag, "allowed": m.HasPermission(rctx.Role, flag)})
	default:
		WriteError(w, model.NewBadRequestError("one of module, form_type or permission is required"))
	}
}
