package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
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
	"github.com/clamflow/clamflow-bff/internal/workflow"
	"github.com/clamflow/clamflow-bff/model"
)

// Backend is the subset of the backend client the handlers call directly.
type Backend interface {
	Login(ctx context.Context, username, password string) (backend.LoginResult, error)
	Profile(ctx context.Context) (model.User, error)

	CreateWeightNote(ctx context.Context, form any) (json.RawMessage, error)
	CreatePPCForm(ctx context.Context, form any) (json.RawMessage, error)
	CreateFPForm(ctx context.Context, form any) (json.RawMessage, error)
	LinkRFID(ctx context.Context, tag model.RFIDTagData) (model.RFIDTagData, error)

	DashboardMetrics(ctx context.Context) (json.RawMessage, error)
	QCMetrics(ctx context.Context) (json.RawMessage, error)
	Notifications(ctx context.Context) ([]backend.Record, error)
	Inventory(ctx context.Context) ([]backend.Record, error)
	InsideVehicles(ctx context.Context) ([]backend.Record, error)
	StaffList(ctx context.Context) ([]backend.Record, error)
	AuditLogs(ctx context.Context) ([]backend.Record, error)
	Admins(ctx context.Context) ([]backend.Record, error)

	OperationsBackend
}

// SessionManager opens, resolves and closes BFF sessions.
type SessionManager interface {
	SessionResolver
	Create(ctx context.Context, token string, user model.User) (model.Session, error)
	Destroy(ctx context.Context, sid string) error
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
// Optional components may be nil; their routes then report the feature as
// unavailable.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Registry http.Handler
	Ready    observability.ReadinessChecks

	Backend      Backend
	Sessions     SessionManager
	Matrix       *capability.Matrix
	Capabilities *capability.Resolver
	Tracker      *workflow.Tracker
	Approvals    *approval.Service
	Poller       *approval.Poller
	Hub          *realtime.Hub
	Labels       *label.Generator
	Lookups      *search.LookupProvider
	Menu         *metadata.MenuProvider
	Idempotency  command.IdempotencyStore
	Syncer       *offline.Syncer
	LoginLimiter *RateLimiter
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and login bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg := deps.Config
	h := &handlers{deps: deps, cookieName: cfg.Session.CookieName, now: time.Now}
	if h.cookieName == "" {
		h.cookieName = DefaultSessionCookie
	}

	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/api/health", observability.HandleHealth())
	r.Get("/api/ready", observability.HandleReady(deps.Ready))
	if deps.Registry != nil && cfg.Observability.Metrics.Enabled {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, deps.Registry)
	}

	r.Group(func(r chi.Router) {
		if deps.LoginLimiter != nil {
			r.Use(deps.LoginLimiter.Middleware)
		}
		r.Use(RequestLogging(deps.Logger))
		r.Post("/api/auth/login", h.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(SessionAuthenticator(deps.Sessions, h.cookieName))
		r.Use(RequestLogging(deps.Logger))

		r.Post("/api/auth/logout", h.logout)
		r.Get("/api/me", h.me)
		r.Get("/api/permissions/check", h.permissionCheck)

		r.Get("/api/approvals/stream", h.approvalStream)

		r.Group(func(r chi.Router) {
			r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))

			r.Route("/api/workflow", func(r chi.Router) {
				r.Get("/", h.workflowGet)
				r.Post("/lot", h.workflowCreateLot)
				r.Get("/qc-staff", h.workflowQCStaffOptions)
				r.Post("/qc-staff", h.workflowSelectQCStaff)
				r.Post("/reset", h.workflowReset)
				r.Get("/events", h.workflowEvents)
			})

			r.Route("/api/approvals", func(r chi.Router) {
				r.Get("/", h.approvalList)
				r.Get("/summary", h.approvalSummary)
				r.Get("/export", h.approvalExport)
				r.Post("/{id}/approve", h.approvalApprove)
				r.Post("/{id}/reject", h.approvalReject)
			})

			r.Route("/api/forms", func(r chi.Router) {
				r.Post("/weight-note", h.submitForm(weightNoteForm))
				r.Post("/ppc", h.submitForm(ppcForm))
				r.Post("/fp", h.submitForm(fpForm))
			})

			r.Post("/api/labels/qr", h.generateLabel)
			r.Post("/api/rfid/link", h.linkRFID)
			r.Get("/api/lookups", h.lookupList)
			r.Get("/api/lookups/{lookupId}", h.lookup)
			r.Delete("/api/lookups/{lookupId}/cache", h.lookupRefresh)
			r.Get("/api/sync/status", h.syncStatus)
			r.Post("/api/sync/run", h.syncRun)
			r.Get("/api/dashboard/{panel}", h.dashboardPanel)
			h.routeOperations(r)
		})
	})

	return r
}

// handlers binds the route handlers to their dependencies.
type handlers struct {
	deps       Dependencies
	cookieName string
	now        func() time.Time
}

func (h *handlers) logger(r *http.Request) *zap.Logger {
	return observability.RequestLogger(r.Context(), h.deps.Logger)
}

func unavailable(w http.ResponseWriter, feature string) {
	WriteError(w, model.NewNotFoundError(feature+" is not enabled"))
}
