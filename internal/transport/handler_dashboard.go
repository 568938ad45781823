package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clamflow/clamflow-bff/internal/capability"
)

// panelSpec is one read-only dashboard feed. An empty module means
// every signed-in role may read it.
type panelSpec struct {
	module string
	fetch  func(ctx context.Context, b Backend) (any, error)
}

var dashboardPanels = map[string]panelSpec{
	"metrics": {fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.DashboardMetrics(ctx)
	}},
	"notifications": {fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.Notifications(ctx)
	}},
	"qc-metrics": {module: capability.ModuleQualityControl, fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.QCMetrics(ctx)
	}},
	"inventory": {module: capability.ModuleProductionForms, fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.Inventory(ctx)
	}},
	"gate": {module: capability.ModuleGateControl, fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.InsideVehicles(ctx)
	}},
	"staff": {module: capability.ModuleHRManagement, fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.StaffList(ctx)
	}},
	"audit": {module: capability.ModuleAdminPanel, fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.AuditLogs(ctx)
	}},
	"admins": {module: capability.ModuleSuperAdmin, fetch: func(ctx context.Context, b Backend) (any, error) {
		return b.Admins(ctx)
	}},
}

func (h *handlers) dashboardPanel(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "panel")
	panel, found := dashboardPanels[name]
	if !found {
		WriteNotFound(w, "unknown dashboard panel: "+name)
		return
	}
	if panel.module != "" && !h.deps.Matrix.CanAccessModule(rctx.Role, panel.module) {
		WriteForbidden(w, "Your role cannot view this panel")
		return
	}
	data, err := panel.fetch(r.Context(), h.deps.Backend)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, data)
}
