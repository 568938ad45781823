package transport

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/internal/workflow"
	"github.com/clamflow/clamflow-bff/model"
)

// flowModules are the modules whose users operate the lot flow.
var flowModules = []string{capability.ModuleProductionForms, capability.ModuleQualityControl}

func (h *handlers) canOperateFlow(w http.ResponseWriter, rctx *model.RequestContext) bool {
	if h.deps.Matrix.CanAccessAnyModule(rctx.Role, flowModules...) {
		return true
	}
	WriteForbidden(w, "Your role cannot operate the lot flow")
	return false
}

func (h *handlers) workflowGet(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	view, err := h.deps.Tracker.Get(r.Context(), rctx.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if staffID := view.State.CurrentQCStaffID; staffID != "" && h.deps.Approvals != nil {
		items, err := h.deps.Approvals.Items(r.Context())
		if err != nil {
			h.logger(r).Warn("station pending count unavailable", zap.Error(err))
		} else {
			view.PendingForStations = workflow.PendingCountForStations(h.deps.Matrix, staffID, items)
		}
	}
	WriteData(w, http.StatusOK, view)
}

func (h *handlers) workflowCreateLot(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok || !h.canOperateFlow(w, rctx) {
		return
	}
	view, err := h.deps.Tracker.CreateLot(r.Context(), rctx)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusCreated, view)
}

func (h *handlers) workflowSelectQCStaff(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok || !h.canOperateFlow(w, rctx) {
		return
	}
	var body struct {
		StaffID string `json:"staff_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	view, err := h.deps.Tracker.SelectQCStaff(r.Context(), rctx, body.StaffID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, view)
}

func (h *handlers) workflowReset(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok || !h.canOperateFlow(w, rctx) {
		return
	}
	view, err := h.deps.Tracker.Reset(r.Context(), rctx)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, view)
}

func (h *handlers) workflowEvents(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	events, err := h.deps.Tracker.Events(r.Context(), rctx.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if events == nil {
		events = []model.FlowEvent{}
	}
	WriteData(w, http.StatusOK, events)
}

func (h *handlers) workflowQCStaffOptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestContext(w, r); !ok {
		return
	}
	WriteData(w, http.StatusOK, h.deps.Tracker.QCStaffOptions())
}
