package transport

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/approval"
	"github.com/clamflow/clamflow-bff/internal/realtime"
	"github.com/clamflow/clamflow-bff/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type queueResponse struct {
	Items   []model.PendingApprovalItem `json:"items"`
	Summary model.QueueSummary          `json:"summary"`
}

func queueFilter(r *http.Request) model.QueueFilter {
	q := r.URL.Query()
	return model.QueueFilter{Type: q.Get("type"), Stage: q.Get("stage")}
}

func (h *handlers) queue(w http.ResponseWriter, r *http.Request) ([]model.PendingApprovalItem, bool) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return nil, false
	}
	items, err := h.deps.Approvals.Queue(r.Context(), rctx, queueFilter(r))
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return items, true
}

func (h *handlers) approvalList(w http.ResponseWriter, r *http.Request) {
	items, ok := h.queue(w, r)
	if !ok {
		return
	}
	WriteData(w, http.StatusOK, queueResponse{Items: items, Summary: approval.Summarize(items)})
}

func (h *handlers) approvalSummary(w http.ResponseWriter, r *http.Request) {
	items, ok := h.queue(w, r)
	if !ok {
		return
	}
	WriteData(w, http.StatusOK, approval.Summarize(items))
}

func (h *handlers) approvalExport(w http.ResponseWriter, r *http.Request) {
	items, ok := h.queue(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := approval.WriteWorkbook(&buf, items); err != nil {
		h.logger(r).Error("approval export failed", zap.Error(err))
		WriteError(w, model.NewInternalError())
		return
	}
	name := fmt.Sprintf("approvals-%s.xlsx", h.now().Format("20060102-1504"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handlers) approvalApprove(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	item, err := h.deps.Approvals.Approve(r.Context(), rctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	h.refreshQueue(r)
	WriteMessage(w, http.StatusOK, item, "Form approved")
}

func (h *handlers) approvalReject(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Approvals.Reject(r.Context(), rctx, id, strings.TrimSpace(body.Reason)); err != nil {
		WriteError(w, err)
		return
	}
	h.refreshQueue(r)
	WriteMessage(w, http.StatusOK, map[string]string{"id": id, "status": model.StageRejected}, "Form rejected")
}

// refreshQueue pushes a fresh snapshot to open streams after an action.
func (h *handlers) refreshQueue(r *http.Request) {
	if h.deps.Poller == nil || !h.deps.Poller.Enabled() {
		return
	}
	if err := h.deps.Poller.Refresh(r.Context()); err != nil {
		h.logger(r).Debug("approval queue refresh after action failed", zap.Error(err))
	}
}

func (h *handlers) approvalStream(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	if h.deps.Hub == nil {
		unavailable(w, "Approval stream")
		return
	}

	var initial *realtime.Event
	if h.deps.Poller != nil {
		if snap := h.deps.Poller.Snapshot(); !snap.UpdatedAt.IsZero() {
			ev, err := realtime.NewEvent(approval.EventQueueSnapshot, snap.ForRole(rctx.RoleName))
			if err == nil {
				initial = &ev
			}
		}
	}

	client := h.deps.Hub.RegisterScoped(rctx.UserID, rctx.RoleName)
	h.deps.Hub.Stream(r.Context(), w, client, initial, 0)
}
