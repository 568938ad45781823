package transport

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/capability"
)

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestContext(w, r); !ok {
		return
	}
	if h.deps.Lookups == nil {
		unavailable(w, "Lookups")
		return
	}
	resp, err := h.deps.Lookups.GetLookup(r.Context(), chi.URLParam(r, "lookupId"), r.URL.Query().Get("q"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, resp)
}

func (h *handlers) lookupList(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestContext(w, r); !ok {
		return
	}
	if h.deps.Lookups == nil {
		unavailable(w, "Lookups")
		return
	}
	WriteData(w, http.StatusOK, h.deps.Lookups.IDs())
}

// lookupRefresh drops cached options so the next read goes to the backend.
// Admin panel users only.
func (h *handlers) lookupRefresh(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	if h.deps.Lookups == nil {
		unavailable(w, "Lookups")
		return
	}
	if !h.deps.Matrix.CanAccessModule(rctx.Role, capability.ModuleAdminPanel) {
		WriteForbidden(w, "Your role cannot refresh lookups")
		return
	}
	id := chi.URLParam(r, "lookupId")
	if !slices.Contains(h.deps.Lookups.IDs(), id) {
		WriteNotFound(w, "unknown lookup: "+id)
		return
	}
	h.deps.Lookups.Invalidate(id)
	h.logger(r).Info("lookup cache cleared", zap.String("lookup_id", id))
	WriteMessage(w, http.StatusOK, nil, "Lookup cache cleared")
}
