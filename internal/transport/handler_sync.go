package transport

import (
	"net/http"

	"github.com/clamflow/clamflow-bff/model"
)

func (h *handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestContext(w, r); !ok {
		return
	}
	if h.deps.Syncer == nil {
		WriteData(w, http.StatusOK, model.SyncStatus{})
		return
	}
	status, err := h.deps.Syncer.Status(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, status)
}

func (h *handlers) syncRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestContext(w, r); !ok {
		return
	}
	if h.deps.Syncer == nil {
		unavailable(w, "Offline sync")
		return
	}
	result, err := h.deps.Syncer.SyncNow(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, result)
}
