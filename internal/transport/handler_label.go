package transport

import (
	"net/http"
	"strings"

	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/model"
)

func (h *handlers) generateLabel(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	if !h.deps.Matrix.CanAccessModule(rctx.Role, capability.ModuleProductionForms) {
		WriteForbidden(w, "Your role cannot print box labels")
		return
	}
	if h.deps.Labels == nil {
		unavailable(w, "Label generation")
		return
	}
	var req model.QRLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	data, err := h.deps.Labels.Generate(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, http.StatusOK, data)
}

func (h *handlers) linkRFID(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requestContext(w, r)
	if !ok {
		return
	}
	if !h.deps.Matrix.CanAccessModule(rctx.Role, capability.ModuleProductionForms) {
		WriteForbidden(w, "Your role cannot link RFID tags")
		return
	}
	var tag model.RFIDTagData
	if err := decodeJSON(r, &tag); err != nil {
		WriteError(w, err)
		return
	}

	var details []model.FieldError
	if strings.TrimSpace(tag.TagID) == "" {
		details = append(details, model.FieldError{Field: "tag_id", Code: model.FieldRequired, Message: "Tag ID is required"})
	}
	if strings.TrimSpace(tag.BoxNumber) == "" {
		details = append(details, model.FieldError{Field: "box_number", Code: model.FieldRequired, Message: "Box number is required"})
	}
	if len(details) > 0 {
		WriteValidationError(w, details)
		return
	}

	if tag.LinkedBy == "" {
		tag.LinkedBy = rctx.UserID
	}
	if tag.LinkedAt.IsZero() {
		tag.LinkedAt = h.now().UTC()
	}
	linked, err := h.deps.Backend.LinkRFID(r.Context(), tag)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteMessage(w, http.StatusOK, linked, "Tag linked")
}
