// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the BFF API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/clamflow/clamflow-bff/model"
)

// LoginRedirect is where the UI is sent after a rejected session.
const LoginRedirect = "/login"

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteData writes a successful envelope around data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, model.Envelope{Success: true, Data: data})
}

// WriteMessage writes a successful envelope with a message and no data.
func WriteMessage(w http.ResponseWriter, status int, data any, message string) {
	WriteJSON(w, status, model.Envelope{Success: true, Data: data, Message: message})
}

type errorResponse struct {
	Success  bool                 `json:"success"`
	Error    *model.ErrorEnvelope `json:"error"`
	Redirect string               `json:"redirect,omitempty"`
}

// WriteError renders err as an error envelope. Errors that are not an
// *ErrorEnvelope become a generic 500 so internals never leak. The trace id
// is lifted from the traceparent the tracing middleware already set, and a
// 401 sends the dashboard back to the login page.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	if id := traceIDFromHeader(w.Header().Get("Traceparent")); id != "" && ee.TraceID == "" {
		copied := *ee
		copied.TraceID = id
		ee = &copied
	}

	status := ee.Status()
	resp := errorResponse{Error: ee}
	if status == http.StatusUnauthorized {
		w.Header().Set("X-Redirect", LoginRedirect)
		resp.Redirect = LoginRedirect
	}
	WriteJSON(w, status, resp)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

// traceIDFromHeader extracts the trace id from a W3C traceparent value
// ("00-<trace>-<span>-<flags>").
func traceIDFromHeader(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	return parts[1]
}

// decodeJSON decodes a request body into v, rejecting malformed JSON.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}
