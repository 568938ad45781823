package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clamflow/clamflow-bff/model"
)

type errorBody struct {
	Success  bool                `json:"success"`
	Error    model.ErrorEnvelope `json:"error"`
	Redirect string              `json:"redirect"`
}

func decodeRecorder(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestWriteData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteData(w, http.StatusCreated, map[string]string{"lot_id": "LOT-1"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	var body struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	decodeRecorder(t, w, &body)
	if !body.Success || body.Data["lot_id"] != "LOT-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteMessage_omitsNilData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteMessage(w, http.StatusOK, nil, "Signed out")

	var body map[string]any
	decodeRecorder(t, w, &body)
	if body["message"] != "Signed out" {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["data"]; ok {
		t.Errorf("data = %v, want omitted", body["data"])
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantCode     string
		wantRedirect string
	}{
		{"not found", model.NewNotFoundError("lot not found"), http.StatusNotFound, model.ErrNotFound, ""},
		{"wrapped unauthorized", fmt.Errorf("resolve: %w", model.NewUnauthorizedError("Session expired")),
			http.StatusUnauthorized, model.ErrUnauthorized, LoginRedirect},
		{"validation", model.NewValidationError([]model.FieldError{{Field: "weight", Code: model.FieldNotPositive}}),
			http.StatusUnprocessableEntity, model.ErrValidationError, ""},
		{"backend down", model.NewBackendUnavailableError(), http.StatusBadGateway, model.ErrBackendUnavailable, ""},
		{"plain error hidden", fmt.Errorf("pq: relation missing"), http.StatusInternalServerError, model.ErrInternalError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("X-Redirect"); got != tt.wantRedirect {
				t.Errorf("X-Redirect = %q, want %q", got, tt.wantRedirect)
			}
			var body errorBody
			decodeRecorder(t, w, &body)
			if body.Success || body.Error.Code != tt.wantCode || body.Redirect != tt.wantRedirect {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestWriteError_attachesTraceID(t *testing.T) {
	const traceID = "0af7651916cd43dd8448eb211c80319c"
	shared := model.NewConflictError("Form already approved")

	w := httptest.NewRecorder()
	w.Header().Set("Traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
	WriteError(w, shared)

	var body errorBody
	decodeRecorder(t, w, &body)
	if body.Error.TraceID != traceID {
		t.Errorf("trace_id = %q, want %q", body.Error.TraceID, traceID)
	}
	if shared.TraceID != "" {
		t.Error("WriteError() mutated the caller's error")
	}
}

func TestTraceIDFromHeader(t *testing.T) {
	for in, want := range map[string]string{
		"":              "",
		"garbage":       "",
		"00-abc-def-01": "",
		"00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01": "0af7651916cd43dd8448eb211c80319c",
	} {
		if got := traceIDFromHeader(in); got != want {
			t.Errorf("traceIDFromHeader(%q) = %q, want %q", in, got, want)
		}
	}
}
