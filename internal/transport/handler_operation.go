package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/backend"
	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/model"
)

// OperationsBackend is the part of the backend facade reached through the
// role-gated operation routes.
type OperationsBackend interface {
	Lot(ctx context.Context, id string) (json.RawMessage, error)
	WeightNotes(ctx context.Context) ([]backend.Record, error)
	PPCForms(ctx context.Context) ([]backend.Record, error)
	FPForms(ctx context.Context) ([]backend.Record, error)
	DepurationForms(ctx context.Context) ([]backend.Record, error)
	ApproveWeightNote(ctx context.Context, id string) (json.RawMessage, error)
	ApprovePPCForm(ctx context.Context, id string) (json.RawMessage, error)
	ApproveFPForm(ctx context.Context, id string) (json.RawMessage, error)
	SubmitDepurationResult(ctx context.Context, result any) (json.RawMessage, error)
	ApproveMicrobiology(ctx context.Context, lotID string) (json.RawMessage, error)

	AttendanceOverview(ctx context.Context, filters map[string]string) (json.RawMessage, error)
	VendorList(ctx context.Context, filters map[string]string) ([]backend.Record, error)

	GateEntry(ctx context.Context, rfidTags []string) (json.RawMessage, error)
	GateExit(ctx context.Context, rfidTags []string) (json.RawMessage, error)
	VehicleEntry(ctx context.Context, entry any) (json.RawMessage, error)
	RecordAttendance(ctx context.Context, employeeID, method string) (json.RawMessage, error)

	SubmitStaffOnboarding(ctx context.Context, data any) (json.RawMessage, error)
	SubmitSupplierOnboarding(ctx context.Context, data any) (json.RawMessage, error)
	SubmitVendorOnboarding(ctx context.Context, data any) (json.RawMessage, error)
	ApproveOnboarding(ctx context.Context, id string) (json.RawMessage, error)
	RejectOnboarding(ctx context.Context, id, reason string) (json.RawMessage, error)

	CreateAdmin(ctx context.Context, admin any) (json.RawMessage, error)
	UpdateAdminPermissions(ctx context.Context, userID string, perms any) (json.RawMessage, error)
}

// operationSpec is one role-gated call through the backend facade. A
// non-empty message marks a write; writes are logged and answered with it.
type operationSpec struct {
	allowed func(m *capability.Matrix, role model.Role) bool
	denied  string
	message string
	call    func(r *http.Request, b Backend) (any, error)
}

func anyModule(modules ...string) func(*capability.Matrix, model.Role) bool {
	return func(m *capability.Matrix, role model.Role) bool {
		return m.CanAccessAnyModule(role, modules...)
	}
}

func approverOf(ft model.FormType) func(*capability.Matrix, model.Role) bool {
	return func(m *capability.Matrix, role model.Role) bool {
		return m.CanApproveForm(role, ft)
	}
}

func withPermission(flag string) func(*capability.Matrix, model.Role) bool {
	return func(m *capability.Matrix, role model.Role) bool {
		return m.HasPermission(role, flag)
	}
}

func (h *handlers) operation(spec operationSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		if !spec.allowed(h.deps.Matrix, rctx.Role) {
			WriteForbidden(w, spec.denied)
			return
		}
		data, err := spec.call(r, h.deps.Backend)
		if err != nil {
			WriteError(w, err)
			return
		}
		if spec.message == "" {
			WriteData(w, http.StatusOK, data)
			return
		}
		h.logger(r).Info("backend operation completed",
			zap.String("route", chi.RouteContext(r.Context()).RoutePattern()))
		WriteMessage(w, http.StatusOK, data, spec.message)
	}
}

// queryFilters flattens the query string to its first value per key.
func queryFilters(r *http.Request) map[string]string {
	q := r.URL.Query()
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

// decodeObject reads a JSON object body.
func decodeObject(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, model.NewBadRequestError("request body must be a JSON object")
	}
	return body, nil
}

func requiredString(body map[string]any, field, label string) (string, error) {
	s, _ := body[field].(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", model.NewFieldValidationError(field, model.FieldRequired, label+" is required")
	}
	return s, nil
}

var attendanceMethods = map[string]bool{"face": true, "qr": true, "rfid": true}

func rfidTags(r *http.Request) ([]string, error) {
	var body struct {
		RFIDTags []string `json:"rfid_tags"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}
	tags := body.RFIDTags[:0]
	for _, t := range body.RFIDTags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil, model.NewFieldValidationError("rfid_tags", model.FieldRequired, "At least one RFID tag is required")
	}
	return tags, nil
}

func submitObject(submit func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error)) func(*http.Request, Backend) (any, error) {
	return func(r *http.Request, b Backend) (any, error) {
		body, err := decodeObject(r)
		if err != nil {
			return nil, err
		}
		return submit(b, r.Context(), body)
	}
}

func (h *handlers) routeOperations(r chi.Router) {
	flowReaders := anyModule(capability.ModuleProductionForms, capability.ModuleQualityControl)

	r.Get("/api/lots/{lotId}", h.operation(operationSpec{
		allowed: flowReaders,
		denied:  "Your role cannot view lots",
		call: func(r *http.Request, b Backend) (any, error) {
			return b.Lot(r.Context(), chi.URLParam(r, "lotId"))
		},
	}))

	r.Route("/api/records", func(r chi.Router) {
		lists := map[string]func(context.Context, Backend) ([]backend.Record, error){
			"/weight-notes": func(ctx context.Context, b Backend) ([]backend.Record, error) { return b.WeightNotes(ctx) },
			"/ppc-forms":    func(ctx context.Context, b Backend) ([]backend.Record, error) { return b.PPCForms(ctx) },
			"/fp-forms":     func(ctx context.Context, b Backend) ([]backend.Record, error) { return b.FPForms(ctx) },
		}
		for path, list := range lists {
			r.Get(path, h.operation(operationSpec{
				allowed: flowReaders,
				denied:  "Your role cannot view production records",
				call: func(r *http.Request, b Backend) (any, error) {
					return list(r.Context(), b)
				},
			}))
		}
		r.Get("/depuration", h.operation(operationSpec{
			allowed: anyModule(capability.ModuleQualityControl),
			denied:  "Your role cannot view depuration records",
			call: func(r *http.Request, b Backend) (any, error) {
				return b.DepurationForms(r.Context())
			},
		}))

		approvals := []struct {
			path    string
			form    model.FormType
			message string
			approve func(Backend, context.Context, string) (json.RawMessage, error)
		}{
			{"/weight-notes/{id}/approve", model.FormTypeWeightNote, "Weight note approved", Backend.ApproveWeightNote},
			{"/ppc-forms/{id}/approve", model.FormTypePPC, "PPC form approved", Backend.ApprovePPCForm},
			{"/fp-forms/{id}/approve", model.FormTypeFP, "FP form approved", Backend.ApproveFPForm},
		}
		for _, a := range approvals {
			r.Post(a.path, h.operation(operationSpec{
				allowed: approverOf(a.form),
				denied:  "Your role cannot approve " + string(a.form) + " records",
				message: a.message,
				call: func(r *http.Request, b Backend) (any, error) {
					return a.approve(b, r.Context(), chi.URLParam(r, "id"))
				},
			}))
		}
	})

	depurationApprover := approverOf(model.FormTypeDepuration)
	r.Post("/api/qc-lead/depuration-results", h.operation(operationSpec{
		allowed: depurationApprover,
		denied:  "Your role cannot record depuration results",
		message: "Depuration result recorded",
		call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
			if _, err := requiredString(body, "lot_id", "Lot"); err != nil {
				return nil, err
			}
			return b.SubmitDepurationResult(ctx, body)
		}),
	}))
	r.Post("/api/qc-lead/lots/{lotId}/microbiology/approve", h.operation(operationSpec{
		allowed: depurationApprover,
		denied:  "Your role cannot approve microbiology results",
		message: "Microbiology approved",
		call: func(r *http.Request, b Backend) (any, error) {
			return b.ApproveMicrobiology(r.Context(), chi.URLParam(r, "lotId"))
		},
	}))

	hr := anyModule(capability.ModuleHRManagement)
	r.Get("/api/staff-lead/attendance", h.operation(operationSpec{
		allowed: hr,
		denied:  "Your role cannot view attendance",
		call: func(r *http.Request, b Backend) (any, error) {
			return b.AttendanceOverview(r.Context(), queryFilters(r))
		},
	}))
	r.Get("/api/staff-lead/vendors", h.operation(operationSpec{
		allowed: hr,
		denied:  "Your role cannot view vendors",
		call: func(r *http.Request, b Backend) (any, error) {
			return b.VendorList(r.Context(), queryFilters(r))
		},
	}))

	gate := anyModule(capability.ModuleGateControl)
	r.Post("/api/gate/entry", h.operation(operationSpec{
		allowed: gate,
		denied:  "Your role cannot operate the gate",
		message: "Gate entry logged",
		call: func(r *http.Request, b Backend) (any, error) {
			tags, err := rfidTags(r)
			if err != nil {
				return nil, err
			}
			return b.GateEntry(r.Context(), tags)
		},
	}))
	r.Post("/api/gate/exit", h.operation(operationSpec{
		allowed: gate,
		denied:  "Your role cannot operate the gate",
		message: "Gate exit logged",
		call: func(r *http.Request, b Backend) (any, error) {
			tags, err := rfidTags(r)
			if err != nil {
				return nil, err
			}
			return b.GateExit(r.Context(), tags)
		},
	}))
	r.Post("/api/gate/vehicles", h.operation(operationSpec{
		allowed: gate,
		denied:  "Your role cannot log vehicles",
		message: "Vehicle entry logged",
		call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
			return b.VehicleEntry(ctx, body)
		}),
	}))
	r.Post("/api/attendance", h.operation(operationSpec{
		allowed: anyModule(capability.ModuleGateControl, capability.ModuleHRManagement),
		denied:  "Your role cannot record attendance",
		message: "Attendance recorded",
		call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
			employee, err := requiredString(body, "employee_id", "Employee")
			if err != nil {
				return nil, err
			}
			method, _ := body["method"].(string)
			if !attendanceMethods[method] {
				return nil, model.NewFieldValidationError("method", model.FieldInvalidEnum,
					"Method must be face, qr or rfid")
			}
			return b.RecordAttendance(ctx, employee, method)
		}),
	}))

	r.Route("/api/onboarding", func(r chi.Router) {
		submitters := anyModule(capability.ModuleHRManagement, capability.ModuleAdminPanel)
		kinds := map[string]func(Backend, context.Context, any) (json.RawMessage, error){
			"/staff":    Backend.SubmitStaffOnboarding,
			"/supplier": Backend.SubmitSupplierOnboarding,
			"/vendor":   Backend.SubmitVendorOnboarding,
		}
		for path, submit := range kinds {
			r.Post(path, h.operation(operationSpec{
				allowed: submitters,
				denied:  "Your role cannot submit onboarding requests",
				message: "Onboarding request submitted",
				call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
					return submit(b, ctx, body)
				}),
			}))
		}

		reviewer := withPermission(model.PermApproveOnboarding)
		r.Post("/{id}/approve", h.operation(operationSpec{
			allowed: reviewer,
			denied:  "Your role cannot approve onboarding requests",
			message: "Onboarding approved",
			call: func(r *http.Request, b Backend) (any, error) {
				return b.ApproveOnboarding(r.Context(), chi.URLParam(r, "id"))
			},
		}))
		r.Post("/{id}/reject", h.operation(operationSpec{
			allowed: reviewer,
			denied:  "Your role cannot reject onboarding requests",
			message: "Onboarding rejected",
			call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
				reason, err := requiredString(body, "reason", "Rejection reason")
				if err != nil {
					return nil, err
				}
				return b.RejectOnboarding(ctx, chi.URLParamFromCtx(ctx, "id"), reason)
			}),
		}))
	})

	r.Post("/api/admin/admins", h.operation(operationSpec{
		allowed: withPermission(model.PermCreateUsers),
		denied:  "Your role cannot create administrators",
		message: "Administrator created",
		call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
			if _, err := requiredString(body, "username", "Username"); err != nil {
				return nil, err
			}
			return b.CreateAdmin(ctx, body)
		}),
	}))
	r.Put("/api/admin/admins/{userId}/permissions", h.operation(operationSpec{
		allowed: withPermission(model.PermEditUsers),
		denied:  "Your role cannot change permissions",
		message: "Permissions updated",
		call: submitObject(func(b Backend, ctx context.Context, body map[string]any) (json.RawMessage, error) {
			return b.UpdateAdminPermissions(ctx, chi.URLParamFromCtx(ctx, "userId"), body)
		}),
	}))
}
