package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/clamflow/clamflow-bff/model"
)

// LoginResult is the backend's response to a password login.
type LoginResult struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type,omitempty"`
	User        model.User `json:"user"`
}

// Record is a loosely typed backend object.
type Record = map[string]any

func (c *Client) get(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	return c.Do(ctx, Request{Op: op, Method: http.MethodGet, Path: path, Query: query})
}

func (c *Client) post(ctx context.Context, op, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Op: op, Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) put(ctx context.Context, op, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Op: op, Method: http.MethodPut, Path: path, Body: body})
}

func (c *Client) list(ctx context.Context, op, path string, query url.Values) ([]Record, error) {
	data, err := c.get(ctx, op, path, query)
	if err != nil {
		return nil, err
	}
	out := []Record{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("backend: decode %s: %w", op, err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func decodeInto[T any](op string, data json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("backend: decode %s: %w", op, err)
	}
	return out, nil
}

func filterQuery(filters map[string]string) url.Values {
	if len(filters) == 0 {
		return nil
	}
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// --- auth ---

// Login exchanges credentials for a backend access token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	data, err := c.post(ctx, "auth.login", "/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, err
	}
	res, err := decodeInto[LoginResult]("auth.login", data)
	if err != nil {
		return LoginResult{}, err
	}
	if res.AccessToken == "" {
		return LoginResult{}, model.NewUnauthorizedError("Login failed")
	}
	return res, nil
}

// Profile returns the user behind the current token.
func (c *Client) Profile(ctx context.Context) (model.User, error) {
	data, err := c.get(ctx, "user.profile", "/user/profile", nil)
	if err != nil {
		return model.User{}, err
	}
	return decodeInto[model.User]("user.profile", data)
}

// --- reference data ---

// Suppliers lists suppliers, optionally filtered.
func (c *Client) Suppliers(ctx context.Context, filters map[string]string) ([]Record, error) {
	return c.list(ctx, "data.suppliers", "/data/suppliers", filterQuery(filters))
}

// Staff lists plant staff.
func (c *Client) Staff(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "data.staff", "/data/staff", nil)
}

// Vendors lists vendors.
func (c *Client) Vendors(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "data.vendors", "/data/vendors", nil)
}

// Lots lists lots.
func (c *Client) Lots(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "data.lots", "/data/lots", nil)
}

// Lot returns one lot.
func (c *Client) Lot(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "data.lot", "/lots/"+url.PathEscape(id), nil)
}

// --- forms ---

// CreateWeightNote submits a weight note.
func (c *Client) CreateWeightNote(ctx context.Context, form any) (json.RawMessage, error) {
	return c.post(ctx, "weight_notes.create", "/weight-notes/", form)
}

// ApproveWeightNote approves a weight note.
func (c *Client) ApproveWeightNote(ctx context.Context, id string) (json.RawMessage, error) {
	return c.put(ctx, "weight_notes.approve", "/weight-notes/"+url.PathEscape(id), nil)
}

// WeightNotes lists weight notes.
func (c *Client) WeightNotes(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "weight_notes.list", "/weight-notes/", nil)
}

// CreatePPCForm submits a PPC form.
func (c *Client) CreatePPCForm(ctx context.Context, form any) (json.RawMessage, error) {
	return c.post(ctx, "ppc_forms.create", "/ppc-forms/", form)
}

// ApprovePPCForm approves a PPC form.
func (c *Client) ApprovePPCForm(ctx context.Context, id string) (json.RawMessage, error) {
	return c.put(ctx, "ppc_forms.approve", "/ppc-forms/"+url.PathEscape(id), nil)
}

// PPCForms lists PPC forms.
func (c *Client) PPCForms(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "ppc_forms.list", "/ppc-forms/", nil)
}

// CreateFPForm submits an FP form.
func (c *Client) CreateFPForm(ctx context.Context, form any) (json.RawMessage, error) {
	return c.post(ctx, "fp_forms.create", "/fp-forms/", form)
}

// ApproveFPForm approves an FP form.
func (c *Client) ApproveFPForm(ctx context.Context, id string) (json.RawMessage, error) {
	return c.put(ctx, "fp_forms.approve", "/fp-forms/"+url.PathEscape(id), nil)
}

// FPForms lists FP forms.
func (c *Client) FPForms(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "fp_forms.list", "/fp-forms/", nil)
}

// DepurationForms lists depuration forms.
func (c *Client) DepurationForms(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "depuration.list", "/depuration/", nil)
}

// SubmitDepurationResult records a QC lead's depuration result.
func (c *Client) SubmitDepurationResult(ctx context.Context, result any) (json.RawMessage, error) {
	return c.post(ctx, "qc_lead.depuration_result", "/qc-lead/depuration-result", result)
}

// ApproveMicrobiology approves a lot's microbiology results.
func (c *Client) ApproveMicrobiology(ctx context.Context, lotID string) (json.RawMessage, error) {
	return c.put(ctx, "qc_lead.approve_microbiology",
		"/qc-lead/lots/"+url.PathEscape(lotID)+"/approve-microbiology", nil)
}

// --- QC approvals ---

// PendingQCForms lists forms waiting for approval.
func (c *Client) PendingQCForms(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "qc.pending", "/qc/forms/pending", nil)
}

// QCMetrics returns QC dashboard metrics.
func (c *Client) QCMetrics(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "qc.metrics", "/qc/metrics", nil)
}

// ApproveQCForm approves a form at the QC stage.
func (c *Client) ApproveQCForm(ctx context.Context, id string) error {
	_, err := c.post(ctx, "qc.approve", "/qc/forms/"+url.PathEscape(id)+"/approve", nil)
	return err
}

// RejectQCForm rejects a form with a reason.
func (c *Client) RejectQCForm(ctx context.Context, id, reason string) error {
	_, err := c.post(ctx, "qc.reject", "/qc/forms/"+url.PathEscape(id)+"/reject",
		map[string]string{"reason": reason})
	return err
}

// ProductionLeadApprovePPC approves a PPC form at the production lead stage.
func (c *Client) ProductionLeadApprovePPC(ctx context.Context, id string) error {
	_, err := c.post(ctx, "production_lead.approve_ppc",
		"/production-lead/ppc-forms/"+url.PathEscape(id)+"/approve", nil)
	return err
}

// QCLeadApproveFP approves an FP form at the QC lead stage.
func (c *Client) QCLeadApproveFP(ctx context.Context, id string) error {
	_, err := c.post(ctx, "qc_lead.approve_fp",
		"/qc-lead/fp-forms/"+url.PathEscape(id)+"/approve", nil)
	return err
}

// --- labels and RFID ---

// GenerateQRLabel asks the backend for an authoritative box label.
func (c *Client) GenerateQRLabel(ctx context.Context, req model.QRLabelRequest) (model.QRLabelData, error) {
	data, err := c.post(ctx, "labels.qr", "/labels/qr", req)
	if err != nil {
		return model.QRLabelData{}, err
	}
	return decodeInto[model.QRLabelData]("labels.qr", data)
}

// LinkRFID links an RFID tag to a box.
func (c *Client) LinkRFID(ctx context.Context, tag model.RFIDTagData) (model.RFIDTagData, error) {
	data, err := c.post(ctx, "rfid.link", "/rfid/link", tag)
	if err != nil {
		return model.RFIDTagData{}, err
	}
	return decodeInto[model.RFIDTagData]("rfid.link", data)
}

// --- staff lead ---

// StaffList lists staff managed by the staff lead.
func (c *Client) StaffList(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "staff_lead.staff_list", "/staff-lead/staff-list", nil)
}

// AttendanceOverview returns attendance figures, optionally filtered.
func (c *Client) AttendanceOverview(ctx context.Context, filters map[string]string) (json.RawMessage, error) {
	return c.get(ctx, "staff_lead.attendance", "/staff-lead/attendance-overview", filterQuery(filters))
}

// VendorList lists vendors managed by the staff lead, optionally filtered.
func (c *Client) VendorList(ctx context.Context, filters map[string]string) ([]Record, error) {
	return c.list(ctx, "staff_lead.vendor_list", "/staff-lead/vendor-list", filterQuery(filters))
}

// --- gate and attendance ---

func gateBody(rfidTags []string, now time.Time) map[string]any {
	return map[string]any{
		"rfid_tags": rfidTags,
		"timestamp": now.UTC().Format(time.RFC3339),
	}
}

// GateEntry logs RFID tags entering through the gate.
func (c *Client) GateEntry(ctx context.Context, rfidTags []string) (json.RawMessage, error) {
	return c.post(ctx, "gate.entry", "/secure/gate/entry", gateBody(rfidTags, time.Now()))
}

// GateExit logs RFID tags leaving through the gate.
func (c *Client) GateExit(ctx context.Context, rfidTags []string) (json.RawMessage, error) {
	return c.post(ctx, "gate.exit", "/secure/gate/exit", gateBody(rfidTags, time.Now()))
}

// VehicleEntry records a vehicle entering the plant.
func (c *Client) VehicleEntry(ctx context.Context, entry any) (json.RawMessage, error) {
	return c.post(ctx, "gate.vehicle_entry", "/api/gate/vehicle-entry", entry)
}

// InsideVehicles lists vehicles currently inside the plant.
func (c *Client) InsideVehicles(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "gate.inside_vehicles", "/api/gate/inside-vehicles", nil)
}

// RecordAttendance records a staff check-in by face or QR.
func (c *Client) RecordAttendance(ctx context.Context, employeeID, method string) (json.RawMessage, error) {
	return c.post(ctx, "attendance.record", "/attendance/", map[string]string{
		"employee_id": employeeID,
		"method":      method,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- onboarding ---

// SubmitStaffOnboarding submits a staff onboarding request.
func (c *Client) SubmitStaffOnboarding(ctx context.Context, data any) (json.RawMessage, error) {
	return c.post(ctx, "onboarding.staff", "/onboarding/staff", data)
}

// SubmitSupplierOnboarding submits a supplier onboarding request.
func (c *Client) SubmitSupplierOnboarding(ctx context.Context, data any) (json.RawMessage, error) {
	return c.post(ctx, "onboarding.supplier", "/onboarding/supplier", data)
}

// SubmitVendorOnboarding submits a vendor onboarding request.
func (c *Client) SubmitVendorOnboarding(ctx context.Context, data any) (json.RawMessage, error) {
	return c.post(ctx, "onboarding.vendor", "/onboarding/vendor", data)
}

// ApproveOnboarding approves an onboarding request.
func (c *Client) ApproveOnboarding(ctx context.Context, id string) (json.RawMessage, error) {
	return c.put(ctx, "onboarding.approve", "/onboarding/"+url.PathEscape(id)+"/approve", nil)
}

// RejectOnboarding rejects an onboarding request.
func (c *Client) RejectOnboarding(ctx context.Context, id, reason string) (json.RawMessage, error) {
	return c.put(ctx, "onboarding.reject", "/onboarding/"+url.PathEscape(id)+"/reject",
		map[string]string{"reason": reason})
}

// --- super admin ---

// Admins lists administrator accounts.
func (c *Client) Admins(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "super_admin.admins", "/super-admin/admins", nil)
}

// CreateAdmin creates an administrator account.
func (c *Client) CreateAdmin(ctx context.Context, admin any) (json.RawMessage, error) {
	return c.post(ctx, "super_admin.create_admin", "/super-admin/admins", admin)
}

// UpdateAdminPermissions replaces a user's permission flags.
func (c *Client) UpdateAdminPermissions(ctx context.Context, userID string, perms any) (json.RawMessage, error) {
	return c.put(ctx, "super_admin.permissions", "/super-admin/permissions/"+url.PathEscape(userID), perms)
}

// AuditLogs lists audit log entries.
func (c *Client) AuditLogs(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "super_admin.audit_logs", "/super-admin/audit-logs", nil)
}

// --- dashboard ---

// Notifications lists the caller's notifications.
func (c *Client) Notifications(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "dashboard.notifications", "/notifications", nil)
}

// Inventory lists inventory items.
func (c *Client) Inventory(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "dashboard.inventory", "/inventory", nil)
}

// DashboardMetrics returns the plant overview metrics.
func (c *Client) DashboardMetrics(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "dashboard.metrics", "/dashboard/metrics", nil)
}

// Health returns the backend health payload.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "health", "/health", nil)
}

// HealthCheck implements observability.HealthChecker.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}
