package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clamflow/clamflow-bff/internal/command"
	"github.com/clamflow/clamflow-bff/internal/workflow"
	"github.com/clamflow/clamflow-bff/model"
)

const (
	testLotID   = "0b7e1c1a-3f7e-4c5a-9a51-2c8d2a1f0c01"
	testStaffID = "5d1f0a2e-8b9c-4d3e-a1f2-3c4b5a6d7e8f"
)

func validWeightNote() map[string]any {
	return map[string]any{
		"lot_id":      testLotID,
		"supplier_id": "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d",
		"box_number":  "BX-001",
		"weight":      18.5,
		"qc_staff_id": testStaffID,
	}
}

// --- workflow ---

func TestWorkflow_createLotAndSelectStaff(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Lead")

	w := ts.do(t, sid, "POST", "/api/workflow/lot", nil)
	if w.Code != 201 {
		t.Fatalf("create lot status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var view workflow.FlowView
	decodeData(t, w, &view)
	if !strings.HasPrefix(view.State.CurrentLotID, "LOT-") {
		t.Errorf("CurrentLotID = %q, want LOT- prefix", view.State.CurrentLotID)
	}
	if !view.State.SupervisorHasCreatedLot {
		t.Error("SupervisorHasCreatedLot = false, want true")
	}

	w = ts.do(t, sid, "POST", "/api/workflow/qc-staff", map[string]string{"staff_id": "qc_staff_002"})
	if w.Code != 200 {
		t.Fatalf("select staff status = %d, want 200: %s", w.Code, w.Body.String())
	}
	decodeData(t, w, &view)
	if len(view.AssignedStations) != 2 {
		t.Errorf("AssignedStations = %v, want the PPC and separation stations", view.AssignedStations)
	}

	w = ts.do(t, sid, "GET", "/api/workflow/events", nil)
	var events []model.FlowEvent
	decodeData(t, w, &events)
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestWorkflow_pendingForStations(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = []map[string]any{
		{"id": "1", "formType": "ppc_form", "status": "pending_production_lead", "stationId": "PPC - QC"},
		{"id": "2", "formType": "weight_note", "status": "pending_qc", "stationId": "Separation Station"},
		{"id": "3", "formType": "fp_form", "status": "pending_qc_lead", "stationId": "FP Station"},
	}
	sid := ts.signIn(t, "Production Lead")

	var view workflow.FlowView
	decodeData(t, ts.do(t, sid, "GET", "/api/workflow/", nil), &view)
	if view.PendingForStations != 0 {
		t.Errorf("pending before staff selection = %d, want 0", view.PendingForStations)
	}

	ts.do(t, sid, "POST", "/api/workflow/qc-staff", map[string]string{"staff_id": "qc_staff_002"})
	decodeData(t, ts.do(t, sid, "GET", "/api/workflow/", nil), &view)
	if view.PendingForStations != 2 {
		t.Errorf("pending for PPC and separation = %d, want 2", view.PendingForStations)
	}
}

func TestWorkflow_unknownStaff(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	w := ts.do(t, sid, "POST", "/api/workflow/qc-staff", map[string]string{"staff_id": "nobody"})
	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestWorkflow_forbiddenRole(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Security Guard")

	for _, path := range []string{"/api/workflow/lot", "/api/workflow/reset"} {
		w := ts.do(t, sid, "POST", path, nil)
		if w.Code != 403 {
			t.Errorf("POST %s status = %d, want 403", path, w.Code)
		}
	}

	w := ts.do(t, sid, "GET", "/api/workflow/", nil)
	if w.Code != 200 {
		t.Errorf("GET workflow status = %d, want 200", w.Code)
	}
}

func TestWorkflow_eventsEmpty(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Admin")

	w := ts.do(t, sid, "GET", "/api/workflow/events", nil)
	env := decodeEnvelope(t, w)
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

// --- approvals ---

func pendingRecords() []map[string]any {
	ago := func(min int) string {
		return time.Now().Add(-time.Duration(min) * time.Minute).UTC().Format(time.RFC3339)
	}
	return []map[string]any{
		{"id": "1", "formType": "weight_note", "status": "pending_qc", "lotId": "LOT-A", "submittedAt": ago(45)},
		{"id": "2", "formType": "ppc_form", "status": "pending_production_lead", "lotId": "LOT-B", "submittedAt": ago(130)},
		{"id": "3", "formType": "fp_form", "status": "pending_qc_lead", "lotId": "LOT-C", "submittedAt": ago(10)},
	}
}

func TestApprovals_listScopedByRole(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = pendingRecords()

	tests := []struct {
		role string
		ids  []string
	}{
		{"QC Staff", []string{"1"}},
		{"Production Lead", []string{"2"}},
		{"QC Lead", []string{"3"}},
		{"Admin", []string{"2", "1", "3"}},
		{"Security Guard", nil},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			sid := ts.signIn(t, tt.role)
			w := ts.do(t, sid, "GET", "/api/approvals/", nil)
			if w.Code != 200 {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var body queueResponse
			decodeData(t, w, &body)
			if len(body.Items) != len(tt.ids) {
				t.Fatalf("items = %+v, want ids %v", body.Items, tt.ids)
			}
			for i, id := range tt.ids {
				if body.Items[i].ID != id {
					t.Errorf("items[%d].ID = %q, want %q", i, body.Items[i].ID, id)
				}
			}
			if body.Summary.Total != len(tt.ids) {
				t.Errorf("summary.Total = %d, want %d", body.Summary.Total, len(tt.ids))
			}
		})
	}
}

func TestApprovals_summary(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = pendingRecords()
	sid := ts.signIn(t, "Super Admin")

	w := ts.do(t, sid, "GET", "/api/approvals/summary?type=ppc_form", nil)
	var summary model.QueueSummary
	decodeData(t, w, &summary)
	if summary.Total != 1 || summary.Critical != 1 {
		t.Errorf("summary = %+v, want one critical item", summary)
	}
}

func TestApprovals_approveByStage(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = pendingRecords()

	w := ts.do(t, ts.signIn(t, "QC Staff"), "POST", "/api/approvals/1/approve", nil)
	if w.Code != 200 {
		t.Fatalf("approve status = %d, want 200: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, ts.signIn(t, "Production Lead"), "POST", "/api/approvals/2/approve", nil)
	if w.Code != 200 {
		t.Fatalf("approve status = %d, want 200: %s", w.Code, w.Body.String())
	}

	want := []string{"qc:1", "production_lead:2"}
	if len(ts.backend.approved) != len(want) {
		t.Fatalf("approved = %v, want %v", ts.backend.approved, want)
	}
	for i := range want {
		if ts.backend.approved[i] != want[i] {
			t.Errorf("approved[%d] = %q, want %q", i, ts.backend.approved[i], want[i])
		}
	}
}

func TestApprovals_approveForbidden(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = pendingRecords()

	w := ts.do(t, ts.signIn(t, "QC Staff"), "POST", "/api/approvals/2/approve", nil)
	if w.Code != 403 {
		t.Errorf("status = %d, want 403", w.Code)
	}
	w = ts.do(t, ts.signIn(t, "QC Staff"), "POST", "/api/approvals/99/approve", nil)
	if w.Code != 404 {
		t.Errorf("unknown form status = %d, want 404", w.Code)
	}
}

func TestApprovals_reject(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = pendingRecords()
	sid := ts.signIn(t, "QC Lead")

	w := ts.do(t, sid, "POST", "/api/approvals/3/reject", map[string]string{"reason": "  "})
	if w.Code != 422 {
		t.Errorf("blank reason status = %d, want 422", w.Code)
	}

	w = ts.do(t, sid, "POST", "/api/approvals/3/reject", map[string]string{"reason": "Label smudged"})
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got := ts.backend.rejected["3"]; got != "Label smudged" {
		t.Errorf("reason = %q, want Label smudged", got)
	}
}

func TestApprovals_export(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.pending = pendingRecords()
	sid := ts.signIn(t, "Admin")

	w := ts.do(t, sid, "GET", "/api/approvals/export", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != xlsxContentType {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "approvals-") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("body should be a zip-based xlsx workbook")
	}
}

// --- forms ---

func TestSubmitForm_weightNote(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	w := ts.do(t, sid, "POST", "/api/forms/weight-note", validWeightNote())
	if w.Code != 201 {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if string(env.Data) != `{"id":"form-1"}` {
		t.Errorf("data = %s", env.Data)
	}
	if got := ts.backend.submissions("weight_note"); got != 1 {
		t.Errorf("submissions = %d, want 1", got)
	}
	form, ok := ts.backend.submitted["weight_note"][0].(model.WeightNoteForm)
	if !ok || form.BoxNumber != "BX-001" {
		t.Errorf("submitted form = %#v", ts.backend.submitted["weight_note"][0])
	}
}

func TestSubmitForm_invalidNeverReachesBackend(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	body := validWeightNote()
	body["lot_id"] = "not-a-uuid"
	body["weight"] = 0

	w := ts.do(t, sid, "POST", "/api/forms/weight-note", body)
	if w.Code != 422 {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	env := decodeEnvelope(t, w)
	fields := map[string]bool{}
	for _, d := range env.Error.Details {
		fields[d.Field] = true
	}
	if !fields["lot_id"] || !fields["weight"] {
		t.Errorf("details = %+v, want lot_id and weight", env.Error.Details)
	}
	if got := ts.backend.submissions("weight_note"); got != 0 {
		t.Errorf("submissions = %d, want 0", got)
	}
}

func TestSubmitForm_ppcRequiresBoxes(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	w := ts.do(t, sid, "POST", "/api/forms/ppc", map[string]any{
		"lot_id":           testLotID,
		"station_staff_id": testStaffID,
		"total_boxes":      1,
		"total_weight":     10,
	})
	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestSubmitForm_idempotentReplay(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	send := func(body map[string]any) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/forms/weight-note", jsonBody(t, body))
		req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: sid})
		req.Header.Set(command.HeaderIdempotencyKey, "key-1")
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w
	}

	first := send(validWeightNote())
	second := send(validWeightNote())
	if first.Code != 201 || second.Code != 201 {
		t.Fatalf("statuses = %d, %d, want 201 twice", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body = %s, want %s", second.Body.String(), first.Body.String())
	}
	if got := ts.backend.submissions("weight_note"); got != 1 {
		t.Errorf("submissions = %d, want 1", got)
	}

	changed := validWeightNote()
	changed["weight"] = 20.0
	if w := send(changed); w.Code != 409 {
		t.Errorf("reused key with a different body status = %d, want 409", w.Code)
	}
}

func TestSubmitForm_queuedWhenBackendDown(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")
	ts.backend.submitErr = model.NewBackendUnavailableError()

	w := ts.do(t, sid, "POST", "/api/forms/weight-note", validWeightNote())
	if w.Code != 202 {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var body struct {
		Queued      bool   `json:"queued"`
		OperationID string `json:"operation_id"`
	}
	decodeData(t, w, &body)
	if !body.Queued || !strings.HasPrefix(body.OperationID, "op_") {
		t.Errorf("body = %+v", body)
	}

	ops, err := ts.queue.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Endpoint != "/weight-notes/" || ops[0].Type != model.OpWeightNote {
		t.Fatalf("queued ops = %+v", ops)
	}

	w = ts.do(t, sid, "GET", "/api/sync/status", nil)
	var status model.SyncStatus
	decodeData(t, w, &status)
	if status.PendingCount != 1 {
		t.Errorf("PendingCount = %d, want 1", status.PendingCount)
	}

	ts.backend.submitErr = nil
	w = ts.do(t, sid, "POST", "/api/sync/run", nil)
	var result model.SyncResult
	decodeData(t, w, &result)
	if !result.Success || result.Synced != 1 {
		t.Errorf("result = %+v, want one synced", result)
	}
	if len(ts.backend.replayed) != 1 || ts.backend.replayed[0].Path != "/weight-notes/" {
		t.Errorf("replayed = %+v", ts.backend.replayed)
	}
}

func TestSubmitForm_backendRejection(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")
	ts.backend.submitErr = model.NewConflictError("Box already recorded")

	w := ts.do(t, sid, "POST", "/api/forms/weight-note", validWeightNote())
	if w.Code != 409 {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if n, _ := ts.queue.Len(context.Background()); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

// --- labels ---

func TestGenerateLabel_fallback(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	w := ts.do(t, sid, "POST", "/api/labels/qr", map[string]any{
		"lot_id": "LOT-ABC123", "box_number": "7", "product_type": "Whole Clam", "grade": "A", "weight": 10,
	})
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var data model.QRLabelData
	decodeData(t, w, &data)
	if !data.Fallback {
		t.Error("Fallback = false, want true when the backend is down")
	}
	if data.TraceabilityCode == "" || data.QRCodeData == "" {
		t.Errorf("label = %+v", data)
	}
}

func TestGenerateLabel_validationAndAccess(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, ts.signIn(t, "Production Staff"), "POST", "/api/labels/qr", map[string]any{"box_number": "7"})
	if w.Code != 422 {
		t.Errorf("missing lot status = %d, want 422", w.Code)
	}
	w = ts.do(t, ts.signIn(t, "Security Guard"), "POST", "/api/labels/qr", map[string]any{"lot_id": "L", "box_number": "7"})
	if w.Code != 403 {
		t.Errorf("security guard status = %d, want 403", w.Code)
	}
}

func TestLinkRFID(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	w := ts.do(t, sid, "POST", "/api/rfid/link", map[string]any{"tag_id": "E200-1"})
	if w.Code != 422 {
		t.Errorf("missing box status = %d, want 422", w.Code)
	}

	w = ts.do(t, sid, "POST", "/api/rfid/link", map[string]any{"tag_id": "E200-1", "box_number": "7", "lot_id": "LOT-1"})
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(ts.backend.linked) != 1 {
		t.Fatalf("linked = %d, want 1", len(ts.backend.linked))
	}
	tag := ts.backend.linked[0]
	if tag.LinkedBy != "u-Production Staff" {
		t.Errorf("LinkedBy = %q, want the caller", tag.LinkedBy)
	}
	if tag.LinkedAt.IsZero() {
		t.Error("LinkedAt should default to now")
	}
}

// --- lookups ---

func TestLookup(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.signIn(t, "Production Staff")

	w := ts.do(t, sid, "GET", "/api/lookups/suppliers?q=bay", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp model.LookupResponse
	decodeData(t, w, &resp)
	if len(resp.Options) != 1 || resp.Options[0].Label != "Bay Harvest" {
		t.Errorf("options = %+v", resp.Options)
	}

	w = ts.do(t, sid, "GET", "/api/lookups/suppliers?q=bay", nil)
	decodeData(t, w, &resp)
	if !resp.Cached {
		t.Error("second lookup should be served from cache")
	}

	w = ts.do(t, sid, "GET", "/api/lookups/boats", nil)
	if w.Code != 404 {
		t.Errorf("unknown lookup status = %d, want 404", w.Code)
	}
}

func TestLookupRefresh(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signIn(t, "Admin")
	staff := ts.signIn(t, "Production Staff")

	w := ts.do(t, admin, "GET", "/api/lookups", nil)
	var ids []string
	decodeData(t, w, &ids)
	if len(ids) != 4 || ids[0] != "lots" {
		t.Errorf("lookup ids = %v", ids)
	}

	ts.do(t, admin, "GET", "/api/lookups/suppliers", nil)

	tests := []struct {
		sid    string
		path   string
		status int
	}{
		{staff, "/api/lookups/suppliers/cache", 403},
		{admin, "/api/lookups/boats/cache", 404},
		{admin, "/api/lookups/suppliers/cache", 200},
	}
	for _, tt := range tests {
		if w := ts.do(t, tt.sid, "DELETE", tt.path, nil); w.Code != tt.status {
			t.Errorf("DELETE %s status = %d, want %d", tt.path, w.Code, tt.status)
		}
	}

	var resp model.LookupResponse
	decodeData(t, ts.do(t, admin, "GET", "/api/lookups/suppliers", nil), &resp)
	if resp.Cached {
		t.Error("lookup after refresh should not be cached")
	}
}

// --- dashboard ---

func TestDashboardPanel(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		role   string
		panel  string
		status int
	}{
		{"Security Guard", "metrics", 200},
		{"Security Guard", "notifications", 200},
		{"Security Guard", "gate", 200},
		{"Security Guard", "inventory", 403},
		{"QC Staff", "qc-metrics", 200},
		{"Staff Lead", "staff", 200},
		{"Admin", "audit", 200},
		{"Admin", "admins", 403},
		{"Super Admin", "admins", 200},
		{"Admin", "weather", 404},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.panel, func(t *testing.T) {
			w := ts.do(t, ts.signIn(t, tt.role), "GET", "/api/dashboard/"+tt.panel, nil)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestSyncRun_disabled(t *testing.T) {
	ts := newTestServer(t)
	deps := Dependencies{Config: testConfig(), Sessions: ts.sessions}
	r := NewRouter(deps)
	sid := ts.signIn(t, "Admin")

	req := httptest.NewRequest("POST", "/api/sync/run", nil)
	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: sid})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 404 {
		t.Errorf("status = %d, want 404 without a syncer", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/sync/status", nil)
	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: sid})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("status = %d, want 200 with an empty status", w.Code)
	}
}
