package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clamflow/clamflow-bff/internal/approval"
	"github.com/clamflow/clamflow-bff/internal/backend"
	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/internal/command"
	"github.com/clamflow/clamflow-bff/internal/config"
	"github.com/clamflow/clamflow-bff/internal/label"
	"github.com/clamflow/clamflow-bff/internal/metadata"
	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/internal/offline"
	"github.com/clamflow/clamflow-bff/internal/realtime"
	"github.com/clamflow/clamflow-bff/internal/search"
	"github.com/clamflow/clamflow-bff/internal/session"
	"github.com/clamflow/clamflow-bff/internal/workflow"
	"github.com/clamflow/clamflow-bff/model"
)

// fakeBackend stands in for the backend client across every handler.
type fakeBackend struct {
	mu sync.Mutex

	user      model.User
	loginErr  error
	submitErr error
	submitted map[string][]any
	pending   []map[string]any
	approved  []string
	rejected  map[string]string
	linked    []model.RFIDTagData
	records   []backend.Record
	labelErr  error
	suppliers []map[string]any
	replayed  []backend.Request
	ops       []string
	opErr     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		user:      model.User{ID: "7", Username: "asha", FullName: "Asha K", Role: "Production Lead", IsActive: true},
		submitted: map[string][]any{},
		rejected:  map[string]string{},
		records:   []backend.Record{{"id": "r1"}},
		labelErr:  model.NewBackendUnavailableError(),
		suppliers: []map[string]any{
			{"id": "s1", "name": "Coastal Clams"},
			{"id": "s2", "name": "Bay Harvest"},
		},
	}
}

func (f *fakeBackend) Login(_ context.Context, username, password string) (backend.LoginResult, error) {
	if f.loginErr != nil {
		return backend.LoginResult{}, f.loginErr
	}
	if password != "secret" {
		return backend.LoginResult{}, model.NewUnauthorizedError("Invalid credentials")
	}
	return backend.LoginResult{AccessToken: "tok-" + username, TokenType: "bearer", User: f.user}, nil
}

func (f *fakeBackend) Profile(context.Context) (model.User, error) { return f.user, nil }

func (f *fakeBackend) submit(kind string, form any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted[kind] = append(f.submitted[kind], form)
	return json.RawMessage(`{"id":"form-1"}`), nil
}

func (f *fakeBackend) submissions(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted[kind])
}

func (f *fakeBackend) CreateWeightNote(_ context.Context, form any) (json.RawMessage, error) {
	return f.submit("weight_note", form)
}

func (f *fakeBackend) CreatePPCForm(_ context.Context, form any) (json.RawMessage, error) {
	return f.submit("ppc_form", form)
}

func (f *fakeBackend) CreateFPForm(_ context.Context, form any) (json.RawMessage, error) {
	return f.submit("fp_form", form)
}

func (f *fakeBackend) LinkRFID(_ context.Context, tag model.RFIDTagData) (model.RFIDTagData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked = append(f.linked, tag)
	return tag, nil
}

func (f *fakeBackend) DashboardMetrics(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"active_lots":3}`), nil
}

func (f *fakeBackend) QCMetrics(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"pass_rate":0.98}`), nil
}

func (f *fakeBackend) Notifications(context.Context) ([]backend.Record, error) { return f.records, nil }
func (f *fakeBackend) Inventory(context.Context) ([]backend.Record, error)     { return f.records, nil }
func (f *fakeBackend) InsideVehicles(context.Context) ([]backend.Record, error) {
	return f.records, nil
}
func (f *fakeBackend) StaffList(context.Context) ([]backend.Record, error) { return f.records, nil }
func (f *fakeBackend) AuditLogs(context.Context) ([]backend.Record, error) { return f.records, nil }
func (f *fakeBackend) Admins(context.Context) ([]backend.Record, error)    { return f.records, nil }

func (f *fakeBackend) PendingQCForms(context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeBackend) act(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, call)
	return nil
}

func (f *fakeBackend) ApproveQCForm(_ context.Context, id string) error { return f.act("qc:" + id) }
func (f *fakeBackend) ProductionLeadApprovePPC(_ context.Context, id string) error {
	return f.act("production_lead:" + id)
}
func (f *fakeBackend) QCLeadApproveFP(_ context.Context, id string) error {
	return f.act("qc_lead:" + id)
}

func (f *fakeBackend) RejectQCForm(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[id] = reason
	return nil
}

func (f *fakeBackend) GenerateQRLabel(context.Context, model.QRLabelRequest) (model.QRLabelData, error) {
	return model.QRLabelData{}, f.labelErr
}

func (f *fakeBackend) Suppliers(context.Context, map[string]string) ([]map[string]any, error) {
	return f.suppliers, nil
}
func (f *fakeBackend) Staff(context.Context) ([]map[string]any, error)   { return nil, nil }
func (f *fakeBackend) Vendors(context.Context) ([]map[string]any, error) { return nil, nil }
func (f *fakeBackend) Lots(context.Context) ([]map[string]any, error)    { return nil, nil }

// op records a facade call and returns it as the response body.
func (f *fakeBackend) op(call string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return nil, f.opErr
	}
	f.ops = append(f.ops, call)
	return json.Marshal(map[string]string{"call": call})
}

func (f *fakeBackend) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeBackend) Lot(_ context.Context, id string) (json.RawMessage, error) {
	return f.op("lot:" + id)
}
func (f *fakeBackend) WeightNotes(context.Context) ([]backend.Record, error) { return f.records, nil }
func (f *fakeBackend) PPCForms(context.Context) ([]backend.Record, error)    { return f.records, nil }
func (f *fakeBackend) FPForms(context.Context) ([]backend.Record, error)     { return f.records, nil }
func (f *fakeBackend) DepurationForms(context.Context) ([]backend.Record, error) {
	return f.records, nil
}
func (f *fakeBackend) ApproveWeightNote(_ context.Context, id string) (json.RawMessage, error) {
	return f.op("approve_weight_note:" + id)
}
func (f *fakeBackend) ApprovePPCForm(_ context.Context, id string) (json.RawMessage, error) {
	return f.op("approve_ppc:" + id)
}
func (f *fakeBackend) ApproveFPForm(_ context.Context, id string) (json.RawMessage, error) {
	return f.op("approve_fp:" + id)
}
func (f *fakeBackend) SubmitDepurationResult(context.Context, any) (json.RawMessage, error) {
	return f.op("depuration_result")
}
func (f *fakeBackend) ApproveMicrobiology(_ context.Context, lotID string) (json.RawMessage, error) {
	return f.op("microbiology:" + lotID)
}
func (f *fakeBackend) AttendanceOverview(_ context.Context, filters map[string]string) (json.RawMessage, error) {
	return f.op("attendance:" + filters["date"])
}
func (f *fakeBackend) VendorList(context.Context, map[string]string) ([]backend.Record, error) {
	return f.records, nil
}
func (f *fakeBackend) GateEntry(_ context.Context, tags []string) (json.RawMessage, error) {
	return f.op("gate_entry:" + strings.Join(tags, ","))
}
func (f *fakeBackend) GateExit(_ context.Context, tags []string) (json.RawMessage, error) {
	return f.op("gate_exit:" + strings.Join(tags, ","))
}
func (f *fakeBackend) VehicleEntry(context.Context, any) (json.RawMessage, error) {
	return f.op("vehicle_entry")
}
func (f *fakeBackend) RecordAttendance(_ context.Context, employeeID, method string) (json.RawMessage, error) {
	return f.op("attendance:" + employeeID + ":" + method)
}
func (f *fakeBackend) SubmitStaffOnboarding(context.Context, any) (json.RawMessage, error) {
	return f.op("onboarding_staff")
}
func (f *fakeBackend) SubmitSupplierOnboarding(context.Context, any) (json.RawMessage, error) {
	return f.op("onboarding_supplier")
}
func (f *fakeBackend) SubmitVendorOnboarding(context.Context, any) (json.RawMessage, error) {
	return f.op("onboarding_vendor")
}
func (f *fakeBackend) ApproveOnboarding(_ context.Context, id string) (json.RawMessage, error) {
	return f.op("onboarding_approve:" + id)
}
func (f *fakeBackend) RejectOnboarding(_ context.Context, id, reason string) (json.RawMessage, error) {
	return f.op("onboarding_reject:" + id + ":" + reason)
}
func (f *fakeBackend) CreateAdmin(context.Context, any) (json.RawMessage, error) {
	return f.op("create_admin")
}
func (f *fakeBackend) UpdateAdminPermissions(_ context.Context, userID string, _ any) (json.RawMessage, error) {
	return f.op("permissions:" + userID)
}

// Do replays queued operations.
func (f *fakeBackend) Do(_ context.Context, req backend.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.replayed = append(f.replayed, req)
	return json.RawMessage(`{}`), nil
}

// testServer wires the router to in-memory components and the fake backend.
type testServer struct {
	router   chi.Router
	backend  *fakeBackend
	sessions *session.Manager
	queue    *offline.MemoryQueue
	idem     *command.MemoryIdempotencyStore
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second
	return cfg
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fb := newFakeBackend()
	matrix := capability.DefaultMatrix()
	sessions := session.NewManager(session.NewMemoryStore(), nil, time.Hour, nil)
	approvals := approval.NewService(fb, matrix, nil, nil)
	hub := realtime.NewHub(nil, nil)
	queue := offline.NewMemoryQueue()
	idem := command.NewMemoryIdempotencyStore()

	deps := Dependencies{
		Config: testConfig(),
		Ready: observability.ReadinessChecks{
			Backend:          observability.CheckerFunc(func(context.Context) error { return nil }),
			SessionStore:     sessions.Store(),
			OfflineQueue:     queue,
			IdempotencyStore: idem,
		},
		Backend:      fb,
		Sessions:     sessions,
		Matrix:       matrix,
		Capabilities: capability.NewResolver(matrix, time.Minute),
		Tracker:      workflow.NewTracker(workflow.NewMemoryFlowStore(), matrix),
		Approvals:    approvals,
		Poller:       approval.NewPoller(approvals, hub, time.Minute, "", nil, nil),
		Hub:          hub,
		Labels:       label.NewGenerator(fb, nil, nil),
		Lookups:      search.NewLookupProvider(search.DefaultSources(fb), time.Minute, 10, nil),
		Menu:         metadata.NewMenuProvider(matrix, approvals, nil),
		Idempotency:  idem,
		Syncer:       offline.NewSyncer(queue, fb, nil, time.Minute, nil, nil),
	}
	return &testServer{
		router:   NewRouter(deps),
		backend:  fb,
		sessions: sessions,
		queue:    queue,
		idem:     idem,
	}
}

// signIn opens a session for the given role and returns its id.
func (s *testServer) signIn(t *testing.T, role string) string {
	t.Helper()
	sess, err := s.sessions.Create(context.Background(), "tok-"+role, model.User{
		ID: "u-" + role, Username: role, Role: role, IsActive: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess.ID
}

// do sends a request with the session cookie and returns the recorder.
func (s *testServer) do(t *testing.T, sid, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: sid})
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// envelope is the decoded shape of every JSON response.
type envelope struct {
	Success  bool                 `json:"success"`
	Data     json.RawMessage      `json:"data"`
	Message  string               `json:"message"`
	Error    *model.ErrorEnvelope `json:"error"`
	Redirect string               `json:"redirect"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := decodeEnvelope(t, w)
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %q: %v", env.Data, err)
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return bytes.NewReader(raw)
}
