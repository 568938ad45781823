package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

func testRctx() *model.RequestContext {
	return &model.RequestContext{
		SessionID: "sess-1",
		UserID:    "user-alice",
		Username:  "alice",
		Role:      model.RoleQCLead,
		Token:     "tok",
	}
}

func newTestTracker() (*Tracker, *MemoryFlowStore) {
	store := NewMemoryFlowStore()
	tr := NewTracker(store, capability.DefaultMatrix())
	tr.now = func() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) }
	return tr, store
}

func TestTracker_Get_zeroState(t *testing.T) {
	tr, _ := newTestTracker()
	view, err := tr.Get(context.Background(), "user-alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if view.State.UserID != "user-alice" || view.State.SupervisorHasCreatedLot || view.State.Version != 0 {
		t.Errorf("State = %+v, want zero state for user-alice", view.State)
	}
	if len(view.Steps) != StepCount {
		t.Fatalf("len(Steps) = %d, want %d", len(view.Steps), StepCount)
	}
	if view.Steps[1].Status != model.StepLocked {
		t.Errorf("step 2 status = %s, want locked", view.Steps[1].Status)
	}
	if view.AssignedStations == nil {
		t.Error("AssignedStations should be an empty slice, not nil")
	}
}

func TestTracker_CreateLot(t *testing.T) {
	tr, store := newTestTracker()
	ctx := context.Background()

	view, err := tr.CreateLot(ctx, testRctx())
	if err != nil {
		t.Fatalf("CreateLot() error = %v", err)
	}
	wantLot := NewLotID(tr.now())
	if view.State.CurrentLotID != wantLot {
		t.Errorf("CurrentLotID = %q, want %q", view.State.CurrentLotID, wantLot)
	}
	if !view.State.SupervisorHasCreatedLot {
		t.Error("SupervisorHasCreatedLot = false, want true")
	}
	if view.State.Version != 1 {
		t.Errorf("Version = %d, want 1", view.State.Version)
	}
	if view.Steps[1].Status != model.StepCompleted {
		t.Errorf("step 2 status = %s, want completed", view.Steps[1].Status)
	}
	if view.Steps[3].Status != model.StepAvailable {
		t.Errorf("step 4 status = %s, want available", view.Steps[3].Status)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}

	events, _ := tr.Events(ctx, "user-alice")
	if len(events) != 1 || events[0].Event != model.FlowEventLotCreated || events[0].LotID != wantLot {
		t.Errorf("Events() = %+v, want one lot_created event", events)
	}
}

func TestTracker_CreateLot_replacesActiveLot(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	first, _ := tr.CreateLot(ctx, testRctx())
	tr.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	second, err := tr.CreateLot(ctx, testRctx())
	if err != nil {
		t.Fatalf("CreateLot() second error = %v", err)
	}
	if second.State.CurrentLotID == first.State.CurrentLotID {
		t.Error("second CreateLot should replace the lot id")
	}
	if second.State.Version != 2 {
		t.Errorf("Version = %d, want 2", second.State.Version)
	}
}

// racingStore lets another writer create the user's state just before the
// tracker's first save lands.
type racingStore struct {
	*MemoryFlowStore
	raced bool
}

func (s *racingStore) Save(ctx context.Context, st model.FlowState, evt model.FlowEvent) error {
	if !s.raced && st.Version == 0 {
		s.raced = true
		other := model.FlowState{UserID: st.UserID, CurrentQCStaffID: "qc_staff_002"}
		if err := s.MemoryFlowStore.Save(ctx, other, testEvent("other", st.UserID, model.FlowEventQCStaffSelected, evt.Timestamp)); err != nil {
			return err
		}
	}
	return s.MemoryFlowStore.Save(ctx, st, evt)
}

func TestTracker_retriesConcurrentFirstTransition(t *testing.T) {
	store := &racingStore{MemoryFlowStore: NewMemoryFlowStore()}
	tr := NewTracker(store, capability.DefaultMatrix())
	ctx := context.Background()

	view, err := tr.CreateLot(ctx, testRctx())
	if err != nil {
		t.Fatalf("CreateLot() error = %v, want the conflict retried", err)
	}
	if view.State.Version != 2 || view.State.CurrentQCStaffID != "qc_staff_002" || view.State.CurrentLotID == "" {
		t.Errorf("State = %+v, want lot applied over the racing write at version 2", view.State)
	}
	events, _ := tr.Events(ctx, "user-alice")
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestTracker_SelectQCStaff(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	_, _ = tr.CreateLot(ctx, testRctx())

	view, err := tr.SelectQCStaff(ctx, testRctx(), "qc_staff_003")
	if err != nil {
		t.Fatalf("SelectQCStaff() error = %v", err)
	}
	if view.State.CurrentQCStaffID != "qc_staff_003" {
		t.Errorf("CurrentQCStaffID = %q", view.State.CurrentQCStaffID)
	}
	if len(view.AssignedStations) != 1 || view.AssignedStations[0] != "FP Station" {
		t.Errorf("AssignedStations = %v, want [FP Station]", view.AssignedStations)
	}
	if view.Steps[12].Status != model.StepAvailable || !view.Steps[12].Actionable {
		t.Errorf("step 13 = %s actionable=%v, want available and actionable", view.Steps[12].Status, view.Steps[12].Actionable)
	}
}

func TestTracker_SelectQCStaff_unknown(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.SelectQCStaff(context.Background(), testRctx(), "qc_staff_999")
	if !model.HasCode(err, model.ErrValidationError) {
		t.Fatalf("SelectQCStaff() error = %v, want VALIDATION_ERROR", err)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	_, _ = tr.CreateLot(ctx, testRctx())
	_, _ = tr.SelectQCStaff(ctx, testRctx(), "qc_staff_001")

	view, err := tr.Reset(ctx, testRctx())
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if view.State.CurrentLotID != "" || view.State.SupervisorHasCreatedLot || view.State.CurrentQCStaffID != "" {
		t.Errorf("State after Reset = %+v, want cleared", view.State)
	}

	events, _ := tr.Events(ctx, "user-alice")
	if len(events) != 3 || events[2].Event != model.FlowEventReset {
		t.Errorf("Events() = %+v, want 3 events ending in flow_reset", events)
	}
}

func TestTracker_QCStaffOptions(t *testing.T) {
	tr, _ := newTestTracker()
	opts := tr.QCStaffOptions()
	if len(opts) != 3 || opts[0].ID != "qc_staff_001" {
		t.Errorf("QCStaffOptions() = %+v", opts)
	}
}

func TestNewLotID(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	got := NewLotID(now)
	if got != "LOT-LOYW3V28" {
		t.Errorf("NewLotID() = %q, want LOT-LOYW3V28", got)
	}
	if strings.ToUpper(got) != got {
		t.Errorf("NewLotID() = %q, want upper case", got)
	}
}

func TestTracker_countsTransitions(t *testing.T) {
	tr, _ := newTestTracker()
	m := observability.InitMetrics(prometheus.NewRegistry())
	tr.WithMetrics(m)
	ctx := context.Background()

	if _, err := tr.CreateLot(ctx, testRctx()); err != nil {
		t.Fatalf("CreateLot() error = %v", err)
	}
	if _, err := tr.Reset(ctx, testRctx()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	for _, event := range []string{model.FlowEventLotCreated, model.FlowEventReset} {
		if got := testutil.ToFloat64(m.FlowTransitionsTotal.WithLabelValues(event)); got != 1 {
			t.Errorf("transitions[%s] = %v, want 1", event, got)
		}
	}
}
