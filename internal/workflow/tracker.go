package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

const transitionAttempts = 2

// FlowView is a user's flow state together with the derived ledger.
type FlowView struct {
	State            model.FlowState      `json:"state"`
	Steps            []model.WorkflowStep `json:"steps"`
	AssignedStations []string             `json:"assigned_stations"`
	// PendingForStations counts queued forms from the assigned stations.
	// Filled by the caller when the approval queue is reachable.
	PendingForStations int `json:"pending_for_stations"`
}

// Tracker moves users through the lot flow and journals each transition.
type Tracker struct {
	store   FlowStore
	staff   StationDirectory
	metrics *observability.Metrics
	now     func() time.Time
}

// NewTracker creates a new Tracker.
func NewTracker(store FlowStore, staff StationDirectory) *Tracker {
	return &Tracker{
		store: store,
		staff: staff,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics counts transitions on m.
func (t *Tracker) WithMetrics(m *observability.Metrics) *Tracker {
	t.metrics = m
	return t
}

// Get returns the user's flow state and derived steps. A user with no stored
// state gets the zero state.
func (t *Tracker) Get(ctx context.Context, userID string) (FlowView, error) {
	st, err := t.load(ctx, userID)
	if err != nil {
		return FlowView{}, err
	}
	return t.view(st), nil
}

// CreateLot starts a new lot for the user, replacing any active one.
func (t *Tracker) CreateLot(ctx context.Context, rctx *model.RequestContext) (FlowView, error) {
	lotID := NewLotID(t.now())
	return t.transition(ctx, rctx, model.FlowEventLotCreated, lotID, nil, func(st *model.FlowState) {
		st.CurrentLotID = lotID
		st.SupervisorHasCreatedLot = true
	})
}

// SelectQCStaff sets the QC staff member operating the stations.
func (t *Tracker) SelectQCStaff(ctx context.Context, rctx *model.RequestContext, staffID string) (FlowView, error) {
	if _, ok := t.staff.LookupQCStaff(staffID); !ok {
		return FlowView{}, model.NewFieldValidationError(
			"qc_staff_id", model.FieldInvalidEnum,
			fmt.Sprintf("Unknown QC staff member %q", staffID),
		)
	}
	return t.transition(ctx, rctx, model.FlowEventQCStaffSelected, "", map[string]any{"qc_staff_id": staffID}, func(st *model.FlowState) {
		st.CurrentQCStaffID = staffID
	})
}

// Reset clears the user's active lot and QC staff selection.
func (t *Tracker) Reset(ctx context.Context, rctx *model.RequestContext) (FlowView, error) {
	return t.transition(ctx, rctx, model.FlowEventReset, "", nil, func(st *model.FlowState) {
		st.CurrentLotID = ""
		st.SupervisorHasCreatedLot = false
		st.CurrentQCStaffID = ""
	})
}

// Events returns the user's flow journal.
func (t *Tracker) Events(ctx context.Context, userID string) ([]model.FlowEvent, error) {
	return t.store.GetEvents(ctx, userID)
}

// QCStaffOptions lists the QC staff a user may select.
func (t *Tracker) QCStaffOptions() []model.QCStaffOption {
	return t.staff.QCStaff()
}

// Ping reports whether the flow store is reachable.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

func (t *Tracker) transition(
	ctx context.Context,
	rctx *model.RequestContext,
	event, lotID string,
	data map[string]any,
	mutate func(*model.FlowState),
) (view FlowView, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow."+event,
		observability.AttrUserID.String(rctx.UserID),
		observability.AttrLotID.String(lotID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// A concurrent transition for the same user surfaces as CONFLICT; the
	// second attempt re-reads the state and applies the change on top.
	var st model.FlowState
	for attempt := 1; ; attempt++ {
		st, err = t.save(ctx, rctx, event, lotID, data, mutate)
		if err == nil || attempt == transitionAttempts || !model.HasCode(err, model.ErrConflict) {
			break
		}
	}
	if err != nil {
		return FlowView{}, err
	}
	t.metrics.RecordFlowTransition(event)

	return t.view(st), nil
}

func (t *Tracker) save(
	ctx context.Context,
	rctx *model.RequestContext,
	event, lotID string,
	data map[string]any,
	mutate func(*model.FlowState),
) (model.FlowState, error) {
	st, err := t.load(ctx, rctx.UserID)
	if err != nil {
		return model.FlowState{}, err
	}

	mutate(&st)
	now := t.now()
	if st.Version == 0 {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	evt := model.FlowEvent{
		ID:        uuid.New().String(),
		UserID:    rctx.UserID,
		Event:     event,
		LotID:     lotID,
		ActorID:   rctx.UserID,
		Data:      data,
		Timestamp: now,
	}
	if err := t.store.Save(ctx, st, evt); err != nil {
		return model.FlowState{}, err
	}
	st.Version++
	return st, nil
}

func (t *Tracker) load(ctx context.Context, userID string) (model.FlowState, error) {
	st, err := t.store.Get(ctx, userID)
	if model.HasCode(err, model.ErrNotFound) {
		return model.FlowState{UserID: userID}, nil
	}
	return st, err
}

func (t *Tracker) view(st model.FlowState) FlowView {
	steps := DeriveStepStatuses(DeriveInput{
		SupervisorHasCreatedLot: st.SupervisorHasCreatedLot,
		CurrentLotID:            st.CurrentLotID,
		CurrentQCStaffID:        st.CurrentQCStaffID,
		Approver:                t.staff,
	})
	stations := t.staff.AssignedStations(st.CurrentQCStaffID)
	if stations == nil {
		stations = []string{}
	}
	return FlowView{State: st, Steps: steps, AssignedStations: stations}
}

// NewLotID returns a lot identifier of the form LOT-<base36 unix ms>.
func NewLotID(now time.Time) string {
	return "LOT-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
}
