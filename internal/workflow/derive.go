package workflow

import (
	"strings"

	"github.com/clamflow/clamflow-bff/internal/capability"
	"github.com/clamflow/clamflow-bff/model"
)

// StationApprover reports whether a QC staff member may sign off a station.
type StationApprover interface {
	CanQCStaffApproveStation(staffID, station string) bool
}

// StationDirectory resolves QC staff and their assigned stations.
type StationDirectory interface {
	StationApprover
	LookupQCStaff(staffID string) (model.QCStaffOption, bool)
	QCStaff() []model.QCStaffOption
	AssignedStations(staffID string) []string
}

// DeriveInput is everything step derivation depends on.
type DeriveInput struct {
	SupervisorHasCreatedLot bool
	CurrentLotID            string
	CurrentQCStaffID        string
	Approver                StationApprover
}

func (in DeriveInput) canApprove(station string) bool {
	if in.Approver == nil || in.CurrentQCStaffID == "" {
		return false
	}
	return in.Approver.CanQCStaffApproveStation(in.CurrentQCStaffID, station)
}

// DeriveStepStatuses recomputes every step's status and actionability from
// scratch. Step 1 is always available, step 2 completes once the supervisor
// has created a lot, and steps 3-14 open only while a lot is active.
func DeriveStepStatuses(in DeriveInput) []model.WorkflowStep {
	steps := DefaultSteps()
	lotActive := in.SupervisorHasCreatedLot && in.CurrentLotID != ""

	for i := range steps {
		s := &steps[i]
		canApprove := s.RequiresApproval && in.canApprove(s.Station)

		switch {
		case s.Step == 1:
			s.Status = model.StepAvailable
		case s.Step == 2:
			if in.SupervisorHasCreatedLot {
				s.Status = model.StepCompleted
			} else {
				s.Status = model.StepLocked
			}
		case !lotActive:
			s.Status = model.StepLocked
		case canApprove || !s.RequiresApproval:
			s.Status = model.StepAvailable
		default:
			s.Status = model.StepLocked
		}

		switch {
		case s.Status == model.StepLocked:
			s.Actionable = false
		case !s.RequiresApproval:
			s.Actionable = s.Status == model.StepAvailable
		default:
			s.Actionable = canApprove
		}
	}
	return steps
}

// PendingCountForStations counts the pending items whose station falls under
// one of the QC staff member's assigned stations.
func PendingCountForStations(dir StationDirectory, staffID string, items []model.PendingApprovalItem) int {
	assigned := dir.AssignedStations(staffID)
	if len(assigned) == 0 {
		return 0
	}

	count := 0
	for _, item := range items {
		station := strings.ToLower(item.Station)
		for _, a := range assigned {
			if base := capability.NormalizeStation(a); base != "" && strings.Contains(station, base) {
				count++
				break
			}
		}
	}
	return count
}
