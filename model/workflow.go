package model

import "time"

// StepStatus is the derived status of a QC workflow step.
type StepStatus string

// Workflow step statuses.
const (
	StepLocked     StepStatus = "locked"
	StepAvailable  StepStatus = "available"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
)

// ApprovalType names the role that signs off a workflow step.
type ApprovalType string

// Approval types.
const (
	ApprovalNone           ApprovalType = ""
	ApprovalQCStaff        ApprovalType = "qc_staff"
	ApprovalQCLead         ApprovalType = "qc_lead"
	ApprovalProductionLead ApprovalType = "production_lead"
	ApprovalSupervisor     ApprovalType = "supervisor"
)

// WorkflowStep is one entry of the plant's lot processing ledger.
type WorkflowStep struct {
	Step             int          `json:"step"`
	Name             string       `json:"name"`
	Station          string       `json:"station"`
	Status           StepStatus   `json:"status"`
	RequiresApproval bool         `json:"requiresApproval"`
	ApprovalType     ApprovalType `json:"approvalType,omitempty"`
	Actionable       bool         `json:"actionable"`
}

// FlowState is a user's position in the QC workflow: which lot is active and
// which QC staff member is operating the stations.
type FlowState struct {
	UserID                  string    `json:"user_id"`
	CurrentLotID            string    `json:"current_lot_id,omitempty"`
	SupervisorHasCreatedLot bool      `json:"supervisor_has_created_lot"`
	CurrentQCStaffID        string    `json:"current_qc_staff_id,omitempty"`
	Version                 int       `json:"version"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Flow event names.
const (
	FlowEventLotCreated      = "lot_created"
	FlowEventQCStaffSelected = "qc_staff_selected"
	FlowEventReset           = "flow_reset"
)

// FlowEvent records a transition in a user's flow state.
type FlowEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Event     string         `json:"event"`
	LotID     string         `json:"lot_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// QCStaffOption is a QC staff member and the stations they may approve.
type QCStaffOption struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Stations []string `json:"stations"`
}
