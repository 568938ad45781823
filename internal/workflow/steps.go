// Package workflow derives the status of the plant's 14-step lot processing
// ledger and keeps each user's position in it.
package workflow

import "github.com/clamflow/clamflow-bff/model"

// StepCount is the number of steps in the processing ledger.
const StepCount = 14

// DefaultSteps returns the lot processing ledger in order, with every step
// locked and not actionable.
func DefaultSteps() []model.WorkflowStep {
	return []model.WorkflowStep{
		step(1, "Weight Note", "RM Station", model.ApprovalQCStaff),
		step(2, "Lot Creation", "Supervisor", model.ApprovalNone),
		step(3, "Sample Extraction", "Depuration Station", model.ApprovalQCLead),
		step(4, "Washing", "PPC - Washing", model.ApprovalNone),
		step(5, "Depuration", "PPC - Depuration", model.ApprovalQCLead),
		step(6, "Separation", "PPC - Separation", model.ApprovalNone),
		step(7, "Grading", "PPC - Grading", model.ApprovalNone),
		step(8, "Packing", "PPC - Packing", model.ApprovalNone),
		step(9, "PPC QC Check", "PPC - QC", model.ApprovalQCStaff),
		step(10, "PPC Form", "PPC Station", model.ApprovalProductionLead),
		step(11, "FP Receiving", "FP - Receiving", model.ApprovalNone),
		step(12, "FP Processing", "FP - Freezing/Packing", model.ApprovalNone),
		step(13, "FP Form", "FP Station", model.ApprovalQCLead),
		step(14, "Cold Storage & Shipping", "FP - Cold Storage", model.ApprovalNone),
	}
}

func step(n int, name, station string, approval model.ApprovalType) model.WorkflowStep {
	return model.WorkflowStep{
		Step:             n,
		Name:             name,
		Station:          station,
		Status:           model.StepLocked,
		RequiresApproval: approval != model.ApprovalNone,
		ApprovalType:     approval,
	}
}
