package model

import "time"

// OperationType classifies a queued offline submission.
type OperationType string

// Operation types.
const (
	OpWeightNote         OperationType = "weight_note"
	OpFormSubmission     OperationType = "form_submission"
	OpStaffOnboarding    OperationType = "staff_onboarding"
	OpSupplierOnboarding OperationType = "supplier_onboarding"
	OpVendorOnboarding   OperationType = "vendor_onboarding"
)

// DefaultMaxRetries is how many failed replays an operation survives.
const DefaultMaxRetries = 3

// Operation is a submission queued while the backend was unreachable.
type Operation struct {
	ID         string         `json:"id"`
	Type       OperationType  `json:"type"`
	Endpoint   string         `json:"endpoint"`
	Method     string         `json:"method"`
	Data       map[string]any `json:"data"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	SyncError  string         `json:"sync_error,omitempty"`
}

// SyncStatus reports the state of the offline queue.
type SyncStatus struct {
	PendingCount       int        `json:"pending_count"`
	LastSyncAttempt    *time.Time `json:"last_sync_attempt"`
	LastSuccessfulSync *time.Time `json:"last_successful_sync"`
	IsSyncing          bool       `json:"is_syncing"`
}

// SyncResult is the outcome of one sync pass.
type SyncResult struct {
	Success bool `json:"success"`
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
}
