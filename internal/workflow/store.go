package workflow

import (
	"context"

	"github.com/clamflow/clamflow-bff/model"
)

// FlowStore persists per-user flow state and its event journal.
type FlowStore interface {
	// Get retrieves the flow state for a user. Returns NOT_FOUND if the user
	// has no stored state.
	Get(ctx context.Context, userID string) (model.FlowState, error)

	// Save persists state and appends event as one unit. A state at version
	// 0 is inserted at version 1 and returns CONFLICT if one already exists.
	// Otherwise the stored version must equal state.Version and is bumped by
	// one; a mismatch returns CONFLICT and nothing is written.
	Save(ctx context.Context, state model.FlowState, event model.FlowEvent) error

	// GetEvents retrieves a user's journal, oldest first.
	GetEvents(ctx context.Context, userID string) ([]model.FlowEvent, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
