package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/clamflow/clamflow-bff/model"
)

// MemoryFlowStore is an in-memory FlowStore.
type MemoryFlowStore struct {
	mu     sync.RWMutex
	states map[string]model.FlowState   // key: user ID
	events map[string][]model.FlowEvent // key: user ID
}

// NewMemoryFlowStore creates a new in-memory flow store.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{
		states: make(map[string]model.FlowState),
		events: make(map[string][]model.FlowEvent),
	}
}

// Get retrieves the flow state for a user.
func (s *MemoryFlowStore) Get(_ context.Context, userID string) (model.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[userID]
	if !ok {
		return model.FlowState{}, model.NewNotFoundError(
			fmt.Sprintf("flow state for user %q not found", userID),
		)
	}
	return st, nil
}

// Save persists the state and appends the event under one lock.
func (s *MemoryFlowStore) Save(_ context.Context, st model.FlowState, event model.FlowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.states[st.UserID]
	switch {
	case st.Version == 0 && exists:
		return model.NewConflictError(
			fmt.Sprintf("flow state for user %q already exists", st.UserID),
		)
	case st.Version != 0 && !exists:
		return model.NewNotFoundError(
			fmt.Sprintf("flow state for user %q not found", st.UserID),
		)
	case st.Version != 0 && existing.Version != st.Version:
		return model.NewConflictError(
			fmt.Sprintf("flow state for user %q version conflict (expected %d, got %d)", st.UserID, st.Version, existing.Version),
		)
	}

	st.Version++
	s.states[st.UserID] = st
	s.events[st.UserID] = append(s.events[st.UserID], event)
	return nil
}

// GetEvents retrieves a user's journal ordered by timestamp.
func (s *MemoryFlowStore) GetEvents(_ context.Context, userID string) ([]model.FlowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[userID]
	result := make([]model.FlowEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Ping always succeeds.
func (s *MemoryFlowStore) Ping(context.Context) error { return nil }

// Len returns the number of stored flow states. For testing.
func (s *MemoryFlowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
