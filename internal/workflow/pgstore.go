package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clamflow/clamflow-bff/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS qc_flow_states (
	user_id                    TEXT PRIMARY KEY,
	current_lot_id             TEXT NOT NULL DEFAULT '',
	supervisor_has_created_lot BOOLEAN NOT NULL DEFAULT FALSE,
	current_qc_staff_id        TEXT NOT NULL DEFAULT '',
	version                    INTEGER NOT NULL,
	created_at                 TIMESTAMPTZ NOT NULL,
	updated_at                 TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS qc_flow_events (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	event      TEXT NOT NULL,
	lot_id     TEXT NOT NULL DEFAULT '',
	actor_id   TEXT NOT NULL,
	data       JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS qc_flow_events_user_idx ON qc_flow_events (user_id, created_at);
`

// PgFlowStore is a PostgreSQL-backed FlowStore using pgx/v5.
type PgFlowStore struct {
	pool *pgxpool.Pool
}

// NewPgFlowStore creates a new PostgreSQL flow store.
func NewPgFlowStore(pool *pgxpool.Pool) *PgFlowStore {
	return &PgFlowStore{pool: pool}
}

// EnsureSchema creates the flow tables if they do not exist.
func (s *PgFlowStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("create flow schema: %w", err)
	}
	return nil
}

// Get retrieves the flow state for a user.
func (s *PgFlowStore) Get(ctx context.Context, userID string) (model.FlowState, error) {
	var st model.FlowState
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, current_lot_id, supervisor_has_created_lot,
		       current_qc_staff_id, version, created_at, updated_at
		FROM qc_flow_states
		WHERE user_id = $1`,
		userID,
	).Scan(
		&st.UserID, &st.CurrentLotID, &st.SupervisorHasCreatedLot,
		&st.CurrentQCStaffID, &st.Version, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.FlowState{}, model.NewNotFoundError(
			fmt.Sprintf("flow state for user %q not found", userID),
		)
	}
	if err != nil {
		return model.FlowState{}, fmt.Errorf("query flow state: %w", err)
	}
	return st, nil
}

// Save writes the state row and the journal entry in one transaction.
func (s *PgFlowStore) Save(ctx context.Context, st model.FlowState, event model.FlowEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := saveState(ctx, tx, st); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO qc_flow_events (id, user_id, event, lot_id, actor_id, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			event.ID, event.UserID, event.Event, event.LotID, event.ActorID, dataJSON, event.Timestamp,
		); err != nil {
			return fmt.Errorf("insert flow event: %w", err)
		}
		return nil
	})
}

func saveState(ctx context.Context, tx pgx.Tx, st model.FlowState) error {
	if st.Version == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO qc_flow_states (
				user_id, current_lot_id, supervisor_has_created_lot,
				current_qc_staff_id, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, 1, $5, $6)
			ON CONFLICT (user_id) DO NOTHING`,
			st.UserID, st.CurrentLotID, st.SupervisorHasCreatedLot,
			st.CurrentQCStaffID, st.CreatedAt, st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert flow state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(
				fmt.Sprintf("flow state for user %q already exists", st.UserID),
			)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE qc_flow_states SET
			current_lot_id = $1,
			supervisor_has_created_lot = $2,
			current_qc_staff_id = $3,
			version = version + 1,
			updated_at = $4
		WHERE user_id = $5 AND version = $6`,
		st.CurrentLotID, st.SupervisorHasCreatedLot, st.CurrentQCStaffID,
		st.UpdatedAt, st.UserID, st.Version,
	)
	if err != nil {
		return fmt.Errorf("update flow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("flow state for user %q version conflict (expected %d)", st.UserID, st.Version),
		)
	}
	return nil
}

// GetEvents retrieves a user's journal, oldest first.
func (s *PgFlowStore) GetEvents(ctx context.Context, userID string) ([]model.FlowEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, event, lot_id, actor_id, data, created_at
		FROM qc_flow_events
		WHERE user_id = $1
		ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query flow events: %w", err)
	}
	defer rows.Close()

	events := []model.FlowEvent{}
	for rows.Next() {
		var evt model.FlowEvent
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.UserID, &evt.Event, &evt.LotID, &evt.ActorID, &dataJSON, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan flow event: %w", err)
		}
		if err := decodeEventData(&evt, dataJSON); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// decodeEventData fills evt.Data from its JSONB column. NULL leaves it nil.
func decodeEventData(evt *model.FlowEvent, raw []byte) error {
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, &evt.Data); err != nil {
		return fmt.Errorf("decode data of flow event %s: %w", evt.ID, err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PgFlowStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
