package analyses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGRepo stores the checkpoint as JSONB in orchestrator_state.
type PGRepo struct {
	DB  *sql.DB
	Key string
}

func (r *PGRepo) Load(ctx context.Context) (State, bool, error) {
	var payload []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT state
		FROM orchestrator_state
		WHERE id = $1
	`, stateKeyOrDefault(r.Key)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load orchestrator state: %w", err)
	}
	state, err := decodeState(payload)
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (r *PGRepo) Save(ctx context.Context, state State) error {
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO orchestrator_state (id, state, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
		    updated_at = EXCLUDED.updated_at
	`, stateKeyOrDefault(r.Key), payload)
	if err != nil {
		return fmt.Errorf("save orchestrator state: %w", err)
	}
	return nil
}
