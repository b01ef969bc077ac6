package analyses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"menu-analysis-backend/internal/shared/storage/object"
)

const stateContentType = "application/json"

// ObjectRepo stores the checkpoint as "<key>.json" in an object store
// (local directory or S3).
type ObjectRepo struct {
	Store object.ObjectStore
	Key   string
}

func (r *ObjectRepo) storageKey() string {
	return stateKeyOrDefault(r.Key) + ".json"
}

func (r *ObjectRepo) Load(ctx context.Context) (State, bool, error) {
	body, err := r.Store.Open(ctx, r.storageKey())
	if errors.Is(err, object.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("open orchestrator state: %w", err)
	}
	defer body.Close()

	payload, err := io.ReadAll(body)
	if err != nil {
		return State{}, false, fmt.Errorf("read orchestrator state: %w", err)
	}
	state, err := decodeState(payload)
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (r *ObjectRepo) Save(ctx context.Context, state State) error {
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	if _, err := r.Store.SaveWithKey(ctx, r.storageKey(), stateContentType, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("save orchestrator state: %w", err)
	}
	return nil
}
