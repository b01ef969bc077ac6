package analyses

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRepo stores the checkpoint as a JSON string under a fixed key.
type RedisRepo struct {
	Client *redis.Client
	Key    string
}

func (r *RedisRepo) Load(ctx context.Context) (State, bool, error) {
	payload, err := r.Client.Get(ctx, stateKeyOrDefault(r.Key)).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (r *RedisRepo) Save(ctx context.Context, state State) error {
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := r.Client.Set(ctx, stateKeyOrDefault(r.Key), payload, 0).Err(); err != nil {
		return fmt.Errorf("save orchestrator state: %w", err)
	}
	return nil
}
