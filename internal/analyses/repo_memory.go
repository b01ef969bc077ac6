package analyses

import (
	"context"
	"sync"
)

// MemoryRepo keeps the checkpoint in memory, encoded the same way as the
// durable repos so loads never alias live state. Safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	payload []byte
	saves   int
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Load(ctx context.Context) (State, bool, error) {
	if err := ctx.Err(); err != nil {
		return State{}, false, err
	}
	r.mu.RLock()
	payload := r.payload
	r.mu.RUnlock()
	if payload == nil {
		return State{}, false, nil
	}
	state, err := decodeState(payload)
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (r *MemoryRepo) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = payload
	r.saves++
	return nil
}

// Saves returns how many checkpoints have been written.
func (r *MemoryRepo) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}
