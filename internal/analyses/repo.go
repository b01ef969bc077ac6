package analyses

import "context"

// DefaultStateKey identifies the checkpoint record when none is configured.
const DefaultStateKey = "analysis-orchestrator"

// StateRepo loads and saves the orchestrator checkpoint record.
// Load reports false when no checkpoint exists yet.
type StateRepo interface {
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, state State) error
}

func stateKeyOrDefault(key string) string {
	if key == "" {
		return DefaultStateKey
	}
	return key
}
