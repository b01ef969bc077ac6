package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"menu-analysis-backend/internal/llm"
)

// Executor runs one analysis. Throttling must be reported as an error
// matching ErrProviderRateLimited (or llm.ErrRateLimited); the orchestrator
// owns all retries.
type Executor interface {
	Analyze(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error)

func (f ExecutorFunc) Analyze(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
	return f(ctx, scope, menu)
}

// LLMExecutor produces summaries through an llm.Client.
type LLMExecutor struct {
	Client llm.Client
}

func (e LLMExecutor) Analyze(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
	if e.Client == nil {
		return Summary{}, fmt.Errorf("%w: llm client not configured", ErrProvider)
	}
	raw, err := e.Client.AnalyzeMenu(ctx, llm.AnalyzeInput{
		Institution: scope.Institution,
		Year:        scope.Year,
		Month:       scope.Month,
		Menu:        menu,
	})
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) {
			return Summary{}, fmt.Errorf("%w: %v", ErrProviderRateLimited, err)
		}
		return Summary{}, fmt.Errorf("llm analyze: %w", err)
	}

	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return Summary{}, fmt.Errorf("llm output parse: %w", err)
	}
	if summary.Headline == "" {
		return Summary{}, errors.New("llm output invalid: headline is empty")
	}
	return summary, nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrProviderRateLimited) || errors.Is(err, llm.ErrRateLimited)
}
