package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Client abstracts LLM providers for menu cost analysis.
type Client interface {
	AnalyzeMenu(ctx context.Context, input AnalyzeInput) (json.RawMessage, error)
}

// AnalyzeInput captures the inputs needed for one menu analysis.
type AnalyzeInput struct {
	Institution string
	Year        int
	Month       int // 0-based
	Menu        json.RawMessage
}

// ErrRateLimited is returned when the provider throttles the request.
var ErrRateLimited = errors.New("LLM provider rate limit exceeded")

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is used when no provider is configured.
type PlaceholderClient struct{}

// AnalyzeMenu returns ErrNotImplemented.
func (PlaceholderClient) AnalyzeMenu(ctx context.Context, input AnalyzeInput) (json.RawMessage, error) {
	_ = ctx
	_ = input
	return nil, ErrNotImplemented
}
