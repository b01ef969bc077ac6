package queue

import "context"

// Client publishes terminal job outcomes. Implementations must be safe for
// concurrent use; callers treat every Send as best-effort.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, msg Message) error

func (f ClientFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
