package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var defaultBackoffSchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

const backoffJitter = 0.2

// retryPolicy runs one job against the executor: each attempt races a hard
// timeout, and only provider rate limits are retried.
type retryPolicy struct {
	maxRetries int
	timeout    time.Duration
	schedule   []time.Duration
	jitter     func() float64 // uniform in [0, 1)
	sleep      func(ctx context.Context, d time.Duration) error
}

// attemptHooks lets the caller observe progress. All hooks are optional.
type attemptHooks struct {
	beforeAttempt func(attempt int)
	rateLimited   func(attempt int, err error)
	retrying      func(attempt int, delay time.Duration)
}

func (p retryPolicy) run(ctx context.Context, exec Executor, scope Scope, menu json.RawMessage, hooks attemptHooks) (Summary, error) {
	for attempt := 0; ; attempt++ {
		if hooks.beforeAttempt != nil {
			hooks.beforeAttempt(attempt)
		}

		summary, err := p.attempt(ctx, exec, scope, menu)
		if err == nil {
			return summary, nil
		}
		if !isRateLimited(err) {
			return Summary{}, err
		}

		if hooks.rateLimited != nil {
			hooks.rateLimited(attempt, err)
		}
		if attempt >= p.maxRetries {
			return Summary{}, err
		}

		delay := p.backoff(attempt)
		if hooks.retrying != nil {
			hooks.retrying(attempt, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return Summary{}, err
		}
	}
}

// backoff returns schedule[attempt] scaled by a factor in [0.8, 1.2).
func (p retryPolicy) backoff(attempt int) time.Duration {
	schedule := p.schedule
	if len(schedule) == 0 {
		schedule = defaultBackoffSchedule
	}
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	base := schedule[attempt]
	r := 0.5
	if p.jitter != nil {
		r = p.jitter()
	}
	factor := 1 + backoffJitter*(2*r-1)
	return time.Duration(float64(base) * factor)
}

type attemptResult struct {
	summary Summary
	err     error
}

func (p retryPolicy) attempt(ctx context.Context, exec Executor, scope Scope, menu json.RawMessage) (Summary, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		summary, err := exec.Analyze(attemptCtx, scope, menu)
		done <- attemptResult{summary: summary, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return Summary{}, p.timeoutError()
		}
		return res.summary, res.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		return Summary{}, p.timeoutError()
	}
}

func (p retryPolicy) timeoutError() error {
	return fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func defaultJitter() float64 {
	return rand.Float64()
}
