// Package circuitbreaker sheds load from a struggling provider based on a
// sliding window of recent failures.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position. HalfOpen is accepted on restore but never
// entered: an expired Open goes straight back to Closed.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes the breaker. Zero values fall back to 3 failures / 10m window / 15m open.
type Config struct {
	FailureThreshold int
	Window           time.Duration
	OpenFor          time.Duration
	Now              func() time.Time
	OnStateChange    func(from, to State)
}

// Snapshot is the persisted and displayed form of the breaker.
type Snapshot struct {
	State     State       `json:"state"`
	OpenUntil time.Time   `json:"openUntil"`
	Failures  []time.Time `json:"failures"`
}

type Breaker struct {
	mu        sync.Mutex
	state     State
	openUntil time.Time
	failures  []time.Time
	cfg       Config
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{state: StateClosed, cfg: cfg}
}

// Allow evaluates the breaker and reports how long callers must wait while it is open.
func (b *Breaker) Allow() (time.Duration, error) {
	b.mu.Lock()
	now := b.cfg.Now()
	from, to := b.evaluateLocked(now)
	var remaining time.Duration
	var err error
	if b.state == StateOpen {
		remaining = b.openUntil.Sub(now)
		err = ErrCircuitOpen
	}
	b.mu.Unlock()

	b.notify(from, to)
	return remaining, err
}

// Evaluate prunes expired failure samples and applies any due transition.
func (b *Breaker) Evaluate() Snapshot {
	b.mu.Lock()
	from, to := b.evaluateLocked(b.cfg.Now())
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.notify(from, to)
	return snap
}

// RecordFailure appends a failure sample and trips the breaker once the
// window holds FailureThreshold samples.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	now := b.cfg.Now()
	b.failures = append(b.failures, now)
	from, to := b.evaluateLocked(now)
	b.mu.Unlock()

	b.notify(from, to)
}

// RecordSuccess clears all samples and forces the breaker closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = nil
	b.state = StateClosed
	b.openUntil = time.Time{}
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// Snapshot returns the current state without evaluating transitions.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Restore replaces the breaker state with a persisted snapshot.
func (b *Breaker) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch s.State {
	case StateOpen:
		b.state = StateOpen
	default:
		b.state = StateClosed
	}
	b.openUntil = s.OpenUntil
	b.failures = append([]time.Time(nil), s.Failures...)
}

func (b *Breaker) evaluateLocked(now time.Time) (State, State) {
	from := b.state

	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept

	switch b.state {
	case StateOpen:
		if now.After(b.openUntil) {
			// Samples survive the close; only a success clears them.
			b.state = StateClosed
		}
	case StateClosed:
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openUntil = now.Add(b.cfg.OpenFor)
		}
	}
	return from, b.state
}

func (b *Breaker) snapshotLocked() Snapshot {
	return Snapshot{
		State:     b.state,
		OpenUntil: b.openUntil,
		Failures:  append([]time.Time(nil), b.failures...),
	}
}

func (b *Breaker) notify(from, to State) {
	if from == to || b.cfg.OnStateChange == nil {
		return
	}
	b.cfg.OnStateChange(from, to)
}
