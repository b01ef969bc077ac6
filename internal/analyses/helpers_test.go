package analyses

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"menu-analysis-backend/internal/queue"
	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/telemetry"
)

var testEpoch = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSleeper returns immediately and remembers each requested delay.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type recordingOutcomes struct {
	mu       sync.Mutex
	messages []queue.Message
}

func (r *recordingOutcomes) Send(ctx context.Context, msg queue.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingOutcomes) Messages() []queue.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Message(nil), r.messages...)
}

type testEnv struct {
	svc      *Service
	clock    *fakeClock
	repo     *MemoryRepo
	sleeper  *recordingSleeper
	outcomes *recordingOutcomes
}

func newTestEnv(t *testing.T, exec Executor, tweak func(*config.AnalysisConfig)) *testEnv {
	t.Helper()
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)

	cfg := config.DefaultAnalysis()
	if tweak != nil {
		tweak(&cfg)
	}
	env := &testEnv{
		clock:    &fakeClock{now: testEpoch},
		repo:     NewMemoryRepo(),
		sleeper:  &recordingSleeper{},
		outcomes: &recordingOutcomes{},
	}
	env.svc = NewService(cfg, Deps{
		Executor: exec,
		Repo:     env.repo,
		Outcomes: env.outcomes,
		Now:      env.clock.Now,
		Sleep:    env.sleeper.Sleep,
		Jitter:   func() float64 { return 0.5 },
	})
	return env
}

func waitFuture(t *testing.T, f *Future) (Summary, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := f.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("timed out waiting for job %s", f.JobID())
	}
	return summary, err
}

func scopeFor(institution string) Scope {
	return Scope{Institution: institution, Year: 2024, Month: 9}
}

func summaryFor(scope Scope) Summary {
	return Summary{Headline: "analysis for " + scope.Key(), TotalCost: 100, CostPerMeal: 2.5}
}

// echoExecutor succeeds instantly with a summary derived from the scope.
func echoExecutor() ExecutorFunc {
	return func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
		return summaryFor(scope), nil
	}
}

// gateExecutor blocks every call until release is closed and reports each
// call on started.
type gateExecutor struct {
	started chan Scope
	release chan struct{}
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{started: make(chan Scope, 16), release: make(chan struct{})}
}

func (g *gateExecutor) Analyze(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
	g.started <- scope
	select {
	case <-g.release:
		return summaryFor(scope), nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func (g *gateExecutor) awaitStart(t *testing.T) Scope {
	t.Helper()
	select {
	case scope := <-g.started:
		return scope
	case <-time.After(5 * time.Second):
		t.Fatalf("executor was never called")
		return Scope{}
	}
}

// waitFor polls cond until it holds or five seconds pass. Side effects that
// follow a future's resolution (outcome sends, logs) need it.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
