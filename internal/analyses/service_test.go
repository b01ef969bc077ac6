package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"menu-analysis-backend/internal/queue"
	"menu-analysis-backend/internal/shared/circuitbreaker"
	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/telemetry"
)

func TestRequestAnalysisSuccessUpdatesCacheAndHistory(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)
	scope := Scope{Institution: "A", Year: 2024, Month: 9}

	future, err := env.svc.RequestAnalysis(context.Background(), scope, json.RawMessage(`[{"dish":"rice"}]`))
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if future.ScopeKey() != "A|2024-9" {
		t.Fatalf("unexpected scope key %q", future.ScopeKey())
	}

	summary, err := waitFuture(t, future)
	if err != nil {
		t.Fatalf("future error: %v", err)
	}
	if !reflect.DeepEqual(summary, summaryFor(scope)) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	entry, ok := env.svc.Cached(scope)
	if !ok {
		t.Fatalf("expected cache entry for %s", scope.Key())
	}
	if !reflect.DeepEqual(entry.Summary, summary) || !entry.Timestamp.Equal(testEpoch) {
		t.Fatalf("unexpected cache entry %+v", entry)
	}

	state := env.svc.State()
	if len(state.Jobs) != 0 {
		t.Fatalf("expected no live jobs, got %d", len(state.Jobs))
	}
	if len(state.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(state.History))
	}
	head := state.History[0]
	if head.Status != StatusCompleted || head.Key != "A|2024-9" || head.ID != future.JobID() {
		t.Fatalf("unexpected history head %+v", head)
	}
	if head.StartedAt == nil || head.CompletedAt == nil || head.Retries != 0 {
		t.Fatalf("expected timestamps and zero retries, got %+v", head)
	}

	persisted, ok, err := env.repo.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected persisted checkpoint, ok=%v err=%v", ok, err)
	}
	if len(persisted.History) != 1 || persisted.History[0].Status != StatusCompleted {
		t.Fatalf("checkpoint does not reflect completion: %+v", persisted.History)
	}
	if _, ok := persisted.Cache["A|2024-9"]; !ok {
		t.Fatalf("checkpoint missing cache entry")
	}

	waitFor(t, "outcome message", func() bool { return len(env.outcomes.Messages()) > 0 })
	msgs := env.outcomes.Messages()
	if len(msgs) != 1 || msgs[0].Status != "completed" || msgs[0].JobID != future.JobID() {
		t.Fatalf("unexpected outcome messages %+v", msgs)
	}
}

func TestCooldownRejectsRepeatRequests(t *testing.T) {
	gate := newGateExecutor()
	env := newTestEnv(t, gate, nil)
	scope := scopeFor("A")

	first, err := env.svc.RequestAnalysis(context.Background(), scope, nil)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	env.clock.Advance(time.Second)
	_, err = env.svc.RequestAnalysis(context.Background(), scope, nil)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive while first job is pending, got %v", err)
	}
	var rej *RejectionError
	if !errors.As(err, &rej) || rej.RetryAfter != 59*time.Second {
		t.Fatalf("expected 59s retry-after, got %+v", rej)
	}
	if !strings.Contains(rej.Message, "59 seconds") {
		t.Fatalf("unexpected message %q", rej.Message)
	}

	close(gate.release)
	if _, err := waitFuture(t, first); err != nil {
		t.Fatalf("first job: %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if _, err := env.svc.RequestAnalysis(context.Background(), scope, nil); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown to outlive the job, got %v", err)
	}

	env.clock.Advance(29 * time.Second)
	second, err := env.svc.RequestAnalysis(context.Background(), scope, nil)
	if err != nil {
		t.Fatalf("expected admission after cooldown, got %v", err)
	}
	if _, err := waitFuture(t, second); err != nil {
		t.Fatalf("second job: %v", err)
	}
}

func TestGlobalLimitRejectsFifthScopeWithinWindow(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)

	for i := 0; i < 4; i++ {
		future, err := env.svc.RequestAnalysis(context.Background(), scopeFor(fmt.Sprintf("S%d", i)), nil)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if _, err := waitFuture(t, future); err != nil {
			t.Fatalf("job %d: %v", i, err)
		}
	}

	_, err := env.svc.RequestAnalysis(context.Background(), scopeFor("S4"), nil)
	if !errors.Is(err, ErrGlobalRateLimited) {
		t.Fatalf("expected ErrGlobalRateLimited, got %v", err)
	}
	var rej *RejectionError
	if !errors.As(err, &rej) || rej.RetryAfter != time.Minute {
		t.Fatalf("expected 1m retry-after, got %+v", rej)
	}
	if len(env.svc.State().Jobs) != 0 {
		t.Fatalf("rejected request must not create a job")
	}

	env.clock.Advance(61 * time.Second)
	future, err := env.svc.RequestAnalysis(context.Background(), scopeFor("S4"), nil)
	if err != nil {
		t.Fatalf("expected admission after window, got %v", err)
	}
	if _, err := waitFuture(t, future); err != nil {
		t.Fatalf("fifth job: %v", err)
	}
}

func TestGlobalLimitCountsQueuedJobs(t *testing.T) {
	gate := newGateExecutor()
	env := newTestEnv(t, gate, nil)

	var futures []*Future
	for i := 0; i < 4; i++ {
		future, err := env.svc.RequestAnalysis(context.Background(), scopeFor(fmt.Sprintf("Q%d", i)), nil)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		futures = append(futures, future)
	}
	if _, err := env.svc.RequestAnalysis(context.Background(), scopeFor("Q4"), nil); !errors.Is(err, ErrGlobalRateLimited) {
		t.Fatalf("expected queued jobs to count toward the limit, got %v", err)
	}

	close(gate.release)
	for _, f := range futures {
		if _, err := waitFuture(t, f); err != nil {
			t.Fatalf("job %s: %v", f.JobID(), err)
		}
	}
}

func TestBreakerOpensAfterRateLimitFailures(t *testing.T) {
	var throttled atomic.Bool
	throttled.Store(true)
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
		calls.Add(1)
		if throttled.Load() {
			return Summary{}, fmt.Errorf("%w: 429", ErrProviderRateLimited)
		}
		return summaryFor(scope), nil
	})
	env := newTestEnv(t, exec, nil)

	future, err := env.svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	_, err = waitFuture(t, future)
	if !errors.Is(err, ErrProviderRateLimited) {
		t.Fatalf("expected ErrProviderRateLimited, got %v", err)
	}
	var jobErr *JobError
	if !errors.As(err, &jobErr) || jobErr.JobID != future.JobID() {
		t.Fatalf("expected *JobError for %s, got %v", future.JobID(), err)
	}

	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if got := env.sleeper.Delays(); !reflect.DeepEqual(got, wantDelays) {
		t.Fatalf("unexpected backoff delays %v", got)
	}

	head := env.svc.State().History[0]
	if head.Status != StatusFailed || head.ErrorCode != ErrorCodeProviderRateLimited || head.Retries != 3 {
		t.Fatalf("unexpected failed job %+v", head)
	}
	if !strings.Contains(head.Error, "after 3 retries") {
		t.Fatalf("expected retry count in error, got %q", head.Error)
	}

	breaker := env.svc.State().CircuitBreaker
	if breaker.State != circuitbreaker.StateOpen {
		t.Fatalf("expected breaker open, got %s", breaker.State)
	}

	_, err = env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil)
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "15 minutes") {
		t.Fatalf("expected remaining minutes in message, got %q", err.Error())
	}

	env.clock.Advance(14 * time.Minute)
	if _, err := env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected breaker still open, got %v", err)
	}

	throttled.Store(false)
	env.clock.Advance(time.Minute + time.Second)
	recovered, err := env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil)
	if err != nil {
		t.Fatalf("expected admission once breaker expired, got %v", err)
	}
	if _, err := waitFuture(t, recovered); err != nil {
		t.Fatalf("recovered job: %v", err)
	}
	breaker = env.svc.State().CircuitBreaker
	if breaker.State != circuitbreaker.StateClosed || len(breaker.Failures) != 0 {
		t.Fatalf("expected success to clear the breaker, got %+v", breaker)
	}
}

func TestNonRateLimitFailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	exec := ExecutorFunc(func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
		calls.Add(1)
		return Summary{}, boom
	})
	env := newTestEnv(t, exec, nil)

	future, err := env.svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	_, err = waitFuture(t, future)
	if !errors.Is(err, ErrProvider) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrProvider wrapping boom, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
	if delays := env.sleeper.Delays(); len(delays) != 0 {
		t.Fatalf("expected no backoff, got %v", delays)
	}
	if failures := env.svc.State().CircuitBreaker.Failures; len(failures) != 0 {
		t.Fatalf("provider errors must not feed the breaker, got %d samples", len(failures))
	}
	if head := env.svc.State().History[0]; head.ErrorCode != ErrorCodeProvider || head.Error == "" {
		t.Fatalf("unexpected history entry %+v", head)
	}
}

func TestTimeoutFailsJobWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
		calls.Add(1)
		<-ctx.Done()
		return Summary{}, ctx.Err()
	})
	env := newTestEnv(t, exec, func(cfg *config.AnalysisConfig) {
		cfg.JobTimeout = 20 * time.Millisecond
	})

	future, err := env.svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	_, err = waitFuture(t, future)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected timeout not to be retried, got %d attempts", got)
	}
	if head := env.svc.State().History[0]; head.ErrorCode != ErrorCodeTimeout {
		t.Fatalf("expected TIMEOUT code, got %+v", head)
	}
}

func TestHistoryKeepsTwentyMostRecent(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), func(cfg *config.AnalysisConfig) {
		cfg.GlobalLimit = 1000
	})

	var ids []string
	for i := 0; i < 25; i++ {
		future, err := env.svc.RequestAnalysis(context.Background(), scopeFor(fmt.Sprintf("H%02d", i)), nil)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if _, err := waitFuture(t, future); err != nil {
			t.Fatalf("job %d: %v", i, err)
		}
		ids = append(ids, future.JobID())
		env.clock.Advance(time.Second)
	}

	history := env.svc.State().History
	if len(history) != 20 {
		t.Fatalf("expected 20 history entries, got %d", len(history))
	}
	for i, job := range history {
		want := ids[len(ids)-1-i]
		if job.ID != want {
			t.Fatalf("history[%d] = %s, want %s", i, job.ID, want)
		}
	}
}

func TestCacheSurvivesLaterFailure(t *testing.T) {
	var fail atomic.Bool
	exec := ExecutorFunc(func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
		if fail.Load() {
			return Summary{}, errors.New("provider exploded")
		}
		return summaryFor(scope), nil
	})
	env := newTestEnv(t, exec, nil)
	scope := scopeFor("A")

	first, err := env.svc.RequestAnalysis(context.Background(), scope, nil)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := waitFuture(t, first); err != nil {
		t.Fatalf("first job: %v", err)
	}
	t1 := env.clock.Now()

	fail.Store(true)
	env.clock.Advance(2 * time.Minute)
	second, err := env.svc.RequestAnalysis(context.Background(), scope, nil)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if _, err := waitFuture(t, second); err == nil {
		t.Fatalf("expected second job to fail")
	}

	entry, ok := env.svc.Cached(scope)
	if !ok {
		t.Fatalf("expected cache entry to survive failure")
	}
	if !reflect.DeepEqual(entry.Summary, summaryFor(scope)) || !entry.Timestamp.Equal(t1) {
		t.Fatalf("cache overwritten by failure: %+v", entry)
	}
}

func TestJobsRunFIFOOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []string
		running atomic.Int32
		maxSeen atomic.Int32
	)
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, scope Scope, menu json.RawMessage) (Summary, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		mu.Lock()
		order = append(order, scope.Institution)
		mu.Unlock()
		<-release
		return summaryFor(scope), nil
	})
	env := newTestEnv(t, exec, nil)

	var futures []*Future
	for _, name := range []string{"A", "B", "C", "D"} {
		future, err := env.svc.RequestAnalysis(context.Background(), scopeFor(name), nil)
		if err != nil {
			t.Fatalf("request %s: %v", name, err)
		}
		futures = append(futures, future)
	}
	close(release)
	for _, f := range futures {
		if _, err := waitFuture(t, f); err != nil {
			t.Fatalf("job %s: %v", f.JobID(), err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, []string{"A", "B", "C", "D"}) {
		t.Fatalf("expected FIFO execution, got %v", order)
	}
	if got := maxSeen.Load(); got != 1 {
		t.Fatalf("expected at most one running job, saw %d", got)
	}

	history := env.svc.State().History
	for i := len(history) - 1; i > 0; i-- {
		older, newer := history[i], history[i-1]
		if newer.StartedAt.Before(*older.StartedAt) {
			t.Fatalf("job %s started before earlier-admitted %s", newer.ID, older.ID)
		}
	}
}

func TestRunningJobCoalescesRequests(t *testing.T) {
	gate := newGateExecutor()
	env := newTestEnv(t, gate, nil)
	scope := scopeFor("A")

	first, err := env.svc.RequestAnalysis(context.Background(), scope, nil)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	gate.awaitStart(t)

	env.clock.Advance(61 * time.Second)
	second, err := env.svc.RequestAnalysis(context.Background(), scope, nil)
	if err != nil {
		t.Fatalf("expected coalesced request, got %v", err)
	}
	if second != first {
		t.Fatalf("expected the running job's future to be shared")
	}

	close(gate.release)
	a, errA := waitFuture(t, first)
	b, errB := waitFuture(t, second)
	if errA != nil || errB != nil || !reflect.DeepEqual(a, b) {
		t.Fatalf("coalesced callers disagree: %+v/%v vs %+v/%v", a, errA, b, errB)
	}
	if len(gate.started) != 0 {
		t.Fatalf("expected a single executor call")
	}
	if got := len(env.svc.State().History); got != 1 {
		t.Fatalf("expected one job in history, got %d", got)
	}
}

func TestQueuedDuplicateRejectedByDefault(t *testing.T) {
	gate := newGateExecutor()
	env := newTestEnv(t, gate, nil)

	running, err := env.svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("request A: %v", err)
	}
	gate.awaitStart(t)
	queued, err := env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil)
	if err != nil {
		t.Fatalf("request B: %v", err)
	}

	env.clock.Advance(61 * time.Second)
	_, err = env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}

	close(gate.release)
	waitFuture(t, running)
	waitFuture(t, queued)
}

func TestQueuedDuplicateCoalescesWhenEnabled(t *testing.T) {
	gate := newGateExecutor()
	env := newTestEnv(t, gate, func(cfg *config.AnalysisConfig) {
		cfg.CoalesceQueued = true
	})

	running, err := env.svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("request A: %v", err)
	}
	gate.awaitStart(t)
	queued, err := env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil)
	if err != nil {
		t.Fatalf("request B: %v", err)
	}

	env.clock.Advance(61 * time.Second)
	again, err := env.svc.RequestAnalysis(context.Background(), scopeFor("B"), nil)
	if err != nil {
		t.Fatalf("expected queued job to be shared, got %v", err)
	}
	if again != queued {
		t.Fatalf("expected the queued job's future")
	}

	close(gate.release)
	waitFuture(t, running)
	if _, err := waitFuture(t, again); err != nil {
		t.Fatalf("queued job: %v", err)
	}
}

func TestRestoreCancelsInterruptedJobs(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)
	startedAt := testEpoch.Add(-time.Minute)
	cachedAt := testEpoch.Add(-time.Hour)
	seed := State{
		Jobs: []Job{
			{ID: "running-1", Key: "A|2024-9", Scope: scopeFor("A"), Status: StatusRunning, CreatedAt: startedAt, StartedAt: &startedAt},
			{ID: "queued-1", Key: "B|2024-9", Scope: scopeFor("B"), Status: StatusQueued, CreatedAt: startedAt},
		},
		History: []Job{
			{ID: "done-1", Key: "C|2024-9", Scope: scopeFor("C"), Status: StatusCompleted, CreatedAt: cachedAt},
		},
		Cache: map[string]CacheEntry{
			"C|2024-9": {Summary: summaryFor(scopeFor("C")), Timestamp: cachedAt},
		},
		Cooldowns: map[string]time.Time{"A|2024-9": testEpoch.Add(30 * time.Second)},
		CircuitBreaker: circuitbreaker.Snapshot{
			State:     circuitbreaker.StateOpen,
			OpenUntil: testEpoch.Add(5 * time.Minute),
		},
	}
	if err := env.repo.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := env.svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	state := env.svc.State()
	if len(state.Jobs) != 0 {
		t.Fatalf("expected no live jobs after restore, got %+v", state.Jobs)
	}
	gotIDs := []string{}
	for _, job := range state.History {
		gotIDs = append(gotIDs, job.ID)
	}
	if !reflect.DeepEqual(gotIDs, []string{"queued-1", "running-1", "done-1"}) {
		t.Fatalf("unexpected history order %v", gotIDs)
	}
	for _, job := range state.History[:2] {
		if job.Status != StatusCancelled || job.Error != "interrupted by restart" || job.ErrorCode != ErrorCodeInterrupted {
			t.Fatalf("expected interrupted job to be cancelled, got %+v", job)
		}
	}
	if _, ok := env.svc.Cached(scopeFor("C")); !ok {
		t.Fatalf("expected cache to be restored")
	}
	if len(env.outcomes.Messages()) != 2 {
		t.Fatalf("expected outcome messages for interrupted jobs")
	}

	if _, err := env.svc.RequestAnalysis(context.Background(), scopeFor("D"), nil); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected restored breaker to reject, got %v", err)
	}
	env.clock.Advance(5*time.Minute + time.Second)
	future, err := env.svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("expected restored cooldown to have expired, got %v", err)
	}
	if _, err := waitFuture(t, future); err != nil {
		t.Fatalf("job after restore: %v", err)
	}
}

func TestRestoreWithoutCheckpointIsNoop(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)
	if err := env.svc.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if state := env.svc.State(); len(state.History) != 0 || len(state.Cache) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestTickClosesExpiredBreakerAndCheckpoints(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)
	env.svc.breaker.Restore(circuitbreaker.Snapshot{
		State:     circuitbreaker.StateOpen,
		OpenUntil: testEpoch.Add(time.Minute),
	})

	env.svc.tick()
	if got := env.svc.State().CircuitBreaker.State; got != circuitbreaker.StateOpen {
		t.Fatalf("expected breaker still open, got %s", got)
	}
	saves := env.repo.Saves()

	env.clock.Advance(2 * time.Minute)
	env.svc.tick()
	if got := env.svc.State().CircuitBreaker.State; got != circuitbreaker.StateClosed {
		t.Fatalf("expected tick to close expired breaker, got %s", got)
	}
	if env.repo.Saves() != saves+1 {
		t.Fatalf("expected transition to be checkpointed")
	}
	persisted, _, _ := env.repo.Load(context.Background())
	if persisted.CircuitBreaker.State != circuitbreaker.StateClosed {
		t.Fatalf("checkpoint still shows %s", persisted.CircuitBreaker.State)
	}
}

func TestRunStopsWhenContextDone(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.svc.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestPersistSkipsOlderCheckpoints(t *testing.T) {
	env := newTestEnv(t, echoExecutor(), nil)
	newer := State{Cooldowns: map[string]time.Time{"newer": testEpoch}}
	older := State{Cooldowns: map[string]time.Time{"older": testEpoch}}

	env.svc.persist(checkpoint{seq: 2, state: newer})
	env.svc.persist(checkpoint{seq: 1, state: older})

	persisted, _, err := env.repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := persisted.Cooldowns["newer"]; !ok {
		t.Fatalf("older checkpoint overwrote newer one: %+v", persisted.Cooldowns)
	}
}

func TestRequestIDIsRecordedOnJob(t *testing.T) {
	gate := newGateExecutor()
	env := newTestEnv(t, gate, nil)

	ctx := WithRequestID(context.Background(), "req-42")
	future, err := env.svc.RequestAnalysis(ctx, scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	job, err := env.svc.Job(future.JobID())
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.RequestID != "req-42" {
		t.Fatalf("expected request id on job, got %q", job.RequestID)
	}
	close(gate.release)
	waitFuture(t, future)

	if _, err := env.svc.Job("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOutcomeFailureDoesNotFailJob(t *testing.T) {
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)

	var sends atomic.Int32
	svc := NewService(config.DefaultAnalysis(), Deps{
		Executor: echoExecutor(),
		Outcomes: queue.ClientFunc(func(ctx context.Context, msg queue.Message) error {
			sends.Add(1)
			return errors.New("queue unavailable")
		}),
	})

	future, err := svc.RequestAnalysis(context.Background(), scopeFor("A"), nil)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if _, err := waitFuture(t, future); err != nil {
		t.Fatalf("job should succeed despite outcome failure: %v", err)
	}
	waitFor(t, "outcome send", func() bool { return sends.Load() > 0 })
	if sends.Load() != 1 {
		t.Fatalf("expected one outcome send, got %d", sends.Load())
	}
	if _, ok := svc.Cached(scopeFor("A")); !ok {
		t.Fatalf("expected cache entry")
	}
}
