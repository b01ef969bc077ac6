package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"menu-analysis-backend/internal/queue"
	"menu-analysis-backend/internal/shared/circuitbreaker"
	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/metrics"
	"menu-analysis-backend/internal/shared/telemetry"
)

const (
	breakerTickInterval = time.Second
	saveTimeout         = 5 * time.Second
	notifyTimeout       = 5 * time.Second
	interruptedMessage  = "interrupted by restart"
)

// Deps are the collaborators of a Service. Only Executor is required.
type Deps struct {
	Executor Executor
	Repo     StateRepo
	Outcomes queue.Client
	Metrics  metrics.Sink
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	Jitter   func() float64
}

// Service is the analysis orchestrator. It admits requests, runs at most one
// job at a time in FIFO order, and checkpoints its state after every change.
type Service struct {
	cfg      config.AnalysisConfig
	exec     Executor
	repo     StateRepo
	outcomes queue.Client
	metrics  metrics.Sink
	now      func() time.Time
	policy   retryPolicy
	limiter  globalLimiter
	breaker  *circuitbreaker.Breaker
	workCtx  context.Context

	mu        sync.Mutex
	queue     jobQueue
	cooldowns *cooldownTable
	results   *resultStore
	draining  bool
	seq       uint64

	saveMu   sync.Mutex
	savedSeq uint64
}

// NewService builds a Service. Zero config values fall back to the defaults.
func NewService(cfg config.AnalysisConfig, deps Deps) *Service {
	cfg = withDefaults(cfg)
	s := &Service{
		cfg:      cfg,
		exec:     deps.Executor,
		repo:     deps.Repo,
		outcomes: deps.Outcomes,
		metrics:  deps.Metrics,
		now:      deps.Now,
		limiter:  globalLimiter{limit: cfg.GlobalLimit, window: cfg.GlobalWindow},
		workCtx:  context.Background(),
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopSink{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	jitter := deps.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	s.policy = retryPolicy{
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.JobTimeout,
		schedule:   defaultBackoffSchedule,
		jitter:     jitter,
		sleep:      sleep,
	}
	s.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerThreshold,
		Window:           cfg.BreakerWindow,
		OpenFor:          cfg.BreakerOpen,
		Now:              s.now,
		OnStateChange:    s.onBreakerChange,
	})
	s.cooldowns = newCooldownTable(cfg.Cooldown)
	s.results = newResultStore(cfg.HistoryLimit)
	return s
}

func withDefaults(cfg config.AnalysisConfig) config.AnalysisConfig {
	def := config.DefaultAnalysis()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = def.GlobalLimit
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = def.GlobalWindow
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = def.BreakerWindow
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = def.BreakerOpen
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	return cfg
}

// RequestAnalysis admits a job for scope or returns a *RejectionError.
// Admission checks run in order: breaker, cooldown, coalescing, global limit.
// A request for a scope whose job is running attaches to that job's Future.
func (s *Service) RequestAnalysis(ctx context.Context, scope Scope, menu json.RawMessage) (*Future, error) {
	if s.exec == nil {
		return nil, errors.New("analysis executor not configured")
	}
	key := scope.Key()

	s.mu.Lock()
	now := s.now()

	if remaining, err := s.breaker.Allow(); err != nil {
		s.mu.Unlock()
		return nil, s.reject(ctx, key, breakerOpenError(remaining))
	}

	s.cooldowns.prune(now)
	if remaining, active := s.cooldowns.remaining(key, now); active {
		s.mu.Unlock()
		return nil, s.reject(ctx, key, cooldownError(remaining))
	}

	if live := s.queue.byKey(key); live != nil {
		if live.job.Status == StatusRunning || s.cfg.CoalesceQueued {
			future := live.future
			status := live.job.Status
			s.mu.Unlock()
			s.metrics.Admission(metrics.AdmissionCoalesced)
			telemetry.Info("analysis.coalesced", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"job_id":     future.JobID(),
				"scope_key":  key,
				"status":     string(status),
			})
			return future, nil
		}
		s.mu.Unlock()
		return nil, s.reject(ctx, key, alreadyQueuedError())
	}

	if retryAfter, ok := s.limiter.check(now, s.recentStartsLocked(now)); !ok {
		s.mu.Unlock()
		return nil, s.reject(ctx, key, globalLimitError(s.limiter.limit, s.limiter.window, retryAfter))
	}

	job := &Job{
		ID:        uuid.NewString(),
		Key:       key,
		Scope:     scope,
		Status:    StatusQueued,
		RequestID: requestIDFromContext(ctx),
		CreatedAt: now,
	}
	entry := &queueEntry{
		job:    job,
		menu:   append(json.RawMessage(nil), menu...),
		future: newFuture(job.ID, key),
	}
	s.queue.push(entry)
	s.cooldowns.arm(key, now)
	cp := s.checkpointLocked()
	depth := s.queue.len()
	snapshot := *job
	s.mu.Unlock()

	s.metrics.Admission(metrics.AdmissionAdmitted)
	s.metrics.QueueDepth(depth)
	s.logStatus(snapshot, "none->queued", 0)
	s.persist(cp)
	s.kick()
	return entry.future, nil
}

// recentStartsLocked returns the start instants counted by the global
// limiter. Queued jobs count at admission time since they are about to start.
func (s *Service) recentStartsLocked(now time.Time) []time.Time {
	starts := s.results.startedSince(now.Add(-s.limiter.window))
	for _, e := range s.queue.entries {
		switch {
		case e.job.StartedAt != nil:
			starts = append(starts, *e.job.StartedAt)
		case e.job.Status == StatusQueued:
			starts = append(starts, e.job.CreatedAt)
		}
	}
	return starts
}

func (s *Service) reject(ctx context.Context, key string, rej *RejectionError) error {
	code := ErrorCode(rej)
	s.metrics.Admission(strings.ToLower(code))
	telemetry.Info("analysis.rejected", map[string]any{
		"request_id":     requestIDFromContext(ctx),
		"scope_key":      key,
		"error_code":     code,
		"retry_after_ms": rej.RetryAfter.Milliseconds(),
	})
	return rej
}

// kick starts the worker unless one is already draining the queue.
func (s *Service) kick() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	go s.drain()
}

func (s *Service) drain() {
	for {
		s.mu.Lock()
		entry := s.queue.nextQueued()
		if entry == nil {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.runEntry(entry)
	}
}

func (s *Service) runEntry(e *queueEntry) {
	var started Job
	s.update(func(now time.Time) {
		startedAt := now
		e.job.Status = StatusRunning
		e.job.StartedAt = &startedAt
		started = *e.job
	})
	s.logStatus(started, "queued->running", 0)

	summary, err := s.policy.run(s.workCtx, s.exec, started.Scope, e.menu, attemptHooks{
		beforeAttempt: func(attempt int) {
			s.update(func(time.Time) { e.job.Retries = attempt })
		},
		rateLimited: func(attempt int, err error) {
			s.metrics.AttemptCompleted("rate_limited")
			s.update(func(time.Time) { s.breaker.RecordFailure() })
			telemetry.Warn("analysis.rate_limited", map[string]any{
				"job_id":    started.ID,
				"scope_key": started.Key,
				"attempt":   attempt,
				"error":     sanitizeError(err),
			})
		},
		retrying: func(attempt int, delay time.Duration) {
			s.metrics.Retry()
			telemetry.Info("analysis.retry", map[string]any{
				"job_id":    started.ID,
				"scope_key": started.Key,
				"attempt":   attempt + 1,
				"delay_ms":  delay.Milliseconds(),
			})
		},
	})
	switch {
	case err == nil:
		s.metrics.AttemptCompleted("success")
	case errors.Is(err, ErrTimeout):
		s.metrics.AttemptCompleted("timeout")
	case !isRateLimited(err):
		s.metrics.AttemptCompleted("error")
	}
	s.finish(e, summary, err)
}

func (s *Service) finish(e *queueEntry, summary Summary, err error) {
	var jobErr error
	if err != nil {
		jobErr = &JobError{Kind: classifyFailure(err), JobID: e.job.ID, Err: err}
	}

	var done Job
	s.update(func(now time.Time) {
		completedAt := now
		e.job.CompletedAt = &completedAt
		if jobErr == nil {
			result := summary
			e.job.Status = StatusCompleted
			e.job.Result = &result
			s.results.storeResult(e.job.Key, summary, now)
			s.breaker.RecordSuccess()
		} else {
			e.job.Status = StatusFailed
			e.job.Error = failureMessage(e.job.Retries, err)
			e.job.ErrorCode = ErrorCode(jobErr)
		}
		s.queue.remove(e.job.ID)
		s.results.record(*e.job)
		done = *e.job
	})

	e.future.resolve(summary, jobErr)

	var duration time.Duration
	if done.StartedAt != nil && done.CompletedAt != nil {
		duration = done.CompletedAt.Sub(*done.StartedAt)
	}
	s.metrics.JobFinished(string(done.Status), duration)
	s.logStatus(done, "running->"+string(done.Status), duration)
	s.notify(done)
}

func classifyFailure(err error) error {
	switch {
	case isRateLimited(err):
		return ErrProviderRateLimited
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	default:
		return ErrProvider
	}
}

func failureMessage(retries int, err error) string {
	msg := sanitizeError(err)
	if isRateLimited(err) {
		word := "retries"
		if retries == 1 {
			word = "retry"
		}
		return fmt.Sprintf("provider rate limit persisted after %d %s: %s", retries, word, msg)
	}
	return msg
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

// Restore rehydrates state from the repo. Jobs that were live at checkpoint
// time have no caller left and move to history as cancelled. Call it once,
// before the first RequestAnalysis.
func (s *Service) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	state, ok, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore orchestrator state: %w", err)
	}
	if !ok {
		telemetry.Info("analysis.restore", map[string]any{"found": false})
		return nil
	}

	s.mu.Lock()
	busy := s.queue.len() > 0
	s.mu.Unlock()
	if busy {
		return errors.New("restore orchestrator state: jobs already admitted")
	}

	var interrupted []Job
	var transitions []string
	s.update(func(now time.Time) {
		s.results.restore(state.History, state.Cache)
		for _, job := range state.Jobs {
			transitions = append(transitions, string(job.Status)+"->"+string(StatusCancelled))
			completedAt := now
			job.Status = StatusCancelled
			job.CompletedAt = &completedAt
			job.Error = interruptedMessage
			job.ErrorCode = ErrorCodeInterrupted
			s.results.record(job)
			interrupted = append(interrupted, job)
		}
		s.cooldowns.restore(state.Cooldowns)
		s.breaker.Restore(state.CircuitBreaker)
	})

	breaker := s.breaker.Evaluate()
	s.metrics.BreakerState(string(breaker.State))
	telemetry.Info("analysis.restore", map[string]any{
		"found":       true,
		"history":     len(state.History),
		"cache":       len(state.Cache),
		"interrupted": len(interrupted),
		"breaker":     string(breaker.State),
	})
	for i, job := range interrupted {
		s.metrics.JobFinished(string(StatusCancelled), 0)
		s.logStatus(job, transitions[i], 0)
		s.notify(job)
	}
	return nil
}

// Run re-evaluates the breaker every second until ctx is done, so an expired
// open breaker closes even while no requests arrive.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(breakerTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	before := s.breaker.Snapshot()
	after := s.breaker.Evaluate()
	if before.State != after.State || len(before.Failures) != len(after.Failures) {
		s.update(func(time.Time) {})
	}
}

// State returns a copy of the orchestrator state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Job returns a live or historical job by ID.
func (s *Service) Job(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.queue.byID(id); e != nil {
		return *e.job, nil
	}
	if job, ok := s.results.find(id); ok {
		return job, nil
	}
	return Job{}, ErrNotFound
}

// Cached returns the latest successful summary for scope.
func (s *Service) Cached(scope Scope) (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.cached(scope.Key())
}

// Breaker evaluates and returns the circuit breaker state.
func (s *Service) Breaker() circuitbreaker.Snapshot {
	return s.breaker.Evaluate()
}

type checkpoint struct {
	seq   uint64
	state State
}

// update applies fn under the state lock and checkpoints the result.
func (s *Service) update(fn func(now time.Time)) {
	s.mu.Lock()
	fn(s.now())
	cp := s.checkpointLocked()
	depth := s.queue.len()
	s.mu.Unlock()

	s.metrics.QueueDepth(depth)
	s.persist(cp)
}

func (s *Service) checkpointLocked() checkpoint {
	s.seq++
	return checkpoint{seq: s.seq, state: s.snapshotLocked()}
}

func (s *Service) snapshotLocked() State {
	history, cache := s.results.snapshot()
	return State{
		Jobs:           s.queue.jobs(),
		History:        history,
		Cache:          cache,
		Cooldowns:      s.cooldowns.snapshot(),
		CircuitBreaker: s.breaker.Snapshot(),
	}
}

// persist writes a checkpoint unless a newer one is already stored.
// Failures are logged; the in-memory state stays authoritative.
func (s *Service) persist(cp checkpoint) {
	if s.repo == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if cp.seq <= s.savedSeq {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.repo.Save(ctx, cp.state); err != nil {
		telemetry.Error("analysis.checkpoint_failed", map[string]any{
			"seq":   cp.seq,
			"error": err,
		})
		return
	}
	s.savedSeq = cp.seq
}

func (s *Service) notify(job Job) {
	if s.outcomes == nil {
		return
	}
	msg := queue.Message{
		JobID:    job.ID,
		ScopeKey: job.Key,
		Status:   string(job.Status),
		Error:    job.Error,
		Version:  queue.MessageVersion,
	}
	if job.CompletedAt != nil {
		msg.CompletedAt = *job.CompletedAt
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.outcomes.Send(ctx, msg); err != nil {
		telemetry.Warn("analysis.notify_failed", map[string]any{
			"job_id": job.ID,
			"error":  err,
		})
	}
}

func (s *Service) onBreakerChange(from, to circuitbreaker.State) {
	s.metrics.BreakerState(string(to))
	fields := map[string]any{
		"from":              string(from),
		"to":                string(to),
		"status_transition": string(from) + "->" + string(to),
	}
	if to == circuitbreaker.StateOpen {
		telemetry.Warn("analysis.breaker", fields)
		return
	}
	telemetry.Info("analysis.breaker", fields)
}

func (s *Service) logStatus(job Job, transition string, duration time.Duration) {
	fields := map[string]any{
		"request_id":        job.RequestID,
		"job_id":            job.ID,
		"scope_key":         job.Key,
		"status":            string(job.Status),
		"status_transition": transition,
		"retries":           job.Retries,
	}
	if duration > 0 {
		fields["duration_ms"] = float64(duration.Microseconds()) / 1000.0
	}
	if job.ErrorCode != "" {
		fields["error_code"] = job.ErrorCode
		fields["error"] = job.Error
	}
	telemetry.Info("analysis.status", fields)
}
