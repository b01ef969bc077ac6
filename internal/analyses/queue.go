package analyses

import (
	"context"
	"encoding/json"
	"sync"
)

// Future resolves when its job reaches a terminal status. Every caller
// coalesced onto the job shares the same Future.
type Future struct {
	jobID    string
	scopeKey string
	done     chan struct{}
	once     sync.Once
	summary  Summary
	err      error
}

func newFuture(jobID, scopeKey string) *Future {
	return &Future{jobID: jobID, scopeKey: scopeKey, done: make(chan struct{})}
}

func (f *Future) JobID() string { return f.jobID }

func (f *Future) ScopeKey() string { return f.scopeKey }

// Done is closed once the job has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job resolves or ctx is done. Abandoning the wait does
// not cancel the job.
func (f *Future) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-f.done:
		return f.summary, f.err
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func (f *Future) resolve(summary Summary, err error) {
	f.once.Do(func() {
		f.summary = summary
		f.err = err
		close(f.done)
	})
}

// queueEntry is a live job with the inputs needed to run it.
type queueEntry struct {
	job    *Job
	menu   json.RawMessage
	future *Future
}

// jobQueue holds queued and running jobs in admission order.
// It is not synchronized; Service.mu guards it.
type jobQueue struct {
	entries []*queueEntry
}

func (q *jobQueue) push(e *queueEntry) {
	q.entries = append(q.entries, e)
}

// nextQueued returns the oldest queued entry.
func (q *jobQueue) nextQueued() *queueEntry {
	for _, e := range q.entries {
		if e.job.Status == StatusQueued {
			return e
		}
	}
	return nil
}

func (q *jobQueue) byKey(key string) *queueEntry {
	for _, e := range q.entries {
		if e.job.Key == key {
			return e
		}
	}
	return nil
}

func (q *jobQueue) byID(id string) *queueEntry {
	for _, e := range q.entries {
		if e.job.ID == id {
			return e
		}
	}
	return nil
}

func (q *jobQueue) remove(id string) {
	for i, e := range q.entries {
		if e.job.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *jobQueue) len() int { return len(q.entries) }

func (q *jobQueue) jobs() []Job {
	out := make([]Job, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e.job)
	}
	return out
}
