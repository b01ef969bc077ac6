package analyses

import "time"

// resultStore is the result cache plus the bounded newest-first job history.
// It is not synchronized; Service.mu guards it.
type resultStore struct {
	cache   map[string]CacheEntry
	history []Job
	limit   int
}

func newResultStore(limit int) *resultStore {
	if limit <= 0 {
		limit = 20
	}
	return &resultStore{cache: make(map[string]CacheEntry), limit: limit}
}

// record prepends a terminal job snapshot and truncates the oldest entries.
func (r *resultStore) record(job Job) {
	r.history = append([]Job{job}, r.history...)
	if len(r.history) > r.limit {
		r.history = r.history[:r.limit]
	}
}

func (r *resultStore) storeResult(key string, summary Summary, at time.Time) {
	r.cache[key] = CacheEntry{Summary: summary, Timestamp: at}
}

func (r *resultStore) cached(key string) (CacheEntry, bool) {
	entry, ok := r.cache[key]
	return entry, ok
}

func (r *resultStore) find(id string) (Job, bool) {
	for _, job := range r.history {
		if job.ID == id {
			return job, true
		}
	}
	return Job{}, false
}

// startedSince returns start times of historical jobs after cutoff.
func (r *resultStore) startedSince(cutoff time.Time) []time.Time {
	var out []time.Time
	for _, job := range r.history {
		if job.StartedAt != nil && job.StartedAt.After(cutoff) {
			out = append(out, *job.StartedAt)
		}
	}
	return out
}

func (r *resultStore) snapshot() ([]Job, map[string]CacheEntry) {
	history := make([]Job, len(r.history))
	copy(history, r.history)
	cache := make(map[string]CacheEntry, len(r.cache))
	for key, entry := range r.cache {
		cache[key] = entry
	}
	return history, cache
}

func (r *resultStore) restore(history []Job, cache map[string]CacheEntry) {
	r.history = nil
	// Loaded history is newest first; record prepends, so walk it backwards.
	for i := len(history) - 1; i >= 0; i-- {
		r.record(history[i])
	}
	r.cache = make(map[string]CacheEntry, len(cache))
	for key, entry := range cache {
		r.cache[key] = entry
	}
}
