package analyses

import "time"

// cooldownTable tracks "not eligible before" instants per scope key.
// It is not synchronized; Service.mu guards it.
type cooldownTable struct {
	until  map[string]time.Time
	window time.Duration
}

func newCooldownTable(window time.Duration) *cooldownTable {
	return &cooldownTable{
		until:  make(map[string]time.Time),
		window: window,
	}
}

// remaining reports how long key stays blocked, if at all.
func (t *cooldownTable) remaining(key string, now time.Time) (time.Duration, bool) {
	until, ok := t.until[key]
	if !ok || !now.Before(until) {
		return 0, false
	}
	return until.Sub(now), true
}

func (t *cooldownTable) arm(key string, now time.Time) {
	if t.window <= 0 {
		return
	}
	t.until[key] = now.Add(t.window)
}

// prune drops expired entries.
func (t *cooldownTable) prune(now time.Time) {
	for key, until := range t.until {
		if !now.Before(until) {
			delete(t.until, key)
		}
	}
}

func (t *cooldownTable) snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(t.until))
	for key, until := range t.until {
		out[key] = until
	}
	return out
}

func (t *cooldownTable) restore(entries map[string]time.Time) {
	t.until = make(map[string]time.Time, len(entries))
	for key, until := range entries {
		t.until[key] = until
	}
}
