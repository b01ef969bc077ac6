package analyses

import "time"

// globalLimiter caps job starts across all scopes in a rolling window.
type globalLimiter struct {
	limit  int
	window time.Duration
}

// check counts starts within the window ending at now. When the cap is
// reached it returns the wait until the oldest counted start leaves the window.
func (l globalLimiter) check(now time.Time, starts []time.Time) (time.Duration, bool) {
	if l.limit <= 0 {
		return 0, true
	}
	cutoff := now.Add(-l.window)
	count := 0
	var oldest time.Time
	for _, ts := range starts {
		if !ts.After(cutoff) {
			continue
		}
		count++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if count < l.limit {
		return 0, true
	}
	return oldest.Add(l.window).Sub(now), false
}
