package ratelimit

import (
	"sync"
	"time"
)

// Tracker keeps a sliding window of request times per requester and category.
type Tracker struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{events: make(map[string][]time.Time)}
}

func trackerKey(requester, category string) string {
	return requester + "\x00" + category
}

// Snapshot returns how many requests fall inside window ending at now and
// drops older entries.
func (t *Tracker) Snapshot(requester, category string, window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(trackerKey(requester, category), window, now))
}

// Increment records a request at now.
func (t *Tracker) Increment(requester, category string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := trackerKey(requester, category)
	t.events[k] = append(t.events[k], now)
}

// allow prunes, checks and records every limit in one critical section so
// concurrent requests cannot both take the last slot. Nothing is recorded
// unless all limits pass. On failure it returns the category that refused.
func (t *Tracker) allow(requester string, limits map[string]*CategoryLimit, order []string, now time.Time) (string, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range order {
		if n := len(t.prune(trackerKey(requester, c), limits[c].Window, now)); n >= limits[c].MaxRequests {
			return c, n, false
		}
	}
	for _, c := range order {
		k := trackerKey(requester, c)
		t.events[k] = append(t.events[k], now)
	}
	return "", 0, true
}

func (t *Tracker) prune(k string, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	ts := t.events[k]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == len(ts) {
		delete(t.events, k)
		return nil
	}
	ts = ts[i:]
	t.events[k] = ts
	return ts
}
