package engine

import (
	"sync"
	"time"
)

// Deduper is a TTL-bounded set of record keys. Keys re-seen inside the
// window are duplicates; the window bounds memory on long-running
// streaming pipelines.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	sweeps int
}

// NewDeduper creates a deduper with the given window. A zero window
// disables expiry.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Seen records key and reports whether it was already present inside the
// window. Empty keys are never deduplicated.
func (d *Deduper) Seen(key string) bool {
	if key == "" {
		return false
	}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok {
		if d.window <= 0 || now.Sub(at) < d.window {
			return true
		}
	}
	d.seen[key] = now

	// Amortized sweep keeps the map near the live set.
	d.sweeps++
	if d.window > 0 && d.sweeps >= 10000 {
		d.sweeps = 0
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	return false
}

// Len reports the number of tracked keys.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
