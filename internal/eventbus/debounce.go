package eventbus

import (
	"sync"
	"time"

	"github.com/propyield/platform/internal/clock"
)

// Gate is a keyed time-gate used to debounce repeated events for the same
// entity within a window, grounded on aristath-sentinel's
// internal/clientdata/ttl.go TTL-cache convention and
// internal/queue/scheduler.go's EnqueueIfShouldRun interval check
// (spec.md §5 "Debounce policy"): on receipt, read the last-processed
// timestamp for the key; if within window, drop, unless the caller's
// bypass predicate says otherwise; on processing, record the current
// timestamp.
//
// Gate is an in-process map rather than the SQLite-backed cache the
// database package profiles elsewhere, since the debounce state is
// throwaway and per-process; a single service restart simply re-admits
// the next event for every key, which is safe because Allow is only ever
// used to skip redundant recomputation, never to skip required work.
type Gate struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	window   time.Duration
	clock    clock.Clock
}

// NewGate creates a debounce gate with the given window.
func NewGate(window time.Duration, c clock.Clock) *Gate {
	if c == nil {
		c = clock.Real{}
	}
	return &Gate{
		lastSeen: make(map[string]time.Time),
		window:   window,
		clock:    c,
	}
}

// Allow reports whether an event for key should be processed now. It
// returns true (and records the key as processed) if no event for key was
// processed within the window, or if bypass is true. bypass lets callers
// implement spec.md §4.4's "dirty includes address bypasses debouncing".
func (g *Gate) Allow(key string, bypass bool) bool {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !bypass {
		if last, ok := g.lastSeen[key]; ok && now.Sub(last) < g.window {
			return false
		}
	}
	g.lastSeen[key] = now
	return true
}
