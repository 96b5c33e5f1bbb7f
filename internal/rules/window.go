package rules

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// windowCacheSize bounds tracked identities; least-recently-active
	// identities are evicted first, so memory scales with active
	// senders rather than message volume.
	windowCacheSize = 10_000

	// minRetention is the floor on how long observations are kept even
	// when no frequency rule is configured.
	minRetention = time.Minute
)

// identityWindow is the per-identity ordered observation sequence used
// by frequency rules. All access goes through its own mutex so
// concurrent messages from the same identity never lose updates.
type identityWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// WindowTracker owns the identity -> window map. Eviction of stale
// entries inside a window is lazy: it happens when that identity is
// next observed or counted, never from a sweep goroutine. The tracker
// outlives individual rule sets, so frequency history survives a
// configuration swap.
type WindowTracker struct {
	windows   *lru.Cache[string, *identityWindow]
	retention atomic.Int64 // time.Duration
}

// NewWindowTracker creates a tracker that retains observations for at
// least the given duration (clamped up to minRetention).
func NewWindowTracker(retention time.Duration) *WindowTracker {
	cache, _ := lru.New[string, *identityWindow](windowCacheSize)
	t := &WindowTracker{windows: cache}
	t.SetRetention(retention)
	return t
}

// SetRetention replaces the observation horizon, clamped up to
// minRetention. Applied when a new rule set changes the widest
// frequency window.
func (t *WindowTracker) SetRetention(retention time.Duration) {
	if retention < minRetention {
		retention = minRetention
	}
	t.retention.Store(int64(retention))
}

func (t *WindowTracker) retain() time.Duration {
	return time.Duration(t.retention.Load())
}

// Observe records one message from the identity at the given time and
// prunes observations older than the retention horizon. Called exactly
// once per evaluated message, before rule fan-out, so several frequency
// rules see the same state.
func (t *WindowTracker) Observe(identity string, at time.Time) {
	if identity == "" {
		return
	}
	w := t.window(identity)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = append(w.times, at)
	w.prune(at.Add(-t.retain()))
}

// CountWithin returns how many observations from the identity fall
// inside the trailing window ending at now.
func (t *WindowTracker) CountWithin(identity string, window time.Duration, now time.Time) int {
	if identity == "" {
		return 0
	}
	w, ok := t.windows.Get(identity)
	if !ok {
		return 0
	}
	cutoff := now.Add(-window)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now.Add(-t.retain()))
	n := 0
	for _, ts := range w.times {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// TrackedIdentities reports how many identities currently hold a window.
func (t *WindowTracker) TrackedIdentities() int {
	return t.windows.Len()
}

func (t *WindowTracker) window(identity string) *identityWindow {
	if w, ok := t.windows.Get(identity); ok {
		return w
	}
	w := &identityWindow{}
	if existing, found, _ := t.windows.PeekOrAdd(identity, w); found {
		return existing
	}
	return w
}

// prune drops observations at or before the cutoff. Caller holds w.mu.
// Observations arrive in time order, so the first retained index is the
// new start of the slice.
func (w *identityWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}
