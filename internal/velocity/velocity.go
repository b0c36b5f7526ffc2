// Package velocity tracks per-user transaction frequency in sliding windows.
//
// The tracker requires that observations for one user key arrive in
// non-decreasing timestamp order; velocity metrics are meaningless otherwise.
// The batch pipeline guarantees this by sorting, and Observe reports
// ErrOutOfOrder rather than silently mis-scoring if the precondition is
// violated. Different user keys are independent and may be observed
// concurrently.
package velocity

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOutOfOrder reports a usage error: an observation with a timestamp
// earlier than a previous observation for the same user key.
var ErrOutOfOrder = errors.New("velocity: observations out of timestamp order")

// maxWindowEntries bounds per-user memory even with a very long window.
const maxWindowEntries = 1000

// Snapshot captures the state of one user's window at observation time.
// Count and WindowAmount cover the transactions before the observed one.
type Snapshot struct {
	Count         int           `json:"count"`         // prior transactions inside the window
	WindowAmount  int64         `json:"windowAmount"`  // their summed amount, minor units
	Window        time.Duration `json:"window"`        // the window the count refers to
	SincePrevious time.Duration `json:"sincePrevious"` // gap to the immediately preceding transaction
	HasPrevious   bool          `json:"hasPrevious"`
}

type windowEntry struct {
	ts     time.Time
	amount int64
}

type userWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	last    time.Time
	hasLast bool
}

// Tracker maintains one sliding window per user key.
type Tracker struct {
	window  time.Duration
	windows sync.Map // map[string]*userWindow
}

// New creates a tracker with the given window horizon.
func New(window time.Duration) *Tracker {
	return &Tracker{window: window}
}

// Observe records a transaction for userKey at ts and returns the window
// snapshot as of just before this transaction. Entries older than the window
// horizon are pruned lazily on each call.
func (t *Tracker) Observe(userKey string, ts time.Time, amount int64) (Snapshot, error) {
	w := t.getWindow(userKey)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hasLast && ts.Before(w.last) {
		return Snapshot{}, fmt.Errorf("%w: user %q got %s after %s",
			ErrOutOfOrder, userKey, ts.Format(time.RFC3339), w.last.Format(time.RFC3339))
	}

	t.prune(w, ts)

	snap := Snapshot{
		Count:  len(w.entries),
		Window: t.window,
	}
	for _, e := range w.entries {
		snap.WindowAmount += e.amount
	}
	if w.hasLast {
		snap.HasPrevious = true
		snap.SincePrevious = ts.Sub(w.last)
	}

	w.entries = append(w.entries, windowEntry{ts: ts, amount: amount})
	w.last = ts
	w.hasLast = true

	return snap, nil
}

// Evict drops the window for userKey entirely. Useful once a batch has moved
// past a user's horizon.
func (t *Tracker) Evict(userKey string) {
	t.windows.Delete(userKey)
}

// Users returns the number of user keys currently tracked.
func (t *Tracker) Users() int {
	n := 0
	t.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (t *Tracker) getWindow(userKey string) *userWindow {
	v, _ := t.windows.LoadOrStore(userKey, &userWindow{})
	return v.(*userWindow)
}

// prune removes entries older than the horizon relative to now, and caps the
// slice length. Caller holds the lock.
func (t *Tracker) prune(w *userWindow, now time.Time) {
	cutoff := now.Add(-t.window)
	start := 0
	for start < len(w.entries) && !w.entries[start].ts.After(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxWindowEntries {
		w.entries = w.entries[len(w.entries)-maxWindowEntries:]
	}
}
