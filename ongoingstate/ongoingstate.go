// Package ongoingstate implements the transient, in-memory tracker
// described in SPEC_FULL.md §4.7: for each quark, the value currently in
// effect and the timestamp it took effect, so a builder can decide when a
// value change should close one interval and open the next without
// re-querying the tree during ingest.
//
// It is intentionally not persisted; a build resuming from an external
// checkpoint would need to rebuild it by replaying known state, which is
// out of scope here (see spec.md's Non-goals around crash recovery).
package ongoingstate

import (
	"sync"

	"github.com/datatrails/go-histtree/htvalue"
)

type entry struct {
	value htvalue.Value
	since int64
}

// Tracker holds the current value and since-timestamp for every quark with
// an open interval.
type Tracker struct {
	mu      sync.RWMutex
	current map[int]entry
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{current: make(map[int]entry)}
}

// Current returns the value currently in effect for quark and the
// timestamp it took effect, or ok=false if quark has never been set.
func (t *Tracker) Current(quark int) (htvalue.Value, int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.current[quark]
	if !ok {
		return htvalue.Value{}, 0, false
	}
	return e.value, e.since, true
}

// Update records that quark took on value at time since, returning the
// previous value and its since-timestamp (if any) so the caller can close
// an interval ending just before since.
func (t *Tracker) Update(quark int, value htvalue.Value, since int64) (prevValue htvalue.Value, prevSince int64, hadPrevious bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.current[quark]
	t.current[quark] = entry{value: value, since: since}
	if !ok {
		return htvalue.Value{}, 0, false
	}
	return prev.value, prev.since, true
}

// Clear removes quark's ongoing state, used once its interval has been
// closed and flushed and no further updates are expected before the build
// finishes.
func (t *Tracker) Clear(quark int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.current, quark)
}

// Quarks returns every quark currently tracked, in no particular order, so
// a caller can flush every still-open interval at the end of a build.
func (t *Tracker) Quarks() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, 0, len(t.current))
	for q := range t.current {
		out = append(out, q)
	}
	return out
}
