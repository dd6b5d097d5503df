package alerting

import (
	"sync"
	"time"
)

// actorHistory tracks recent event timestamps for one actor so threshold
// rules can count events and flagged events within their windows.
type actorHistory struct {
	events  []time.Time
	flagged []time.Time
}

// history tracks per-actor event timelines, bounded by the longest window
// any threshold rule can configure.
type history struct {
	mu        sync.Mutex
	actors    map[string]*actorHistory
	retention time.Duration
}

func newHistory(retention time.Duration) *history {
	return &history{
		actors:    make(map[string]*actorHistory),
		retention: retention,
	}
}

// record appends one event for the actor and prunes entries older than the
// retention bound.
func (h *history) record(actorKey string, at time.Time, isFlagged bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.actors[actorKey]
	if a == nil {
		a = &actorHistory{}
		h.actors[actorKey] = a
	}

	a.events = append(a.events, at)
	if isFlagged {
		a.flagged = append(a.flagged, at)
	}

	cutoff := at.Add(-h.retention)
	a.events = pruneBefore(a.events, cutoff)
	a.flagged = pruneBefore(a.flagged, cutoff)
}

// countEvents returns the number of events for the actor within the window
// ending at now.
func (h *history) countEvents(actorKey string, window time.Duration, now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.actors[actorKey]
	if a == nil {
		return 0
	}
	return countSince(a.events, now.Add(-window))
}

// countFlagged returns the number of flagged events for the actor within the
// window ending at now.
func (h *history) countFlagged(actorKey string, window time.Duration, now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.actors[actorKey]
	if a == nil {
		return 0
	}
	return countSince(a.flagged, now.Add(-window))
}

// sweep drops actors with no events inside the retention bound.
func (h *history) sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-h.retention)
	removed := 0
	for key, a := range h.actors {
		a.events = pruneBefore(a.events, cutoff)
		a.flagged = pruneBefore(a.flagged, cutoff)
		if len(a.events) == 0 {
			delete(h.actors, key)
			removed++
		}
	}
	return removed
}

// pruneBefore drops timestamps strictly before cutoff. Timestamps arrive in
// order, so this is a prefix cut.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// countSince counts timestamps at or after cutoff.
func countSince(ts []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
