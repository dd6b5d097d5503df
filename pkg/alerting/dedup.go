package alerting

import (
	"sync"
	"time"
)

// dedupKey identifies a (alert rule, actor) pairing.
type dedupKey struct {
	ruleID   string
	actorKey string
}

// dedupEntry tracks the most recent alert fired for a pairing.
type dedupEntry struct {
	alertID string
	firedAt time.Time
	status  Status
}

// dedupRegistry implements cool-down deduplication. tryFire is the one
// short-lived exclusive section in the scoring path: the check and the
// reservation happen under the same lock so two concurrent firings for the
// same pairing cannot both create an alert.
type dedupRegistry struct {
	mu       sync.Mutex
	entries  map[dedupKey]*dedupEntry
	byAlert  map[string]dedupKey
	cooldown time.Duration
}

func newDedupRegistry(cooldown time.Duration) *dedupRegistry {
	return &dedupRegistry{
		entries:  make(map[dedupKey]*dedupEntry),
		byAlert:  make(map[string]dedupKey),
		cooldown: cooldown,
	}
}

// tryFire reserves the pairing for a new alert. It returns false when an
// alert for the pairing is still new or acknowledged within the cool-down
// window.
func (r *dedupRegistry) tryFire(key dedupKey, alertID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		suppressing := e.status == StatusNew || e.status == StatusAcknowledged
		if suppressing && now.Sub(e.firedAt) < r.cooldown {
			return false
		}
		delete(r.byAlert, e.alertID)
	}

	r.entries[key] = &dedupEntry{alertID: alertID, firedAt: now, status: StatusNew}
	r.byAlert[alertID] = key
	return true
}

// setStatus updates the tracked status of an alert, if it is still tracked.
// Resolving releases the pairing for immediate re-firing.
func (r *dedupRegistry) setStatus(alertID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byAlert[alertID]
	if !ok {
		return
	}
	if e, ok := r.entries[key]; ok && e.alertID == alertID {
		e.status = status
	}
}

// prune drops entries whose cool-down expired and that no longer suppress.
func (r *dedupRegistry) prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, e := range r.entries {
		if now.Sub(e.firedAt) >= r.cooldown {
			delete(r.entries, key)
			delete(r.byAlert, e.alertID)
			removed++
		}
	}
	return removed
}

// size returns the number of tracked pairings.
func (r *dedupRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
