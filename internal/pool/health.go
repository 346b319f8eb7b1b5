package pool

import (
	"sync"
	"time"
)

// healthRecord tracks consecutive outcomes for one account. Records are
// created lazily and pruned once stale; they are a pool-local view, never
// persisted.
type healthRecord struct {
	consecutiveFailures  int
	consecutiveSuccesses int
	lastCheckTime        time.Time
	tripped              bool
}

// HealthTracker keeps per-account failure/success counters. Updates are
// atomic per account under a single short-held lock; no I/O happens inside.
type HealthTracker struct {
	mu      sync.Mutex
	records map[string]*healthRecord

	// disableAfter is the consecutive-failure count beyond which the pool
	// disables the account. unhealthyAfter is the lower bar at which
	// selection starts skipping it.
	disableAfter   int
	unhealthyAfter int
}

// NewHealthTracker creates a tracker with the given thresholds.
func NewHealthTracker(disableAfter, unhealthyAfter int) *HealthTracker {
	return &HealthTracker{
		records:        make(map[string]*healthRecord),
		disableAfter:   disableAfter,
		unhealthyAfter: unhealthyAfter,
	}
}

func (t *HealthTracker) record(id string) *healthRecord {
	rec, ok := t.records[id]
	if !ok {
		rec = &healthRecord{}
		t.records[id] = rec
	}
	return rec
}

// RecordSuccess resets the failure streak and re-arms the disable latch.
func (t *HealthTracker) RecordSuccess(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(id)
	rec.consecutiveFailures = 0
	rec.consecutiveSuccesses++
	rec.lastCheckTime = time.Now()
	rec.tripped = false
}

// RecordFailure bumps the failure streak. It returns true exactly once when
// the streak crosses the disable threshold; the latch stays set until a
// success or Reset so the account is not disabled repeatedly.
func (t *HealthTracker) RecordFailure(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(id)
	rec.consecutiveFailures++
	rec.consecutiveSuccesses = 0
	rec.lastCheckTime = time.Now()

	if rec.consecutiveFailures > t.disableAfter && !rec.tripped {
		rec.tripped = true
		return true
	}
	return false
}

// Healthy reports whether selection should still consider the account.
// Missing records count as healthy.
func (t *HealthTracker) Healthy(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return true
	}
	return rec.consecutiveFailures < t.unhealthyAfter
}

// LastCheck returns the time of the last recorded outcome for the account.
func (t *HealthTracker) LastCheck(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return time.Time{}, false
	}
	return rec.lastCheckTime, true
}

// Reset drops the record for an account, e.g. after recovery.
func (t *HealthTracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// Prune removes records untouched for longer than staleAfter and returns
// how many were dropped.
func (t *HealthTracker) Prune(staleAfter time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	pruned := 0
	for id, rec := range t.records {
		if rec.lastCheckTime.Before(cutoff) {
			delete(t.records, id)
			pruned++
		}
	}
	return pruned
}
