package pool

import (
	"testing"
	"time"
)

func TestHealthyUntilThreshold(t *testing.T) {
	tracker := NewHealthTracker(5, 3)

	if !tracker.Healthy("a") {
		t.Fatal("unknown account must be healthy")
	}

	tracker.RecordFailure("a")
	tracker.RecordFailure("a")
	if !tracker.Healthy("a") {
		t.Error("2 failures should still be healthy with bar 3")
	}

	tracker.RecordFailure("a")
	if tracker.Healthy("a") {
		t.Error("3 failures should be unhealthy with bar 3")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	tracker := NewHealthTracker(5, 3)

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("a")
	}
	if tracker.Healthy("a") {
		t.Fatal("expected unhealthy after 4 failures")
	}

	tracker.RecordSuccess("a")
	if !tracker.Healthy("a") {
		t.Error("success must reset the streak")
	}
}

func TestDisableLatchTripsExactlyOnce(t *testing.T) {
	tracker := NewHealthTracker(5, 3)

	tripped := 0
	for i := 0; i < 10; i++ {
		if tracker.RecordFailure("a") {
			tripped++
		}
	}
	if tripped != 1 {
		t.Fatalf("latch tripped %d times, want 1", tripped)
	}

	// A success re-arms the latch for the next streak.
	tracker.RecordSuccess("a")
	for i := 0; i < 10; i++ {
		if tracker.RecordFailure("a") {
			tripped++
		}
	}
	if tripped != 2 {
		t.Fatalf("latch tripped %d times after re-arm, want 2", tripped)
	}
}

func TestFailuresIsolatedPerAccount(t *testing.T) {
	tracker := NewHealthTracker(5, 3)

	for i := 0; i < 3; i++ {
		tracker.RecordFailure("a")
	}
	if tracker.Healthy("a") {
		t.Error("a should be unhealthy")
	}
	if !tracker.Healthy("b") {
		t.Error("b must be unaffected by a's failures")
	}
}

func TestResetDropsRecord(t *testing.T) {
	tracker := NewHealthTracker(5, 3)

	for i := 0; i < 6; i++ {
		tracker.RecordFailure("a")
	}
	tracker.Reset("a")
	if !tracker.Healthy("a") {
		t.Error("reset account must be healthy again")
	}
	if _, ok := tracker.LastCheck("a"); ok {
		t.Error("reset must drop the record entirely")
	}
}

func TestPruneRemovesStaleRecordsOnly(t *testing.T) {
	tracker := NewHealthTracker(5, 3)

	tracker.RecordFailure("stale")
	tracker.records["stale"].lastCheckTime = time.Now().Add(-time.Hour)
	tracker.RecordFailure("fresh")

	if pruned := tracker.Prune(10 * time.Minute); pruned != 1 {
		t.Fatalf("pruned %d records, want 1", pruned)
	}
	if _, ok := tracker.LastCheck("stale"); ok {
		t.Error("stale record should be gone")
	}
	if _, ok := tracker.LastCheck("fresh"); !ok {
		t.Error("fresh record should survive")
	}
}
