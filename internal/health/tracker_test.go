package health

import (
	"testing"
	"time"
)

// fakeClock is a settable time source for cooldown tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	tr := New(3, 5*time.Minute)
	tr.SetClock(clock.now)
	return tr, clock
}

func TestCanSpawn_UnknownAgent(t *testing.T) {
	tr, _ := testTracker(t)
	if !tr.CanSpawn("never-seen") {
		t.Error("unknown agent should be spawnable")
	}
}

func TestCooldown_AfterConsecutiveFailures(t *testing.T) {
	tr, clock := testTracker(t)

	tr.RecordFailure("claude")
	tr.RecordFailure("claude")
	if !tr.CanSpawn("claude") {
		t.Fatal("two failures should not trigger cooldown yet")
	}

	tr.RecordFailure("claude")
	if tr.CanSpawn("claude") {
		t.Fatal("third consecutive failure should trigger cooldown")
	}
	if got := tr.Get("claude").Status; got != Cooldown {
		t.Errorf("status: got %s, want cooldown", got)
	}

	// The window expires on its own.
	clock.advance(5*time.Minute + time.Second)
	if !tr.CanSpawn("claude") {
		t.Error("cooldown should have expired")
	}
}

func TestSuccess_ResetsStreakAndCooldown(t *testing.T) {
	tr, _ := testTracker(t)

	tr.RecordFailure("claude")
	tr.RecordFailure("claude")
	tr.RecordFailure("claude")
	if tr.CanSpawn("claude") {
		t.Fatal("expected cooldown")
	}

	tr.RecordSuccess("claude")
	if !tr.CanSpawn("claude") {
		t.Error("success should clear the cooldown")
	}
	h := tr.Get("claude")
	if h.ConsecutiveFailures != 0 {
		t.Errorf("streak not reset: %d", h.ConsecutiveFailures)
	}
	if h.Status != Healthy {
		t.Errorf("status: got %s, want healthy", h.Status)
	}
}

func TestStatus_Degraded(t *testing.T) {
	tr, _ := testTracker(t)

	tr.RecordSpawn("claude")
	tr.RecordFailure("claude")
	h := tr.Get("claude")
	if h.Status != Degraded {
		t.Errorf("one failure should be degraded, got %s", h.Status)
	}
	if h.LastFailureAt == nil {
		t.Error("last failure time not recorded")
	}
}

func TestCounters_TrackPerAgent(t *testing.T) {
	tr, _ := testTracker(t)

	tr.RecordSpawn("a")
	tr.RecordSpawn("a")
	tr.RecordSuccess("a")
	tr.RecordSpawn("b")
	tr.RecordFailure("b")

	a := tr.Get("a")
	if a.Spawns != 2 || a.Successes != 1 || a.Failures != 0 {
		t.Errorf("agent a counters: %+v", a)
	}
	b := tr.Get("b")
	if b.Spawns != 1 || b.Failures != 1 {
		t.Errorf("agent b counters: %+v", b)
	}
	if len(tr.All()) != 2 {
		t.Errorf("All: got %d agents", len(tr.All()))
	}
}
