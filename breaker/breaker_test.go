package breaker

import (
	"testing"
	"time"
)

// fakeClock returns a controllable clock starting at a fixed instant.
func fakeClock() (*time.Time, func() time.Time) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := &t0
	return now, func() time.Time { return *now }
}

func TestThreshold(t *testing.T) {
	_, clock := fakeClock()
	b := New(WithThreshold(3), WithClock(clock))

	b.RecordFailure()
	b.RecordFailure()
	if b.IsOpen() {
		t.Fatal("breaker open before threshold")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker not open after 3 consecutive failures")
	}

	// A fourth failure leaves it open.
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker closed after fourth failure")
	}
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b := New(WithThreshold(3))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	// The count is consecutive: two failures, a success, then one failure
	// must not trip a threshold of 3.
	b.RecordFailure()
	if b.State() == Open {
		t.Fatal("breaker opened below threshold")
	}
}

func TestCooldownAndHalfOpen(t *testing.T) {
	now, clock := fakeClock()
	b := New(WithThreshold(1), WithCooldown(30*time.Second), WithClock(clock))

	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(29 * time.Second)
	if !b.IsOpen() {
		t.Fatal("breaker should still be open at t+29s")
	}

	*now = now.Add(2 * time.Second)
	if b.IsOpen() {
		t.Fatal("breaker should allow a probe at t+31s")
	}
	if got := b.State(); got != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", got)
	}
	// The probe slot stays available until an outcome is recorded.
	if b.IsOpen() {
		t.Fatal("half-open breaker rejected the probe")
	}

	b.RecordSuccess()
	if got := b.State(); got != Closed {
		t.Fatalf("state after probe success = %v, want Closed", got)
	}
	if b.IsOpen() {
		t.Fatal("breaker open after successful probe")
	}
	b.RecordFailure()
	if b.State() == Open {
		t.Fatal("failure count not reset by probe success")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	now, clock := fakeClock()
	b := New(WithThreshold(2), WithCooldown(10*time.Second), WithClock(clock))

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(11 * time.Second)
	if b.IsOpen() {
		t.Fatal("probe not allowed after cooldown")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("failed probe should re-open the breaker")
	}
	// Cooldown restarts from the probe failure.
	*now = now.Add(9 * time.Second)
	if !b.IsOpen() {
		t.Fatal("cooldown not refreshed by failed probe")
	}
}

func TestRemaining(t *testing.T) {
	now, clock := fakeClock()
	b := New(WithThreshold(1), WithCooldown(30*time.Second), WithClock(clock))

	if b.Remaining() != 0 {
		t.Fatal("closed breaker should report zero remaining")
	}
	b.RecordFailure()
	*now = now.Add(10 * time.Second)
	if got := b.Remaining(); got != 20*time.Second {
		t.Fatalf("remaining = %v, want 20s", got)
	}
}

func TestSnapshot(t *testing.T) {
	b := New(WithThreshold(5))
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()

	s := b.Snapshot()
	if s.Attempts != 4 || s.Successes != 3 {
		t.Fatalf("attempts=%d successes=%d, want 4/3", s.Attempts, s.Successes)
	}
	if s.SuccessRate != 0.75 {
		t.Fatalf("success rate = %v, want 0.75", s.SuccessRate)
	}
	if s.State != "closed" {
		t.Fatalf("state = %q, want closed", s.State)
	}
}
