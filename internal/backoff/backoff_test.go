package backoff

import (
	"testing"
	"time"
)

const origin = "https://portal.example.net:8080"

// =============================================================================
// Escalation Tests
// =============================================================================

func TestRegistry_RecordFailure_Doubling(t *testing.T) {
	r := NewRegistry()

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}

	for i, w := range want {
		if got := r.RecordFailure(origin); got != w {
			t.Errorf("failure %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestRegistry_RecordFailure_SteadyCollapse(t *testing.T) {
	r := NewRegistry()

	// Six consecutive failures collapse to the steady 5s poll regardless of
	// the exponential value reached before.
	var got time.Duration
	for i := 0; i < SteadyThreshold; i++ {
		got = r.RecordFailure(origin)
	}

	if got != SteadyDelay {
		t.Errorf("delay after %d failures = %v, want %v", SteadyThreshold, got, SteadyDelay)
	}

	// Further failures stay steady.
	if got = r.RecordFailure(origin); got != SteadyDelay {
		t.Errorf("delay after %d failures = %v, want %v", SteadyThreshold+1, got, SteadyDelay)
	}
}

func TestRegistry_RecordFailure_MonotonicUntilSteady(t *testing.T) {
	r := NewRegistry()

	prev := time.Duration(0)
	for i := 1; i < SteadyThreshold; i++ {
		got := r.RecordFailure(origin)
		if got < prev {
			t.Errorf("failure %d: delay %v decreased below %v before steady state", i, got, prev)
		}
		if got > SecondCeiling {
			t.Errorf("failure %d: delay %v exceeds ceiling %v", i, got, SecondCeiling)
		}
		prev = got
	}
}

func TestRegistry_RecordSuccess_Resets(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 4; i++ {
		r.RecordFailure(origin)
	}

	r.RecordSuccess(origin)

	if d := r.Delay(origin); d != 0 {
		t.Errorf("Delay after success = %v, want 0", d)
	}
	if n := r.FailedAttempts(origin); n != 0 {
		t.Errorf("FailedAttempts after success = %d, want 0", n)
	}

	// Escalation restarts from the beginning.
	if got := r.RecordFailure(origin); got != InitialDelay {
		t.Errorf("first failure after reset = %v, want %v", got, InitialDelay)
	}
}

// =============================================================================
// Keepalive Override Tests
// =============================================================================

func TestRegistry_RecordKeepalive(t *testing.T) {
	r := NewRegistry()

	r.RecordFailure(origin)
	r.RecordFailure(origin)
	before := r.FailedAttempts(origin)

	if got := r.RecordKeepalive(origin); got != KeepaliveDelay {
		t.Errorf("keepalive delay = %v, want %v", got, KeepaliveDelay)
	}

	if after := r.FailedAttempts(origin); after != before {
		t.Errorf("FailedAttempts changed %d -> %d on keepalive, want unchanged", before, after)
	}
	if d := r.Delay(origin); d != KeepaliveDelay {
		t.Errorf("Delay = %v, want %v", d, KeepaliveDelay)
	}
}

// =============================================================================
// In-Flight Guard Tests
// =============================================================================

func TestRegistry_TryAcquire_Exclusive(t *testing.T) {
	r := NewRegistry()

	if !r.TryAcquire(origin) {
		t.Fatal("first TryAcquire should succeed")
	}
	if r.TryAcquire(origin) {
		t.Error("second TryAcquire while in-flight should fail")
	}

	r.Release(origin)

	if !r.TryAcquire(origin) {
		t.Error("TryAcquire after Release should succeed")
	}
}

func TestRegistry_ForceAcquire_Overlaps(t *testing.T) {
	r := NewRegistry()

	if !r.TryAcquire(origin) {
		t.Fatal("TryAcquire should succeed")
	}

	// A forced attempt proceeds alongside the background one.
	r.ForceAcquire(origin)

	// Releasing the forced hold must not clear the background hold.
	r.Release(origin)
	if !r.InFlight(origin) {
		t.Error("origin should remain in-flight while background hold exists")
	}

	r.Release(origin)
	if r.InFlight(origin) {
		t.Error("origin should be idle after both holds released")
	}
}

func TestRegistry_IndependentOrigins(t *testing.T) {
	r := NewRegistry()
	other := "https://other.example.net"

	r.RecordFailure(origin)
	r.RecordFailure(origin)

	if d := r.Delay(other); d != 0 {
		t.Errorf("Delay(%s) = %v, want 0 for untouched origin", other, d)
	}
	if !r.TryAcquire(other) {
		t.Error("TryAcquire on independent origin should succeed")
	}
}

func TestRegistry_SuccessNotificationTimestamp(t *testing.T) {
	r := NewRegistry()

	if !r.LastSuccessNotified(origin).IsZero() {
		t.Error("fresh origin should have zero notification timestamp")
	}

	at := time.Now()
	r.MarkSuccessNotified(origin, at)

	if got := r.LastSuccessNotified(origin); !got.Equal(at) {
		t.Errorf("LastSuccessNotified = %v, want %v", got, at)
	}
}
