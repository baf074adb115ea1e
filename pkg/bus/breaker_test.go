package bus

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Second})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if from, to := b.RecordFailure(now); from != BreakerClosed || to != BreakerClosed {
			t.Fatalf("failure %d: %v -> %v, want closed -> closed", i+1, from, to)
		}
	}
	from, to := b.RecordFailure(now)
	if from != BreakerClosed || to != BreakerOpen {
		t.Fatalf("third failure: %v -> %v, want closed -> open", from, to)
	}

	if allowed, _ := b.Allow(now); allowed {
		t.Error("open breaker must deny deliveries before cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Second})
	now := time.Now()

	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordSuccess()

	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", got)
	}

	b.RecordFailure(now)
	b.RecordFailure(now)
	if b.State(now) != BreakerClosed {
		t.Error("two failures after reset must not open the breaker")
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 100 * time.Millisecond})
	now := time.Now()

	b.RecordFailure(now)
	if b.State(now) != BreakerOpen {
		t.Fatal("breaker should be open")
	}

	after := now.Add(150 * time.Millisecond)
	if b.State(after) != BreakerHalfOpen {
		t.Fatal("elapsed cooldown should report half-open")
	}

	allowed, _ := b.Allow(after)
	if !allowed {
		t.Fatal("first caller after cooldown should be admitted as the probe")
	}
	if allowed, _ := b.Allow(after); allowed {
		t.Fatal("second caller must be denied while the probe is in flight")
	}
}

func TestBreakerProbeOutcomes(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 50 * time.Millisecond})
	now := time.Now()

	b.RecordFailure(now)
	after := now.Add(60 * time.Millisecond)
	if allowed, _ := b.Allow(after); !allowed {
		t.Fatal("probe should be admitted")
	}
	from, to := b.RecordFailure(after)
	if from != BreakerHalfOpen || to != BreakerOpen {
		t.Fatalf("probe failure: %v -> %v, want half_open -> open", from, to)
	}

	// Cooldown restarts from the probe failure.
	if allowed, _ := b.Allow(after.Add(10 * time.Millisecond)); allowed {
		t.Error("reopened breaker must deny before the new cooldown elapses")
	}

	after2 := after.Add(60 * time.Millisecond)
	if allowed, _ := b.Allow(after2); !allowed {
		t.Fatal("second probe should be admitted after the restarted cooldown")
	}
	from, to = b.RecordSuccess()
	if from != BreakerHalfOpen || to != BreakerClosed {
		t.Fatalf("probe success: %v -> %v, want half_open -> closed", from, to)
	}
	if allowed, _ := b.Allow(after2); !allowed {
		t.Error("closed breaker should allow deliveries")
	}
}

func TestBreakerCounters(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 5, Cooldown: time.Second})
	now := time.Now()

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure(now)

	succ, fail := b.Counters()
	if succ != 2 || fail != 1 {
		t.Errorf("Counters = %d/%d, want 2/1", succ, fail)
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half_open",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
