package bus

import (
	"sync"
	"time"
)

// BreakerState is the state of a per-(channel, consumer) circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows deliveries. Initial state for every pair.
	BreakerClosed BreakerState = iota
	// BreakerOpen blocks deliveries until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen allows exactly one probe delivery.
	BreakerHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
}

// Breaker is the failure-tracking state machine for one (channel, consumer)
// pair. It is created lazily on the first delivery attempt and never shared
// across pairs. All mutation happens on the delivery path for that pair.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	failureThreshold    int
	openedAt            time.Time
	cooldown            time.Duration
	probeInFlight       bool

	totalSuccesses int64
	totalFailures  int64
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
	}
}

// Allow reports whether a delivery attempt may proceed now. An open breaker
// whose cooldown has elapsed transitions to half-open and admits the caller
// as the single probe. While a probe is in flight no other attempt is
// admitted; callers defer (requeue) the delivery instead of dropping it.
// The second return value is the remaining wait when the attempt is denied.
func (b *Breaker) Allow(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, 0
	case BreakerOpen:
		remaining := b.cooldown - now.Sub(b.openedAt)
		if remaining > 0 {
			return false, remaining
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return true, 0
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false, b.cooldown
		}
		b.probeInFlight = true
		return true, 0
	}
	return false, b.cooldown
}

// RecordSuccess records a successful delivery. A half-open probe success
// closes the breaker and resets the consecutive failure count. Returns the
// states before and after.
func (b *Breaker) RecordSuccess() (from, to BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	b.totalSuccesses++
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.state = BreakerClosed
	return from, b.state
}

// RecordFailure records a failed delivery. Reaching the failure threshold
// opens the breaker; a half-open probe failure reopens it and restarts the
// cooldown. Returns the states before and after.
func (b *Breaker) RecordFailure(now time.Time) (from, to BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	b.totalFailures++
	b.consecutiveFailures++
	b.probeInFlight = false

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = now
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	}
	return from, b.state
}

// State returns the current state, applying the open-to-half-open
// transition if the cooldown has elapsed. Unlike Allow it does not claim
// the probe slot, so it is safe for observers.
func (b *Breaker) State(now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && now.Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Counters returns the lifetime success and failure totals.
func (b *Breaker) Counters() (successes, failures int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSuccesses, b.totalFailures
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
