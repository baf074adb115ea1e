package signal

// ReasonCode classifies why a signal was rejected, displaced, or failed
// delivery. Codes are a closed enum; every dead-letter entry carries one.
type ReasonCode string

const (
	// ReasonScopeDenied: the publisher contract is missing, not ACTIVE, or
	// does not cover the signal's type or channel.
	ReasonScopeDenied ReasonCode = "GATE_SCOPE_DENIED"

	// ReasonValueBelowThreshold: the signal's confidence is below the
	// configured minimum for its type.
	ReasonValueBelowThreshold ReasonCode = "GATE_VALUE_BELOW_THRESHOLD"

	// ReasonCapabilityMismatch: no capability-compatible consumer exists on
	// the target channel and the channel is configured to treat that as a
	// rejection.
	ReasonCapabilityMismatch ReasonCode = "GATE_CAPABILITY_MISMATCH"

	// ReasonChannelBackpressure: the target channel is at or above its
	// backpressure threshold, or the signal was displaced by a high-priority
	// enqueue.
	ReasonChannelBackpressure ReasonCode = "GATE_CHANNEL_BACKPRESSURE"

	// ReasonDeliveryFailed: a consumer handler failed past the retry budget.
	ReasonDeliveryFailed ReasonCode = "CONSUMER_DELIVERY_FAILED"

	// ReasonCircuitOpen: delivery was skipped because the consumer's breaker
	// was open for longer than the signal could be retained.
	ReasonCircuitOpen ReasonCode = "CIRCUIT_OPEN"
)

// Valid reports whether the reason code is one of the closed enum values.
func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonScopeDenied, ReasonValueBelowThreshold, ReasonCapabilityMismatch,
		ReasonChannelBackpressure, ReasonDeliveryFailed, ReasonCircuitOpen:
		return true
	}
	return false
}
