package bus

import "time"

// MetricsRecorder defines metrics hooks for bus operations. The bus ships
// with a no-op recorder; the metrics package provides a Prometheus-backed
// implementation.
type MetricsRecorder interface {
	RecordPublishAccepted(channel string, signalType string)
	RecordPublishRejected(channel string, signalType string, reason string)
	RecordDelivery(channel string, consumer string, outcome string, duration time.Duration)
	RecordBreakerTransition(channel string, consumer string, from string, to string)
	SetBreakerState(channel string, consumer string, state string)
	RecordDeadLetter(channel string, reason string)
	SetQueueDepth(channel string, depth int)
}

type nopMetrics struct{}

func (nopMetrics) RecordPublishAccepted(channel string, signalType string)                  {}
func (nopMetrics) RecordPublishRejected(channel string, signalType string, reason string)   {}
func (nopMetrics) RecordDelivery(channel, consumer, outcome string, duration time.Duration) {}
func (nopMetrics) RecordBreakerTransition(channel, consumer, from, to string)               {}
func (nopMetrics) SetBreakerState(channel, consumer, state string)                          {}
func (nopMetrics) RecordDeadLetter(channel string, reason string)                           {}
func (nopMetrics) SetQueueDepth(channel string, depth int)                                  {}

// EventSink receives bus lifecycle events for external observers (the admin
// websocket feed). Implementations must not block.
type EventSink interface {
	BusEvent(eventType string, payload map[string]any)
}

type nopEvents struct{}

func (nopEvents) BusEvent(eventType string, payload map[string]any) {}

// Event types emitted through the EventSink.
const (
	EventPublishAccepted   = "bus.publish_accepted"
	EventPublishRejected   = "bus.publish_rejected"
	EventDelivered         = "bus.delivered"
	EventDeliveryFailed    = "bus.delivery_failed"
	EventBreakerTransition = "bus.breaker_transition"
	EventDeadLettered      = "bus.dead_lettered"
	EventReplayed          = "bus.replayed"
)
