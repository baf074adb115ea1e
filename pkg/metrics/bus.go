package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// breakerStateValues maps breaker state names to gauge values.
var breakerStateValues = map[string]float64{
	"closed":    0,
	"open":      1,
	"half_open": 2,
}

// initBusMetrics initializes signal bus metrics.
func (m *Manager) initBusMetrics(cfg Config) {
	m.publishAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_accepted_total",
			Help: "Total number of signals admitted through the gate pipeline",
		},
		[]string{"channel", "type"},
	)

	m.publishRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_rejected_total",
			Help: "Total number of signals rejected by an admission gate",
		},
		[]string{"channel", "type", "reason"},
	)

	m.deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_deliveries_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"channel", "consumer", "outcome"},
	)

	m.deliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_delivery_duration_seconds",
			Help:    "Consumer handler invocation duration in seconds",
			Buckets: cfg.DeliveryDurationBuckets,
		},
		[]string{"channel", "consumer"},
	)

	m.breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"channel", "consumer", "from", "to"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bus_breaker_state",
			Help: "Circuit breaker state per (channel, consumer): 0=closed, 1=open, 2=half_open",
		},
		[]string{"channel", "consumer"},
	)

	m.deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_dead_letters_total",
			Help: "Total number of signals routed to the dead letter store",
		},
		[]string{"channel", "reason"},
	)

	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bus_channel_queue_depth",
			Help: "Current number of queued signals per channel",
		},
		[]string{"channel"},
	)

	m.registry.MustRegister(m.publishAccepted)
	m.registry.MustRegister(m.publishRejected)
	m.registry.MustRegister(m.deliveries)
	m.registry.MustRegister(m.deliveryDuration)
	m.registry.MustRegister(m.breakerTransitions)
	m.registry.MustRegister(m.breakerState)
	m.registry.MustRegister(m.deadLetters)
	m.registry.MustRegister(m.queueDepth)
}

// RecordPublishAccepted records a signal admitted through all gates.
func (m *Manager) RecordPublishAccepted(channel, signalType string) {
	if !m.enabled {
		return
	}
	m.publishAccepted.WithLabelValues(channel, signalType).Inc()
}

// RecordPublishRejected records a gate rejection.
func (m *Manager) RecordPublishRejected(channel, signalType, reason string) {
	if !m.enabled {
		return
	}
	m.publishRejected.WithLabelValues(channel, signalType, reason).Inc()
}

// RecordDelivery records a delivery attempt and its duration.
func (m *Manager) RecordDelivery(channel, consumer, outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.deliveries.WithLabelValues(channel, consumer, outcome).Inc()
	m.deliveryDuration.WithLabelValues(channel, consumer).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state transition.
func (m *Manager) RecordBreakerTransition(channel, consumer, from, to string) {
	if !m.enabled {
		return
	}
	m.breakerTransitions.WithLabelValues(channel, consumer, from, to).Inc()
}

// SetBreakerState sets the breaker state gauge for a (channel, consumer) pair.
func (m *Manager) SetBreakerState(channel, consumer, state string) {
	if !m.enabled {
		return
	}
	m.breakerState.WithLabelValues(channel, consumer).Set(breakerStateValues[state])
}

// RecordDeadLetter records a signal routed to the dead letter store.
func (m *Manager) RecordDeadLetter(channel, reason string) {
	if !m.enabled {
		return
	}
	m.deadLetters.WithLabelValues(channel, reason).Inc()
}

// SetQueueDepth sets the queue depth gauge for a channel.
func (m *Manager) SetQueueDepth(channel string, depth int) {
	if !m.enabled {
		return
	}
	m.queueDepth.WithLabelValues(channel).Set(float64(depth))
}
