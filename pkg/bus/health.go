package bus

import (
	"sort"
	"sync"
	"time"
)

// ConsumerHealth is a snapshot of one consumer's delivery history.
type ConsumerHealth struct {
	ConsumerID     string            `json:"consumer_id"`
	TotalSuccesses int64             `json:"total_successes"`
	TotalFailures  int64             `json:"total_failures"`
	LastDeliveryAt time.Time         `json:"last_delivery_at"`
	BreakerStates  map[string]string `json:"breaker_states"`
}

// HealthMonitor tracks per-consumer delivery outcomes and breaker states.
// It is written only by the dispatch path and read-only to every other
// component.
type HealthMonitor struct {
	mu        sync.RWMutex
	consumers map[string]*consumerRecord
}

type consumerRecord struct {
	totalSuccesses int64
	totalFailures  int64
	lastDeliveryAt time.Time
	breakerStates  map[string]string
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{consumers: make(map[string]*consumerRecord)}
}

func (m *HealthMonitor) record(consumerID string) *consumerRecord {
	rec, ok := m.consumers[consumerID]
	if !ok {
		rec = &consumerRecord{breakerStates: make(map[string]string)}
		m.consumers[consumerID] = rec
	}
	return rec
}

// RecordSuccess records a successful delivery to a consumer.
func (m *HealthMonitor) RecordSuccess(consumerID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.record(consumerID)
	rec.totalSuccesses++
	rec.lastDeliveryAt = at
}

// RecordFailure records a failed delivery attempt to a consumer.
func (m *HealthMonitor) RecordFailure(consumerID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.record(consumerID)
	rec.totalFailures++
	rec.lastDeliveryAt = at
}

// SetBreakerState records the breaker state for a (channel, consumer) pair.
func (m *HealthMonitor) SetBreakerState(consumerID, channel string, state BreakerState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.record(consumerID)
	rec.breakerStates[channel] = state.String()
}

// Forget removes a consumer's record after unsubscription.
func (m *HealthMonitor) Forget(consumerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consumers, consumerID)
}

// Snapshot returns a copy of all consumer health records, sorted by id.
func (m *HealthMonitor) Snapshot() []ConsumerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConsumerHealth, 0, len(m.consumers))
	for id, rec := range m.consumers {
		states := make(map[string]string, len(rec.breakerStates))
		for ch, st := range rec.breakerStates {
			states[ch] = st
		}
		out = append(out, ConsumerHealth{
			ConsumerID:     id,
			TotalSuccesses: rec.totalSuccesses,
			TotalFailures:  rec.totalFailures,
			LastDeliveryAt: rec.lastDeliveryAt,
			BreakerStates:  states,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConsumerID < out[j].ConsumerID })
	return out
}

// Consumer returns the health record for one consumer.
func (m *HealthMonitor) Consumer(consumerID string) (ConsumerHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.consumers[consumerID]
	if !ok {
		return ConsumerHealth{}, false
	}
	states := make(map[string]string, len(rec.breakerStates))
	for ch, st := range rec.breakerStates {
		states[ch] = st
	}
	return ConsumerHealth{
		ConsumerID:     consumerID,
		TotalSuccesses: rec.totalSuccesses,
		TotalFailures:  rec.totalFailures,
		LastDeliveryAt: rec.lastDeliveryAt,
		BreakerStates:  states,
	}, true
}
