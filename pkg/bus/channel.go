package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docsieve/docsieve/pkg/signal"
)

// NoConsumerPolicy controls what happens when a signal is admitted but no
// capability-compatible consumer is subscribed on its channel.
type NoConsumerPolicy string

const (
	// NoConsumerHistorize accepts the signal and retains it in the channel
	// history with a "no eligible consumer" flag. This preserves the
	// permissive behavior of treating absent subscribers as a non-error.
	NoConsumerHistorize NoConsumerPolicy = "historize"

	// NoConsumerDeadLetter rejects the signal with a capability mismatch.
	NoConsumerDeadLetter NoConsumerPolicy = "deadletter"
)

// ChannelConfig describes one named channel.
type ChannelConfig struct {
	// Name is the unique channel name.
	Name string

	// Capacity is the maximum number of queued signals.
	Capacity int

	// BackpressureThreshold is the utilization fraction (0.0-1.0] at which
	// non-high-priority enqueues are rejected.
	BackpressureThreshold float64

	// RetainHistory enables the bounded history ring.
	RetainHistory bool

	// HistorySize caps the history ring. Ignored unless RetainHistory.
	HistorySize int

	// HistoryMaxAge expires history entries by age. Zero disables age GC.
	HistoryMaxAge time.Duration

	// OnNoConsumer selects the policy when no eligible consumer exists.
	OnNoConsumer NoConsumerPolicy
}

// Validate validates the channel configuration.
func (c *ChannelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("channel %s capacity must be positive, got %d", c.Name, c.Capacity)
	}
	if c.BackpressureThreshold <= 0 || c.BackpressureThreshold > 1 {
		return fmt.Errorf("channel %s backpressure threshold must be in (0, 1], got %v", c.Name, c.BackpressureThreshold)
	}
	if c.RetainHistory && c.HistorySize <= 0 {
		return fmt.Errorf("channel %s history size must be positive when history is retained", c.Name)
	}
	switch c.OnNoConsumer {
	case "", NoConsumerHistorize, NoConsumerDeadLetter:
	default:
		return fmt.Errorf("channel %s has unknown no-consumer policy %q", c.Name, c.OnNoConsumer)
	}
	return nil
}

// HistoryEntry is one retained signal in a channel's history ring.
type HistoryEntry struct {
	Signal *signal.Signal `json:"signal"`

	// NoEligibleConsumer flags signals that were admitted while no
	// capability-compatible consumer was subscribed.
	NoEligibleConsumer bool `json:"no_eligible_consumer"`

	RetainedAt time.Time `json:"retained_at"`
}

// ChannelStats is a point-in-time snapshot of one channel.
type ChannelStats struct {
	Name           string  `json:"name"`
	QueueDepth     int     `json:"queue_depth"`
	Capacity       int     `json:"capacity"`
	Utilization    float64 `json:"utilization"`
	TotalPublished int64   `json:"total_published"`
	TotalDelivered int64   `json:"total_delivered"`
	TotalRejected  int64   `json:"total_rejected"`
	TotalDisplaced int64   `json:"total_displaced"`
	HistoryLen     int     `json:"history_len"`
}

// Channel owns one bounded, priority-ordered queue of signals. The queue is
// mutated only under the channel's own lock, by enqueue callers and by the
// channel's single dispatch loop; channels share no state with each other.
type Channel struct {
	config ChannelConfig

	mu       sync.Mutex
	queue    *signalQueue
	history  []HistoryEntry
	notEmpty chan struct{}
	closed   bool

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalRejected  atomic.Int64
	totalDisplaced atomic.Int64
}

// NewChannel creates a channel from a validated config.
func NewChannel(config ChannelConfig) (*Channel, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.OnNoConsumer == "" {
		config.OnNoConsumer = NoConsumerHistorize
	}
	return &Channel{
		config:   config,
		queue:    newSignalQueue(),
		notEmpty: make(chan struct{}, 1),
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.config.Name
}

// Config returns a copy of the channel configuration.
func (c *Channel) Config() ChannelConfig {
	return c.config
}

// Enqueue admits a signal to the queue, applying the channel gate: once
// utilization reaches the backpressure threshold, non-high-priority signals
// are rejected; high-priority signals may displace the oldest queued
// low-priority signal. The displaced signal, if any, is returned so the
// caller can dead-letter it.
func (c *Channel) Enqueue(sig *signal.Signal) (displaced *signal.Signal, err error) {
	if sig.Channel != c.config.Name {
		panic(fmt.Sprintf("bus: channel %s received signal for channel %s", c.config.Name, sig.Channel))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &BusClosedError{}
	}

	depth := c.queue.Len()
	saturated := float64(depth)/float64(c.config.Capacity) >= c.config.BackpressureThreshold

	if saturated {
		if sig.Priority != signal.PriorityHigh {
			c.totalRejected.Add(1)
			return nil, &BackpressureError{Channel: c.config.Name, Depth: depth, Capacity: c.config.Capacity}
		}
		displaced = c.queue.DisplaceOldestLow()
		if displaced == nil && depth >= c.config.Capacity {
			// Saturated with nothing displaceable and no free slot.
			c.totalRejected.Add(1)
			return nil, &BackpressureError{Channel: c.config.Name, Depth: depth, Capacity: c.config.Capacity}
		}
		if displaced != nil {
			c.totalDisplaced.Add(1)
		}
	}

	c.queue.Push(sig)
	c.totalPublished.Add(1)
	c.signalNotEmpty()
	return displaced, nil
}

// Next blocks until a signal is available or the channel is closed. It is
// called only by the channel's dispatch loop.
func (c *Channel) Next(stop <-chan struct{}) (*signal.Signal, bool) {
	for {
		c.mu.Lock()
		if sig := c.queue.Pop(); sig != nil {
			if c.queue.Len() > 0 {
				c.signalNotEmpty()
			}
			c.mu.Unlock()
			return sig, true
		}
		if c.closed {
			c.mu.Unlock()
			return nil, false
		}
		c.mu.Unlock()

		select {
		case <-c.notEmpty:
		case <-stop:
			return nil, false
		}
	}
}

// Historize retains a signal in the channel's bounded history ring,
// applying the size and age GC policy. noConsumer marks signals admitted
// with no eligible consumer.
func (c *Channel) Historize(sig *signal.Signal, noConsumer bool) {
	if !c.config.RetainHistory && !noConsumer {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.history = append(c.history, HistoryEntry{
		Signal:             sig,
		NoEligibleConsumer: noConsumer,
		RetainedAt:         now,
	})
	c.gcHistoryLocked(now)
}

// History returns a copy of the history ring, newest last.
func (c *Channel) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gcHistoryLocked(time.Now())
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Channel) gcHistoryLocked(now time.Time) {
	if c.config.HistoryMaxAge > 0 {
		cutoff := now.Add(-c.config.HistoryMaxAge)
		kept := c.history[:0]
		for _, e := range c.history {
			if e.RetainedAt.After(cutoff) {
				kept = append(kept, e)
			}
		}
		for i := len(kept); i < len(c.history); i++ {
			c.history[i] = HistoryEntry{}
		}
		c.history = kept
	}
	max := c.config.HistorySize
	if max > 0 && len(c.history) > max {
		c.history = append(c.history[:0], c.history[len(c.history)-max:]...)
	}
}

// NoteDelivered increments the delivered counter. Called by the dispatch
// path after a successful consumer delivery.
func (c *Channel) NoteDelivered() {
	c.totalDelivered.Add(1)
}

// NoteRejected increments the rejected counter for gate rejections that
// never reached the queue.
func (c *Channel) NoteRejected() {
	c.totalRejected.Add(1)
}

// Depth returns the current queue depth.
func (c *Channel) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Snapshot returns current channel statistics.
func (c *Channel) Snapshot() ChannelStats {
	c.mu.Lock()
	depth := c.queue.Len()
	historyLen := len(c.history)
	c.mu.Unlock()

	return ChannelStats{
		Name:           c.config.Name,
		QueueDepth:     depth,
		Capacity:       c.config.Capacity,
		Utilization:    float64(depth) / float64(c.config.Capacity),
		TotalPublished: c.totalPublished.Load(),
		TotalDelivered: c.totalDelivered.Load(),
		TotalRejected:  c.totalRejected.Load(),
		TotalDisplaced: c.totalDisplaced.Load(),
		HistoryLen:     historyLen,
	}
}

// Close marks the channel closed and wakes its dispatch loop. Queued
// signals are drained by the loop before it exits.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.signalNotEmpty()
}

func (c *Channel) signalNotEmpty() {
	select {
	case c.notEmpty <- struct{}{}:
	default:
	}
}
