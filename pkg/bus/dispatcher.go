package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docsieve/docsieve/pkg/deadletter"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Consumer is the delivery callback contract. The handler reports success
// or failure through its error return, which feeds the pair's circuit
// breaker and the health monitor. Handlers must honor ctx: a cancelled
// delivery counts as a failure.
type Consumer interface {
	Deliver(ctx context.Context, sig *signal.Signal) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, sig *signal.Signal) error

// Deliver implements Consumer.
func (f ConsumerFunc) Deliver(ctx context.Context, sig *signal.Signal) error {
	return f(ctx, sig)
}

// DispatcherConfig tunes the shared delivery pool and retry policy.
type DispatcherConfig struct {
	// Workers is the size of the delivery worker pool shared across all
	// channels.
	Workers int

	// MaxAttempts is the delivery attempt budget per signal per consumer
	// before dead-lettering.
	MaxAttempts int

	// RetryDelay is the pause between attempts for the same signal.
	RetryDelay time.Duration

	// DeliveryTimeout bounds one handler invocation. Zero disables the
	// timeout.
	DeliveryTimeout time.Duration

	// MaxPendingPerConsumer caps the per-(channel, consumer) mailbox. When
	// the cap is reached the oldest pending delivery is dead-lettered.
	MaxPendingPerConsumer int

	// Breaker is the circuit breaker tuning applied to every pair.
	Breaker BreakerConfig
}

// Validate validates the dispatcher configuration.
func (c *DispatcherConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("dispatcher workers must be positive, got %d", c.Workers)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("dispatcher max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.MaxPendingPerConsumer <= 0 {
		return fmt.Errorf("dispatcher max pending per consumer must be positive, got %d", c.MaxPendingPerConsumer)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive, got %v", c.Breaker.Cooldown)
	}
	return nil
}

// pendingDelivery is one signal waiting in a subscription mailbox.
type pendingDelivery struct {
	sig      *signal.Signal
	attempts int
}

// subscription is the delivery state for one (channel, consumer) pair: the
// mailbox preserving per-consumer publish order, the lazily created
// breaker, and the drain flag that guarantees at most one in-flight
// delivery per pair.
type subscription struct {
	channel    *Channel
	consumerID string
	contract   *signal.ConsumptionContract
	handler    Consumer

	mu        sync.Mutex
	pending   []*pendingDelivery
	draining  bool
	cancelled bool
	breaker   *Breaker
}

// SubscriptionHandle lets a consumer inspect and cancel its subscription.
type SubscriptionHandle struct {
	sub *subscription
	bus *BusSystem
}

// ConsumerID returns the subscribed consumer id.
func (h *SubscriptionHandle) ConsumerID() string {
	return h.sub.consumerID
}

// Channel returns the subscribed channel name.
func (h *SubscriptionHandle) Channel() string {
	return h.sub.channel.Name()
}

// Pending returns the number of deliveries waiting in the mailbox.
func (h *SubscriptionHandle) Pending() int {
	h.sub.mu.Lock()
	defer h.sub.mu.Unlock()
	return len(h.sub.pending)
}

// Cancel removes the subscription from its channel.
func (h *SubscriptionHandle) Cancel() {
	h.bus.unsubscribe(h.sub)
}

// Dispatcher owns the bounded worker pool shared across channels and the
// delivery path: breaker checks, bounded retries, health accounting, and
// dead-lettering of exhausted deliveries.
type Dispatcher struct {
	cfg     DispatcherConfig
	store   deadletter.Store
	health  *HealthMonitor
	metrics MetricsRecorder
	events  EventSink
	log     logger.Logger

	taskCh   chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. The pool is started by Start.
func NewDispatcher(cfg DispatcherConfig, store deadletter.Store, health *HealthMonitor, metrics MetricsRecorder, events EventSink, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		health:  health,
		metrics: metrics,
		events:  events,
		log:     log,
		taskCh:  make(chan func(), cfg.Workers*2),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop drains the pool and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case task := <-d.taskCh:
			d.runTask(task)
		case <-d.stopCh:
			for {
				select {
				case task := <-d.taskCh:
					d.runTask(task)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("delivery worker panic recovered", "panic", r)
		}
	}()
	task()
}

// Enqueue appends a delivery to the pair's mailbox and schedules a drain.
// Mailbox overflow dead-letters the oldest pending delivery: with reason
// CIRCUIT_OPEN when the pair's breaker is blocking delivery, otherwise as a
// delivery failure.
func (d *Dispatcher) Enqueue(sub *subscription, sig *signal.Signal) {
	var evicted *pendingDelivery
	var evictReason signal.ReasonCode

	sub.mu.Lock()
	if sub.cancelled {
		sub.mu.Unlock()
		return
	}
	if len(sub.pending) >= d.cfg.MaxPendingPerConsumer {
		evicted = sub.pending[0]
		sub.pending = sub.pending[1:]
		evictReason = signal.ReasonDeliveryFailed
		if sub.breaker != nil && sub.breaker.State(time.Now()) != BreakerClosed {
			evictReason = signal.ReasonCircuitOpen
		}
	}
	sub.pending = append(sub.pending, &pendingDelivery{sig: sig})
	sub.mu.Unlock()

	if evicted != nil {
		d.deadLetter(sub, evicted, evictReason)
	}
	d.schedule(sub)
}

// schedule submits a drain for the pair unless one is already running.
func (d *Dispatcher) schedule(sub *subscription) {
	sub.mu.Lock()
	if sub.cancelled || sub.draining || len(sub.pending) == 0 {
		sub.mu.Unlock()
		return
	}
	sub.draining = true
	sub.mu.Unlock()

	select {
	case d.taskCh <- func() { d.drain(sub) }:
	case <-d.stopCh:
		sub.mu.Lock()
		sub.draining = false
		sub.mu.Unlock()
	}
}

// drain delivers the pair's pending signals one at a time, preserving
// publish order. It runs on a pool worker; the draining flag guarantees no
// two in-flight deliveries to the same pair, which also serializes
// half-open probes on the pair's breaker.
func (d *Dispatcher) drain(sub *subscription) {
	for {
		sub.mu.Lock()
		if sub.cancelled || len(sub.pending) == 0 {
			sub.draining = false
			sub.mu.Unlock()
			return
		}
		item := sub.pending[0]
		sub.mu.Unlock()

		breaker := d.breakerFor(sub)
		allowed, wait := breaker.Allow(time.Now())
		if !allowed {
			// Breaker open or probe in flight: defer, never drop.
			d.pause(sub, wait)
			return
		}

		err := d.attempt(sub, item)
		if err == nil {
			d.popFront(sub, item)
			continue
		}

		item.attempts++
		if item.attempts >= d.cfg.MaxAttempts {
			d.popFront(sub, item)
			d.deadLetter(sub, item, signal.ReasonDeliveryFailed)
			continue
		}
		d.pause(sub, d.cfg.RetryDelay)
		return
	}
}

// pause releases the drain slot and reschedules after the wait.
func (d *Dispatcher) pause(sub *subscription, wait time.Duration) {
	sub.mu.Lock()
	sub.draining = false
	cancelled := sub.cancelled
	sub.mu.Unlock()
	if cancelled {
		return
	}

	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	time.AfterFunc(wait, func() {
		select {
		case <-d.stopCh:
		default:
			d.schedule(sub)
		}
	})
}

func (d *Dispatcher) popFront(sub *subscription, item *pendingDelivery) {
	sub.mu.Lock()
	if len(sub.pending) > 0 && sub.pending[0] == item {
		sub.pending = sub.pending[1:]
	}
	sub.mu.Unlock()
}

// attempt invokes the consumer handler once and settles breaker, health,
// metrics and counters for the outcome.
func (d *Dispatcher) attempt(sub *subscription, item *pendingDelivery) error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if d.cfg.DeliveryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}

	channel := sub.channel.Name()
	start := time.Now()
	err := sub.handler.Deliver(ctx, item.sig)
	elapsed := time.Since(start)
	now := time.Now()

	breaker := d.breakerFor(sub)
	if err == nil {
		from, to := breaker.RecordSuccess()
		d.noteTransition(sub, from, to)
		d.health.RecordSuccess(sub.consumerID, now)
		d.health.SetBreakerState(sub.consumerID, channel, to)
		sub.channel.NoteDelivered()
		d.metrics.RecordDelivery(channel, sub.consumerID, "success", elapsed)
		d.events.BusEvent(EventDelivered, map[string]any{
			"channel":   channel,
			"consumer":  sub.consumerID,
			"signal_id": item.sig.ID,
			"type":      string(item.sig.Type),
		})
		return nil
	}

	from, to := breaker.RecordFailure(now)
	d.noteTransition(sub, from, to)
	d.health.RecordFailure(sub.consumerID, now)
	d.health.SetBreakerState(sub.consumerID, channel, to)
	d.metrics.RecordDelivery(channel, sub.consumerID, "failure", elapsed)
	d.events.BusEvent(EventDeliveryFailed, map[string]any{
		"channel":   channel,
		"consumer":  sub.consumerID,
		"signal_id": item.sig.ID,
		"attempt":   item.attempts + 1,
		"error":     err.Error(),
	})
	d.log.Debug("delivery attempt failed",
		"channel", channel,
		"consumer", sub.consumerID,
		"signal_id", item.sig.ID,
		"attempt", item.attempts+1,
		"error", err,
	)
	return err
}

// breakerFor returns the pair's breaker, creating it lazily on the first
// delivery attempt.
func (d *Dispatcher) breakerFor(sub *subscription) *Breaker {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.breaker == nil {
		sub.breaker = NewBreaker(d.cfg.Breaker)
		d.health.SetBreakerState(sub.consumerID, sub.channel.Name(), BreakerClosed)
		d.metrics.SetBreakerState(sub.channel.Name(), sub.consumerID, BreakerClosed.String())
	}
	return sub.breaker
}

func (d *Dispatcher) noteTransition(sub *subscription, from, to BreakerState) {
	channel := sub.channel.Name()
	d.metrics.SetBreakerState(channel, sub.consumerID, to.String())
	if from == to {
		return
	}
	d.metrics.RecordBreakerTransition(channel, sub.consumerID, from.String(), to.String())
	d.events.BusEvent(EventBreakerTransition, map[string]any{
		"channel":  channel,
		"consumer": sub.consumerID,
		"from":     from.String(),
		"to":       to.String(),
	})
	d.log.Info("breaker transition",
		"channel", channel,
		"consumer", sub.consumerID,
		"from", from.String(),
		"to", to.String(),
	)
}

// deadLetter records an exhausted or evicted delivery.
func (d *Dispatcher) deadLetter(sub *subscription, item *pendingDelivery, reason signal.ReasonCode) {
	channel := sub.channel.Name()
	entry := &deadletter.Entry{
		Signal:       item.sig,
		Reason:       reason,
		FailedAt:     time.Now(),
		AttemptCount: item.attempts,
		Consumer:     sub.consumerID,
	}
	if err := d.store.Record(context.Background(), entry); err != nil {
		d.log.Error("failed to record dead letter entry",
			"channel", channel,
			"signal_id", item.sig.ID,
			"error", err,
		)
	}
	d.metrics.RecordDeadLetter(channel, string(reason))
	d.events.BusEvent(EventDeadLettered, map[string]any{
		"channel":   channel,
		"consumer":  sub.consumerID,
		"signal_id": item.sig.ID,
		"reason":    string(reason),
		"attempts":  item.attempts,
	})
}
