// Package bus implements the typed multi-channel signal bus that
// coordinates the document-evaluation pipeline stages.
//
// Every publish passes a four-gate admission pipeline (scope, value,
// capability, channel) before reaching a bounded priority queue. Each
// channel runs a single dispatch loop; deliveries run on a worker pool
// shared across channels, serialized per (channel, consumer) pair so that
// circuit breaker transitions stay race-free. Rejected and failed signals
// land in the dead-letter store, from which they can be replayed back
// through the gates.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/docsieve/docsieve/pkg/deadletter"
	"github.com/docsieve/docsieve/pkg/deadletter/memory"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Options configures a BusSystem.
type Options struct {
	// Channels are the named channels the bus owns.
	Channels []ChannelConfig

	// Dispatcher tunes the shared delivery pool, retry policy and breakers.
	Dispatcher DispatcherConfig

	// Thresholds is the per-type minimum confidence table for the value
	// gate.
	Thresholds map[signal.Type]float64

	// ThresholdFallback applies to types with no explicit threshold.
	ThresholdFallback float64

	// Store is the dead-letter store. The bus takes ownership and closes
	// it on shutdown. Defaults to a bounded in-memory store.
	Store deadletter.Store

	// PublishRate limits publishes per second per publisher. Zero disables
	// limiting.
	PublishRate float64

	// PublishBurst is the per-publisher burst allowance when rate limiting
	// is enabled.
	PublishBurst int

	// Metrics receives bus metrics. Defaults to a no-op recorder.
	Metrics MetricsRecorder

	// Events receives bus lifecycle events. Defaults to a no-op sink.
	Events EventSink

	// Logger is the structured logger. Defaults to the global logger.
	Logger logger.Logger
}

// PublishResult is the structured outcome of a publish attempt. Admission
// rejections are routine: they surface here and in the dead-letter store,
// never as errors.
type PublishResult struct {
	// SignalID is the id of the published signal, bus-assigned when the
	// producer left it empty.
	SignalID string `json:"signal_id"`

	// Accepted reports whether the signal passed all gates.
	Accepted bool `json:"accepted"`

	// Reason is the rejection reason when not accepted.
	Reason *signal.ReasonCode `json:"reason,omitempty"`

	// Enqueued reports whether the signal reached the channel queue.
	// Accepted signals with no eligible consumer are historized instead.
	Enqueued bool `json:"enqueued"`
}

// ReplayResult is the outcome of re-admitting one dead-letter entry.
type ReplayResult struct {
	SignalID string             `json:"signal_id"`
	Accepted bool               `json:"accepted"`
	Reason   *signal.ReasonCode `json:"reason,omitempty"`
}

// Stats is a point-in-time snapshot of the whole bus.
type Stats struct {
	Channels    []ChannelStats   `json:"channels"`
	Consumers   []ConsumerHealth `json:"consumers"`
	DeadLetters int              `json:"dead_letters"`
}

// BusSystem owns the contract registry, all channels, the dispatcher and
// the dead-letter store. There is no ambient singleton: callers construct a
// BusSystem and pass the handle explicitly.
type BusSystem struct {
	registry   *ContractRegistry
	gates      *GatePipeline
	thresholds *ThresholdTable
	channels   map[string]*Channel
	dispatcher *Dispatcher
	store      deadletter.Store
	health     *HealthMonitor
	metrics    MetricsRecorder
	events     EventSink
	log        logger.Logger

	subMu sync.RWMutex
	subs  map[string][]*subscription

	limiterMu   sync.Mutex
	limiters    map[string]*rate.Limiter
	publishRate float64
	burst       int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New constructs a BusSystem from options. Channels and dispatcher settings
// are validated eagerly; a bad config is a construction error, not a
// runtime surprise.
func New(opts Options) (*BusSystem, error) {
	if len(opts.Channels) == 0 {
		return nil, fmt.Errorf("bus requires at least one channel")
	}
	if err := opts.Dispatcher.Validate(); err != nil {
		return nil, err
	}

	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Events == nil {
		opts.Events = nopEvents{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	if opts.Store == nil {
		opts.Store = memory.NewStore(4096)
	}
	if opts.PublishBurst <= 0 {
		opts.PublishBurst = 1
	}

	channels := make(map[string]*Channel, len(opts.Channels))
	for _, cc := range opts.Channels {
		if _, exists := channels[cc.Name]; exists {
			return nil, fmt.Errorf("duplicate channel name %q", cc.Name)
		}
		ch, err := NewChannel(cc)
		if err != nil {
			return nil, err
		}
		channels[cc.Name] = ch
	}

	registry := NewContractRegistry()
	thresholds := NewThresholdTable(opts.Thresholds, opts.ThresholdFallback)
	health := NewHealthMonitor()
	dispatcher := NewDispatcher(opts.Dispatcher, opts.Store, health, opts.Metrics, opts.Events, opts.Logger)

	return &BusSystem{
		registry:    registry,
		gates:       NewGatePipeline(registry, thresholds),
		thresholds:  thresholds,
		channels:    channels,
		dispatcher:  dispatcher,
		store:       opts.Store,
		health:      health,
		metrics:     opts.Metrics,
		events:      opts.Events,
		log:         opts.Logger,
		subs:        make(map[string][]*subscription),
		limiters:    make(map[string]*rate.Limiter),
		publishRate: opts.PublishRate,
		burst:       opts.PublishBurst,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start launches the delivery pool and one dispatch loop per channel.
func (b *BusSystem) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.dispatcher.Start()
	for _, ch := range b.channels {
		b.wg.Add(1)
		go b.dispatchLoop(ch)
	}
	b.log.Info("signal bus started", "channels", len(b.channels))
}

// Close shuts the bus down: channels stop accepting signals, dispatch
// loops drain what is already queued, the delivery pool stops, and the
// dead-letter store is closed. Close respects the context deadline while
// waiting for loops to finish.
func (b *BusSystem) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, ch := range b.channels {
		ch.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	close(b.stopCh)
	b.dispatcher.Stop()

	if err := b.store.Close(); err != nil && waitErr == nil {
		waitErr = err
	}
	b.log.Info("signal bus stopped")
	return waitErr
}

// Registry returns the contract registry for administrative operations.
func (b *BusSystem) Registry() *ContractRegistry {
	return b.registry
}

// Health returns the consumer health monitor.
func (b *BusSystem) Health() *HealthMonitor {
	return b.health
}

// Thresholds returns the value-gate threshold table, exposed for config
// hot-reload.
func (b *BusSystem) Thresholds() *ThresholdTable {
	return b.thresholds
}

// Channel returns the named channel.
func (b *BusSystem) Channel(name string) (*Channel, error) {
	ch, ok := b.channels[name]
	if !ok {
		return nil, &ChannelNotFoundError{Channel: name}
	}
	return ch, nil
}

// ChannelNames returns the names of all owned channels.
func (b *BusSystem) ChannelNames() []string {
	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	return names
}

// Publish runs the gate pipeline on a signal and, on admission, enqueues
// it on its target channel. The publisher receives a structured result;
// admission rejections are recorded to the dead-letter store and are never
// returned as errors.
//
// When per-publisher rate limiting is enabled it is checked before the
// gates, so a limited publish is rejected with GATE_CHANNEL_BACKPRESSURE
// without consulting the contract registry. A publisher over its rate gets
// the same answer whether or not its contract would have admitted the
// signal.
func (b *BusSystem) Publish(ctx context.Context, sig *signal.Signal) (PublishResult, error) {
	if sig == nil {
		return PublishResult{}, fmt.Errorf("signal cannot be nil")
	}
	if b.closed.Load() {
		return PublishResult{}, &BusClosedError{}
	}
	if err := ctx.Err(); err != nil {
		return PublishResult{}, err
	}

	sig = sig.Clone()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	if sig.SchemaVersion == "" {
		sig.SchemaVersion = signal.SchemaVersionV1
	}

	if lim := b.limiterFor(sig.Source); lim != nil && !lim.Allow() {
		return b.reject(sig, &Rejection{
			Gate:   GateChannel,
			Reason: signal.ReasonChannelBackpressure,
			Detail: "publisher rate limit exceeded",
		}), nil
	}

	// Gate 1: scope.
	if rej := b.gates.CheckScope(sig); rej != nil {
		return b.reject(sig, rej), nil
	}

	// Gate 2: value.
	if rej := b.gates.CheckValue(sig); rej != nil {
		return b.reject(sig, rej), nil
	}

	ch, ok := b.channels[sig.Channel]
	if !ok {
		// The scope gate admitted a channel the bus does not own: a wiring
		// defect between contract registration and bus construction.
		panic(fmt.Sprintf("bus: no channel %q for admitted signal %s", sig.Channel, sig.ID))
	}

	// Gate 3: capability.
	eligible, rej := b.gates.CheckCapability(sig, b.contractsOn(sig.Channel), ch.Config().OnNoConsumer)
	if rej != nil {
		return b.reject(sig, rej), nil
	}
	if !eligible {
		// Absence of subscribers is not an error: accepted, historized
		// with the no-eligible-consumer flag, never queued.
		ch.Historize(sig, true)
		b.metrics.RecordPublishAccepted(sig.Channel, string(sig.Type))
		b.events.BusEvent(EventPublishAccepted, map[string]any{
			"signal_id":            sig.ID,
			"channel":              sig.Channel,
			"type":                 string(sig.Type),
			"no_eligible_consumer": true,
		})
		return PublishResult{SignalID: sig.ID, Accepted: true, Enqueued: false}, nil
	}

	// Gate 4: channel capacity, under the channel's own lock.
	displaced, err := ch.Enqueue(sig)
	if err != nil {
		if _, ok := err.(*BackpressureError); ok {
			return b.rejectNoCount(sig, &Rejection{
				Gate:   GateChannel,
				Reason: signal.ReasonChannelBackpressure,
				Detail: err.Error(),
			}), nil
		}
		return PublishResult{}, err
	}
	if displaced != nil {
		b.recordDeadLetter(displaced, signal.ReasonChannelBackpressure)
	}

	b.metrics.RecordPublishAccepted(sig.Channel, string(sig.Type))
	b.metrics.SetQueueDepth(sig.Channel, ch.Depth())
	b.events.BusEvent(EventPublishAccepted, map[string]any{
		"signal_id": sig.ID,
		"channel":   sig.Channel,
		"type":      string(sig.Type),
	})
	return PublishResult{SignalID: sig.ID, Accepted: true, Enqueued: true}, nil
}

// reject records one dead-letter entry for a gate rejection and counts it
// against the target channel when the bus owns it.
func (b *BusSystem) reject(sig *signal.Signal, rej *Rejection) PublishResult {
	if ch, ok := b.channels[sig.Channel]; ok {
		ch.NoteRejected()
	}
	return b.rejectNoCount(sig, rej)
}

// rejectNoCount is the rejection path for channel-gate failures, where the
// channel already counted the rejection under its own lock.
func (b *BusSystem) rejectNoCount(sig *signal.Signal, rej *Rejection) PublishResult {
	b.recordDeadLetter(sig, rej.Reason)
	b.metrics.RecordPublishRejected(sig.Channel, string(sig.Type), string(rej.Reason))
	b.events.BusEvent(EventPublishRejected, map[string]any{
		"signal_id": sig.ID,
		"channel":   sig.Channel,
		"type":      string(sig.Type),
		"gate":      rej.Gate,
		"reason":    string(rej.Reason),
		"detail":    rej.Detail,
	})
	b.log.Debug("publish rejected",
		"signal_id", sig.ID,
		"channel", sig.Channel,
		"gate", rej.Gate,
		"reason", string(rej.Reason),
		"detail", rej.Detail,
	)
	reason := rej.Reason
	return PublishResult{SignalID: sig.ID, Accepted: false, Reason: &reason}
}

func (b *BusSystem) recordDeadLetter(sig *signal.Signal, reason signal.ReasonCode) {
	entry := &deadletter.Entry{
		Signal:   sig,
		Reason:   reason,
		FailedAt: time.Now(),
	}
	if err := b.store.Record(context.Background(), entry); err != nil {
		b.log.Error("failed to record dead letter entry", "signal_id", sig.ID, "error", err)
	}
	b.metrics.RecordDeadLetter(sig.Channel, string(reason))
	b.events.BusEvent(EventDeadLettered, map[string]any{
		"signal_id": sig.ID,
		"channel":   sig.Channel,
		"reason":    string(reason),
	})
}

// Subscribe attaches a handler for a consumer on one channel. The consumer
// must hold a registered consumption contract covering the channel; types
// narrows the contract's accepted types for this subscription, or inherits
// all of them when empty. Delivery is pushed to the handler in publish
// order for this pair.
func (b *BusSystem) Subscribe(consumerID, channel string, types []signal.Type, handler Consumer) (*SubscriptionHandle, error) {
	if b.closed.Load() {
		return nil, &BusClosedError{}
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	contract, err := b.registry.LookupConsumer(consumerID)
	if err != nil {
		return nil, err
	}
	if !contract.SubscribesTo(channel) {
		return nil, &InvalidContractError{ID: consumerID, Reason: fmt.Sprintf("contract does not cover channel %s", channel)}
	}

	effective := *contract
	if len(types) > 0 {
		for _, t := range types {
			if !contract.AcceptsType(t) {
				return nil, &InvalidContractError{ID: consumerID, Reason: fmt.Sprintf("contract does not accept type %s", t)}
			}
		}
		effective.AcceptedTypes = append([]signal.Type(nil), types...)
	}

	ch, ok := b.channels[channel]
	if !ok {
		return nil, &ChannelNotFoundError{Channel: channel}
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	for _, existing := range b.subs[channel] {
		if existing.consumerID == consumerID {
			return nil, &SubscriptionExistsError{ConsumerID: consumerID, Channel: channel}
		}
	}

	sub := &subscription{
		channel:    ch,
		consumerID: consumerID,
		contract:   &effective,
		handler:    handler,
	}
	b.subs[channel] = append(b.subs[channel], sub)
	b.log.Info("consumer subscribed", "consumer", consumerID, "channel", channel)
	return &SubscriptionHandle{sub: sub, bus: b}, nil
}

// Unsubscribe removes a consumer's subscription from one channel. Pending
// mailbox deliveries are discarded.
func (b *BusSystem) Unsubscribe(consumerID, channel string) error {
	b.subMu.RLock()
	var target *subscription
	for _, sub := range b.subs[channel] {
		if sub.consumerID == consumerID {
			target = sub
			break
		}
	}
	b.subMu.RUnlock()

	if target == nil {
		return &ContractNotFoundError{ID: consumerID}
	}
	b.unsubscribe(target)
	return nil
}

func (b *BusSystem) unsubscribe(sub *subscription) {
	sub.mu.Lock()
	sub.cancelled = true
	sub.pending = nil
	sub.mu.Unlock()

	name := sub.channel.Name()
	b.subMu.Lock()
	list := b.subs[name]
	for i, s := range list {
		if s == sub {
			b.subs[name] = append(list[:i], list[i+1:]...)
			break
		}
	}
	subscribed := false
	for _, subs := range b.subs {
		for _, s := range subs {
			if s.consumerID == sub.consumerID {
				subscribed = true
				break
			}
		}
	}
	b.subMu.Unlock()

	// Health records follow subscriptions: once the last one is gone the
	// consumer disappears from snapshots.
	if !subscribed {
		b.health.Forget(sub.consumerID)
	}
	b.log.Info("consumer unsubscribed", "consumer", sub.consumerID, "channel", name)
}

// contractsOn returns the consumption contracts currently subscribed on a
// channel.
func (b *BusSystem) contractsOn(channel string) []*signal.ConsumptionContract {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	out := make([]*signal.ConsumptionContract, 0, len(b.subs[channel]))
	for _, sub := range b.subs[channel] {
		out = append(out, sub.contract)
	}
	return out
}

func (b *BusSystem) subscriptionsOn(channel string) []*subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return append([]*subscription(nil), b.subs[channel]...)
}

// dispatchLoop is the single drain loop for one channel. It never blocks
// on a consumer: deliveries are handed to the shared pool and the loop
// moves to the next queued signal. Capability is re-evaluated per consumer
// here, at dispatch time.
func (b *BusSystem) dispatchLoop(ch *Channel) {
	defer b.wg.Done()

	for {
		sig, ok := ch.Next(b.stopCh)
		if !ok {
			return
		}

		handedOff := false
		for _, sub := range b.subscriptionsOn(ch.Name()) {
			if !sub.contract.CanProcess(sig) {
				continue
			}
			b.dispatcher.Enqueue(sub, sig)
			handedOff = true
		}

		// Every eligible consumer unsubscribed between admission and
		// dispatch: keep the signal visible in history rather than lose it
		// silently.
		ch.Historize(sig, !handedOff)
		b.metrics.SetQueueDepth(ch.Name(), ch.Depth())
	}
}

// limiterFor returns the publisher's rate limiter, creating it on first
// use. Nil when rate limiting is disabled.
func (b *BusSystem) limiterFor(publisherID string) *rate.Limiter {
	if b.publishRate <= 0 || publisherID == "" {
		return nil
	}

	b.limiterMu.Lock()
	defer b.limiterMu.Unlock()

	lim, ok := b.limiters[publisherID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.publishRate), b.burst)
		b.limiters[publisherID] = lim
	}
	return lim
}

// DeadLetters lists dead-letter entries matching the filter.
func (b *BusSystem) DeadLetters(ctx context.Context, filter *deadletter.Filter) ([]*deadletter.Entry, error) {
	return b.store.List(ctx, filter)
}

// Replay re-admits dead-lettered signals through the full gate pipeline.
// Entries admitted again are removed from the store; entries rejected again
// stay, re-recorded with the fresh rejection. A replay never bypasses
// gates: a still-revoked publisher dead-letters again, which is the
// intended diagnostic.
func (b *BusSystem) Replay(ctx context.Context, signalIDs []string) ([]ReplayResult, error) {
	results := make([]ReplayResult, 0, len(signalIDs))
	for _, id := range signalIDs {
		entry, err := b.store.Get(ctx, id)
		if err != nil {
			if deadletter.IsNotFoundError(err) {
				continue
			}
			return results, err
		}

		res, err := b.Publish(ctx, entry.Signal)
		if err != nil {
			return results, err
		}
		if res.Accepted {
			if err := b.store.Remove(ctx, id); err != nil && !deadletter.IsNotFoundError(err) {
				b.log.Warn("failed to remove replayed dead letter entry", "signal_id", id, "error", err)
			}
		}
		b.events.BusEvent(EventReplayed, map[string]any{
			"signal_id": id,
			"accepted":  res.Accepted,
		})
		results = append(results, ReplayResult{SignalID: res.SignalID, Accepted: res.Accepted, Reason: res.Reason})
	}
	return results, nil
}

// PurgeDeadLetters removes entries recorded before the cutoff.
func (b *BusSystem) PurgeDeadLetters(ctx context.Context, olderThan time.Time) (int, error) {
	return b.store.Purge(ctx, olderThan)
}

// Snapshot returns bus-wide statistics for the observability layer.
func (b *BusSystem) Snapshot(ctx context.Context) Stats {
	stats := Stats{
		Consumers: b.health.Snapshot(),
	}
	for _, ch := range b.channels {
		stats.Channels = append(stats.Channels, ch.Snapshot())
	}
	if n, err := b.store.Len(ctx); err == nil {
		stats.DeadLetters = n
	}
	return stats
}
