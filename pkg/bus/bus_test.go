package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docsieve/docsieve/pkg/deadletter"
	"github.com/docsieve/docsieve/pkg/deadletter/memory"
	"github.com/docsieve/docsieve/pkg/signal"
)

func testBusOptions() Options {
	return Options{
		Channels: []ChannelConfig{
			{Name: "scoring", Capacity: 64, BackpressureThreshold: 0.9, RetainHistory: true, HistorySize: 64},
			{Name: "integrity", Capacity: 64, BackpressureThreshold: 0.9, RetainHistory: true, HistorySize: 64, OnNoConsumer: NoConsumerDeadLetter},
		},
		Dispatcher: DispatcherConfig{
			Workers:               2,
			MaxAttempts:           2,
			RetryDelay:            5 * time.Millisecond,
			DeliveryTimeout:       time.Second,
			MaxPendingPerConsumer: 32,
			Breaker:               BreakerConfig{FailureThreshold: 2, Cooldown: 30 * time.Millisecond},
		},
		Thresholds:        map[signal.Type]float64{signal.TypeScoreComputed: 0.5},
		ThresholdFallback: 0.1,
		Store:             memory.NewStore(128),
	}
}

func newTestBus(t *testing.T, opts Options) *BusSystem {
	t.Helper()
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func registerScorer(t *testing.T, b *BusSystem) {
	t.Helper()
	err := b.Registry().RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "stage.scorer",
		AllowedTypes:    []signal.Type{signal.TypeScoreComputed, signal.TypeScoreOutlier},
		AllowedChannels: []string{"scoring"},
	})
	if err != nil {
		t.Fatalf("RegisterPublisher: %v", err)
	}
}

func registerAggregator(t *testing.T, b *BusSystem) {
	t.Helper()
	err := b.Registry().RegisterConsumer(&signal.ConsumptionContract{
		ConsumerID:    "stage.aggregator",
		Channels:      []string{"scoring"},
		AcceptedTypes: []signal.Type{signal.TypeScoreComputed, signal.TypeScoreOutlier},
	})
	if err != nil {
		t.Fatalf("RegisterConsumer: %v", err)
	}
}

func scoringSignal(confidence float64) *signal.Signal {
	return &signal.Signal{
		Type:       signal.TypeScoreComputed,
		Channel:    "scoring",
		Source:     "stage.scorer",
		Confidence: confidence,
		Context:    signal.Context{Phase: "scoring", Scopes: []string{"chunk"}},
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	var delivered atomic.Int64
	_, err := b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(_ context.Context, sig *signal.Signal) error {
		delivered.Add(1)
		return nil
	}))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Accepted || !res.Enqueued {
		t.Fatalf("result = %+v, want accepted and enqueued", res)
	}
	if res.SignalID == "" {
		t.Error("bus should assign a signal id")
	}

	waitUntil(t, time.Second, func() bool { return delivered.Load() == 1 })
}

func TestPublishAssignsMetadata(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	var mu sync.Mutex
	var got *signal.Signal
	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(_ context.Context, sig *signal.Signal) error {
		mu.Lock()
		got = sig
		mu.Unlock()
		return nil
	}))

	if _, err := b.Publish(context.Background(), scoringSignal(0.8)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Errorf("delivered signal missing bus-assigned metadata: %+v", got)
	}
	if got.SchemaVersion != signal.SchemaVersionV1 {
		t.Errorf("SchemaVersion = %q, want %q", got.SchemaVersion, signal.SchemaVersionV1)
	}
}

func TestPublishScopeRejectionDeadLetters(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	// No publisher contract registered.

	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Accepted {
		t.Fatal("unregistered publisher must be rejected")
	}
	if res.Reason == nil || *res.Reason != signal.ReasonScopeDenied {
		t.Fatalf("reason = %v, want scope denied", res.Reason)
	}

	entries, err := b.DeadLetters(context.Background(), &deadletter.Filter{Reason: signal.ReasonScopeDenied})
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(entries))
	}
}

func TestPublishValueRejection(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)

	res, err := b.Publish(context.Background(), scoringSignal(0.3))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Accepted || res.Reason == nil || *res.Reason != signal.ReasonValueBelowThreshold {
		t.Fatalf("result = %+v, want value rejection", res)
	}
}

func TestPublishNoConsumerHistorize(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	// No subscriber on "scoring": policy historize.

	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Accepted || res.Enqueued {
		t.Fatalf("result = %+v, want accepted but not enqueued", res)
	}

	ch, err := b.Channel("scoring")
	if err != nil {
		t.Fatal(err)
	}
	history := ch.History()
	if len(history) != 1 || !history[0].NoEligibleConsumer {
		t.Fatalf("history = %+v, want one no-consumer entry", history)
	}
}

func TestPublishNoConsumerDeadLetterPolicy(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	err := b.Registry().RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "stage.scorer",
		AllowedTypes:    []signal.Type{signal.TypeIntegrityFlag},
		AllowedChannels: []string{"integrity"},
	})
	if err != nil {
		t.Fatal(err)
	}

	sig := &signal.Signal{
		Type:       signal.TypeIntegrityFlag,
		Channel:    "integrity",
		Source:     "stage.scorer",
		Confidence: 0.9,
	}
	res, err := b.Publish(context.Background(), sig)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Accepted || res.Reason == nil || *res.Reason != signal.ReasonCapabilityMismatch {
		t.Fatalf("result = %+v, want capability mismatch", res)
	}
}

func TestPublishUnknownChannelPanics(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	err := b.Registry().RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "stage.rogue",
		AllowedTypes:    []signal.Type{signal.TypeScoreComputed},
		AllowedChannels: []string{"phantom"},
	})
	if err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for admitted signal on unowned channel")
		}
	}()
	b.Publish(context.Background(), &signal.Signal{
		Type:       signal.TypeScoreComputed,
		Channel:    "phantom",
		Source:     "stage.rogue",
		Confidence: 0.9,
	})
}

func TestSubscribeValidation(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerAggregator(t, b)

	handler := ConsumerFunc(func(context.Context, *signal.Signal) error { return nil })

	if _, err := b.Subscribe("stage.unknown", "scoring", nil, handler); !IsContractNotFoundError(err) {
		t.Errorf("unknown consumer: got %v, want contract not found", err)
	}
	if _, err := b.Subscribe("stage.aggregator", "integrity", nil, handler); err == nil {
		t.Error("channel outside contract should be rejected")
	}
	if _, err := b.Subscribe("stage.aggregator", "scoring", []signal.Type{signal.TypeIntegrityFlag}, handler); err == nil {
		t.Error("type outside contract should be rejected")
	}
	if _, err := b.Subscribe("stage.aggregator", "scoring", nil, nil); err == nil {
		t.Error("nil handler should be rejected")
	}

	if _, err := b.Subscribe("stage.aggregator", "scoring", nil, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := b.Subscribe("stage.aggregator", "scoring", nil, handler); err == nil {
		t.Error("duplicate subscription should be rejected")
	}
}

func TestSubscriptionCancel(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	var delivered atomic.Int64
	handle, err := b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		delivered.Add(1)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	handle.Cancel()

	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatal(err)
	}
	// With the only subscriber gone, the capability gate historizes.
	if res.Enqueued {
		t.Error("publish after cancel should not enqueue")
	}
	time.Sleep(20 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Error("cancelled subscriber must not receive deliveries")
	}
}

func TestDeliveryRetriesThenDeadLetters(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	var attempts atomic.Int64
	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		attempts.Add(1)
		return errors.New("boom")
	}))

	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatal(err)
	}

	// MaxAttempts is 2: both attempts fail, then the signal dead-letters.
	waitUntil(t, 2*time.Second, func() bool {
		entries, _ := b.DeadLetters(context.Background(), &deadletter.Filter{Reason: signal.ReasonDeliveryFailed})
		return len(entries) == 1
	})
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}

	entries, _ := b.DeadLetters(context.Background(), &deadletter.Filter{Reason: signal.ReasonDeliveryFailed})
	if entries[0].Signal.ID != res.SignalID {
		t.Errorf("dead letter id = %s, want %s", entries[0].Signal.ID, res.SignalID)
	}
	if entries[0].Consumer != "stage.aggregator" {
		t.Errorf("dead letter consumer = %s", entries[0].Consumer)
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	var failing atomic.Bool
	failing.Store(true)
	var successes atomic.Int64
	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		if failing.Load() {
			return errors.New("downstream unavailable")
		}
		successes.Add(1)
		return nil
	}))

	// Threshold is 2: one signal retried twice opens the breaker.
	if _, err := b.Publish(context.Background(), scoringSignal(0.8)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		for _, c := range b.Health().Snapshot() {
			if c.ConsumerID == "stage.aggregator" && c.BreakerStates["scoring"] == "open" {
				return true
			}
		}
		return false
	})

	// Consumer recovers; the next signal is delivered by the half-open
	// probe after the cooldown, closing the breaker.
	failing.Store(false)
	if _, err := b.Publish(context.Background(), scoringSignal(0.8)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, func() bool { return successes.Load() >= 1 })
	waitUntil(t, 2*time.Second, func() bool {
		for _, c := range b.Health().Snapshot() {
			if c.ConsumerID == "stage.aggregator" && c.BreakerStates["scoring"] == "closed" {
				return true
			}
		}
		return false
	})
}

func TestReplayReadmitsThroughGates(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerAggregator(t, b)

	var delivered atomic.Int64
	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		delivered.Add(1)
		return nil
	}))

	// Publisher not yet registered: the publish dead-letters.
	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("expected scope rejection")
	}

	// Replay before fixing the contract: same rejection, entry stays.
	results, err := b.Replay(context.Background(), []string{res.SignalID})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 1 || results[0].Accepted {
		t.Fatalf("results = %+v, want one rejected", results)
	}
	if n, _ := b.store.Len(context.Background()); n != 1 {
		t.Fatalf("store len = %d, want 1", n)
	}

	// Register the publisher and replay again: admitted and removed.
	registerScorer(t, b)
	results, err = b.Replay(context.Background(), []string{res.SignalID})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 1 || !results[0].Accepted {
		t.Fatalf("results = %+v, want one accepted", results)
	}
	waitUntil(t, time.Second, func() bool { return delivered.Load() == 1 })
	if n, _ := b.store.Len(context.Background()); n != 0 {
		t.Errorf("store len = %d, want 0 after successful replay", n)
	}
}

func TestReplayRevokedPublisherRejectsAgain(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		return nil
	}))

	if err := b.Registry().RevokePublisher("stage.scorer"); err != nil {
		t.Fatalf("RevokePublisher: %v", err)
	}
	res, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted || *res.Reason != signal.ReasonScopeDenied {
		t.Fatalf("result = %+v, want scope rejection", res)
	}

	// Replay while still revoked: the identical rejection, entry retained.
	results, err := b.Replay(context.Background(), []string{res.SignalID})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 1 || results[0].Accepted {
		t.Fatalf("results = %+v, want one rejected", results)
	}
	if *results[0].Reason != signal.ReasonScopeDenied {
		t.Errorf("reason = %s, want %s", *results[0].Reason, signal.ReasonScopeDenied)
	}
	if n, _ := b.store.Len(context.Background()); n != 1 {
		t.Errorf("store len = %d, want 1", n)
	}
}

func TestUnsubscribeForgetsHealth(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		return nil
	}))

	if _, err := b.Publish(context.Background(), scoringSignal(0.8)); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, time.Second, func() bool {
		h, ok := b.Health().Consumer("stage.aggregator")
		return ok && h.TotalSuccesses == 1
	})

	if err := b.Unsubscribe("stage.aggregator", "scoring"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, ok := b.Health().Consumer("stage.aggregator"); ok {
		t.Error("health record should be dropped with the last subscription")
	}
}

func TestReplaySkipsUnknownIDs(t *testing.T) {
	b := newTestBus(t, testBusOptions())

	results, err := b.Replay(context.Background(), []string{"missing-1", "missing-2"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
}

func TestPublisherRateLimit(t *testing.T) {
	opts := testBusOptions()
	opts.PublishRate = 1
	opts.PublishBurst = 1
	b := newTestBus(t, opts)
	registerScorer(t, b)

	first, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Accepted {
		t.Fatalf("first publish should pass the limiter: %+v", first)
	}

	second, err := b.Publish(context.Background(), scoringSignal(0.8))
	if err != nil {
		t.Fatal(err)
	}
	if second.Accepted || second.Reason == nil || *second.Reason != signal.ReasonChannelBackpressure {
		t.Fatalf("second publish should be rate limited: %+v", second)
	}
}

func TestPublishAfterClose(t *testing.T) {
	b, err := New(testBusOptions())
	if err != nil {
		t.Fatal(err)
	}
	b.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := b.Publish(context.Background(), scoringSignal(0.8)); !IsBusClosedError(err) {
		t.Errorf("publish after close: got %v, want bus closed", err)
	}
	if _, err := b.Subscribe("x", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error { return nil })); !IsBusClosedError(err) {
		t.Errorf("subscribe after close: got %v, want bus closed", err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	b := newTestBus(t, testBusOptions())
	registerScorer(t, b)
	registerAggregator(t, b)

	var delivered atomic.Int64
	b.Subscribe("stage.aggregator", "scoring", nil, ConsumerFunc(func(context.Context, *signal.Signal) error {
		delivered.Add(1)
		return nil
	}))

	b.Publish(context.Background(), scoringSignal(0.8))
	b.Publish(context.Background(), scoringSignal(0.3)) // value-gate rejection
	waitUntil(t, time.Second, func() bool { return delivered.Load() == 1 })

	stats := b.Snapshot(context.Background())
	if len(stats.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(stats.Channels))
	}
	if stats.DeadLetters != 1 {
		t.Errorf("DeadLetters = %d, want 1", stats.DeadLetters)
	}
	for _, ch := range stats.Channels {
		if ch.Name != "scoring" {
			continue
		}
		if ch.TotalPublished != 1 || ch.TotalRejected != 1 {
			t.Errorf("scoring stats = %+v", ch)
		}
	}
}

func TestPurgeDeadLetters(t *testing.T) {
	b := newTestBus(t, testBusOptions())

	b.Publish(context.Background(), scoringSignal(0.8)) // scope rejection
	n, err := b.PurgeDeadLetters(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeDeadLetters: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if count, _ := b.store.Len(context.Background()); count != 0 {
		t.Errorf("store len = %d, want 0", count)
	}
}
