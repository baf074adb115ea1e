package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/deadletter/memory"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

func testLogger() logger.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "text",
		Output: "stderr",
	})
}

func newTestBus(t *testing.T) *bus.BusSystem {
	t.Helper()

	b, err := bus.New(bus.Options{
		Channels: []bus.ChannelConfig{
			{
				Name:                  "scoring",
				Capacity:              64,
				BackpressureThreshold: 0.9,
				RetainHistory:         true,
				HistorySize:           32,
				OnNoConsumer:          bus.NoConsumerHistorize,
			},
		},
		Dispatcher: bus.DispatcherConfig{
			Workers:               2,
			MaxAttempts:           2,
			RetryDelay:            5 * time.Millisecond,
			DeliveryTimeout:       time.Second,
			MaxPendingPerConsumer: 16,
			Breaker: bus.BreakerConfig{
				FailureThreshold: 2,
				Cooldown:         50 * time.Millisecond,
			},
		},
		Thresholds:        map[signal.Type]float64{signal.TypeScoreComputed: 0.5},
		ThresholdFallback: 0.1,
		Store:             memory.NewStore(64),
		Logger:            testLogger(),
	})
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}
	b.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func registerScorer(t *testing.T, b *bus.BusSystem) {
	t.Helper()
	err := b.Registry().RegisterPublisher(&signal.PublicationContract{
		PublisherID:     "stage.scorer",
		AllowedTypes:    []signal.Type{signal.TypeScoreComputed},
		AllowedChannels: []string{"scoring"},
	})
	if err != nil {
		t.Fatalf("RegisterPublisher: %v", err)
	}
}

// withURLParam attaches a chi route parameter to the request context so
// handlers can be invoked without a full router.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
