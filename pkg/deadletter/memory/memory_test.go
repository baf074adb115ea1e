package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docsieve/docsieve/pkg/deadletter"
	"github.com/docsieve/docsieve/pkg/signal"
)

func entry(id string, reason signal.ReasonCode, failedAt time.Time) *deadletter.Entry {
	return &deadletter.Entry{
		Signal:   &signal.Signal{ID: id, Channel: "scoring", Source: "stage.scorer"},
		Reason:   reason,
		FailedAt: failedAt,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()

	e := entry("sig-1", signal.ReasonScopeDenied, time.Now())
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, "sig-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reason != signal.ReasonScopeDenied {
		t.Errorf("Reason = %s", got.Reason)
	}

	if _, err := s.Get(ctx, "missing"); !deadletter.IsNotFoundError(err) {
		t.Errorf("Get missing: got %v, want not found", err)
	}
}

func TestRecordReplacesByID(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()

	s.Record(ctx, entry("sig-1", signal.ReasonScopeDenied, time.Now()))
	s.Record(ctx, entry("sig-1", signal.ReasonDeliveryFailed, time.Now()))

	if n, _ := s.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	got, _ := s.Get(ctx, "sig-1")
	if got.Reason != signal.ReasonDeliveryFailed {
		t.Errorf("Reason = %s, want replacement", got.Reason)
	}
}

func TestEvictsOldestAtCap(t *testing.T) {
	s := NewStore(2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s.Record(ctx, entry(fmt.Sprintf("sig-%d", i), signal.ReasonScopeDenied, time.Now()))
	}

	if n, _ := s.Len(ctx); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
	if _, err := s.Get(ctx, "sig-1"); !deadletter.IsNotFoundError(err) {
		t.Error("oldest entry should have been evicted")
	}
	if _, err := s.Get(ctx, "sig-3"); err != nil {
		t.Errorf("newest entry should be retained: %v", err)
	}
}

func TestListFilterAndLimit(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()
	base := time.Now()

	s.Record(ctx, entry("sig-1", signal.ReasonScopeDenied, base))
	s.Record(ctx, entry("sig-2", signal.ReasonDeliveryFailed, base.Add(time.Second)))
	s.Record(ctx, entry("sig-3", signal.ReasonDeliveryFailed, base.Add(2*time.Second)))

	all, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Signal.ID != "sig-1" {
		t.Fatalf("List = %d entries, first %s; want 3 oldest-first", len(all), all[0].Signal.ID)
	}

	failed, _ := s.List(ctx, &deadletter.Filter{Reason: signal.ReasonDeliveryFailed})
	if len(failed) != 2 {
		t.Errorf("filtered = %d, want 2", len(failed))
	}

	limited, _ := s.List(ctx, &deadletter.Filter{Limit: 1})
	if len(limited) != 1 || limited[0].Signal.ID != "sig-1" {
		t.Errorf("limited = %v", limited)
	}
}

func TestRemove(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()

	s.Record(ctx, entry("sig-1", signal.ReasonScopeDenied, time.Now()))
	if err := s.Remove(ctx, "sig-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "sig-1"); !deadletter.IsNotFoundError(err) {
		t.Errorf("double remove: got %v, want not found", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestPurge(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()
	base := time.Now()

	s.Record(ctx, entry("old-1", signal.ReasonScopeDenied, base.Add(-2*time.Hour)))
	s.Record(ctx, entry("old-2", signal.ReasonScopeDenied, base.Add(-time.Hour)))
	s.Record(ctx, entry("new", signal.ReasonScopeDenied, base))

	removed, err := s.Purge(ctx, base.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
	if _, err := s.Get(ctx, "new"); err != nil {
		t.Errorf("recent entry should survive purge: %v", err)
	}
}
