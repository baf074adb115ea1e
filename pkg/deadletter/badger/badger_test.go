package badger

import (
	"context"
	"testing"
	"time"

	"github.com/docsieve/docsieve/pkg/deadletter"
	"github.com/docsieve/docsieve/pkg/signal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(&Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(id string, failedAt time.Time) *deadletter.Entry {
	return &deadletter.Entry{
		Signal: &signal.Signal{
			ID:      id,
			Type:    signal.TypeScoreComputed,
			Channel: "scoring",
			Source:  "stage.scorer",
		},
		Reason:   signal.ReasonDeliveryFailed,
		FailedAt: failedAt,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entry("sig-1", time.Now().UTC())
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, "sig-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Signal.ID != "sig-1" || got.Reason != signal.ReasonDeliveryFailed {
		t.Errorf("Get = %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !deadletter.IsNotFoundError(err) {
		t.Errorf("Get missing: got %v, want not found", err)
	}
}

func TestRecordReplacesByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	s.Record(ctx, entry("sig-1", base))

	// Re-recording the same signal with a later FailedAt must retire the
	// old index key, not leave both behind.
	later := entry("sig-1", base.Add(time.Minute))
	later.Reason = signal.ReasonScopeDenied
	if err := s.Record(ctx, later); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	if n, _ := s.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	entries, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List = %d entries, want 1", len(entries))
	}
	if entries[0].Reason != signal.ReasonScopeDenied {
		t.Errorf("Reason = %s, want replacement", entries[0].Reason)
	}

	// Removing the entry must leave no orphaned index key.
	if err := s.Remove(ctx, "sig-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len after remove = %d, want 0", n)
	}
}

func TestListOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Recorded out of order; the time index drives List order.
	s.Record(ctx, entry("sig-b", base.Add(time.Second)))
	s.Record(ctx, entry("sig-c", base.Add(2*time.Second)))
	s.Record(ctx, entry("sig-a", base))

	entries, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List = %d entries, want 3", len(entries))
	}
	for i, want := range []string{"sig-a", "sig-b", "sig-c"} {
		if entries[i].Signal.ID != want {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].Signal.ID, want)
		}
	}

	limited, _ := s.List(ctx, &deadletter.Filter{Limit: 2})
	if len(limited) != 2 || limited[0].Signal.ID != "sig-a" {
		t.Errorf("limited list = %d entries, first %s", len(limited), limited[0].Signal.ID)
	}
}

func TestListFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.Record(ctx, entry("sig-1", now))
	other := entry("sig-2", now.Add(time.Second))
	other.Reason = signal.ReasonScopeDenied
	s.Record(ctx, other)

	scoped, err := s.List(ctx, &deadletter.Filter{Reason: signal.ReasonScopeDenied})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Signal.ID != "sig-2" {
		t.Errorf("filtered list = %+v", scoped)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Record(ctx, entry("sig-1", time.Now().UTC()))
	if err := s.Remove(ctx, "sig-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "sig-1"); !deadletter.IsNotFoundError(err) {
		t.Errorf("double remove: got %v, want not found", err)
	}

	// Both the entry and its index key are gone.
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
	entries, _ := s.List(ctx, nil)
	if len(entries) != 0 {
		t.Errorf("List after remove = %d entries", len(entries))
	}
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	s.Record(ctx, entry("old-1", base.Add(-2*time.Hour)))
	s.Record(ctx, entry("old-2", base.Add(-time.Hour)))
	s.Record(ctx, entry("new", base))

	removed, err := s.Purge(ctx, base.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := s.Get(ctx, "old-1"); !deadletter.IsNotFoundError(err) {
		t.Error("purged entry should be gone")
	}
	if _, err := s.Get(ctx, "new"); err != nil {
		t.Errorf("recent entry should survive purge: %v", err)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(&Config{Path: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Record(ctx, entry("sig-1", time.Now().UTC()))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStore(&Config{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "sig-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Signal.Channel != "scoring" {
		t.Errorf("Channel = %s", got.Signal.Channel)
	}
}
