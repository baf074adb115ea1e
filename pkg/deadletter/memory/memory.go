// Package memory provides an in-memory dead-letter store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/docsieve/docsieve/pkg/deadletter"
)

// Store is a mutex-guarded in-memory dead-letter store. Entries are kept in
// arrival order; an index by signal ID serves point lookups.
type Store struct {
	mu      sync.RWMutex
	entries []*deadletter.Entry
	byID    map[string]*deadletter.Entry
	maxSize int
}

// NewStore creates an in-memory store. maxSize caps retained entries;
// when the cap is reached the oldest entry is evicted. Zero means unbounded.
func NewStore(maxSize int) *Store {
	return &Store{
		byID:    make(map[string]*deadletter.Entry),
		maxSize: maxSize,
	}
}

// Record stores one entry, evicting the oldest if the cap is reached.
// Re-recording the same signal ID replaces the previous entry.
func (s *Store) Record(_ context.Context, entry *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entry.Signal.ID
	if _, exists := s.byID[id]; exists {
		s.removeLocked(id)
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		oldest := s.entries[0]
		s.removeLocked(oldest.Signal.ID)
	}

	s.entries = append(s.entries, entry)
	s.byID[id] = entry
	return nil
}

// List returns entries matching the filter, oldest first.
func (s *Store) List(_ context.Context, filter *deadletter.Filter) ([]*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*deadletter.Entry
	for _, e := range s.entries {
		if filter != nil && !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Get returns the entry for a signal ID.
func (s *Store) Get(_ context.Context, signalID string) (*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[signalID]
	if !ok {
		return nil, &deadletter.NotFoundError{SignalID: signalID}
	}
	return entry, nil
}

// Remove deletes the entry for a signal ID.
func (s *Store) Remove(_ context.Context, signalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[signalID]; !ok {
		return &deadletter.NotFoundError{SignalID: signalID}
	}
	s.removeLocked(signalID)
	return nil
}

// Purge deletes entries recorded before the cutoff.
func (s *Store) Purge(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.FailedAt.Before(olderThan) {
			delete(s.byID, e.Signal.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Zero trailing slots so evicted entries can be collected.
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return removed, nil
}

// Len returns the number of retained entries.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// removeLocked removes one entry by ID. Caller holds the write lock.
func (s *Store) removeLocked(signalID string) {
	delete(s.byID, signalID)
	for i, e := range s.entries {
		if e.Signal.ID == signalID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}
