// Package badger provides a Badger-backed dead-letter store.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/docsieve/docsieve/pkg/deadletter"
)

// Config holds configuration for the Badger dead-letter store.
type Config struct {
	Path             string
	SyncWrites       bool
	ValueLogFileSize int64
}

// Store implements deadletter.Store on Badger. Entries are keyed by signal
// ID; a time-ordered index key supports listing oldest-first and purging by
// age without a full value scan.
type Store struct {
	db *badger.DB
}

// NewStore opens (or creates) the Badger store at the configured path.
func NewStore(config *Config) (*Store, error) {
	opts := badger.DefaultOptions(config.Path)
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &deadletter.StoreUnavailableError{Cause: err}
	}
	return &Store{db: db}, nil
}

func entryKey(signalID string) []byte {
	return []byte(fmt.Sprintf("dl:entry:%s", signalID))
}

func timeIndexKey(failedAt time.Time, signalID string) []byte {
	return []byte(fmt.Sprintf("dl:index:time:%020d:%s", failedAt.UnixNano(), signalID))
}

func timeIndexPrefix() []byte {
	return []byte("dl:index:time:")
}

// Record stores one entry and its time-index key. Re-recording a signal ID
// replaces the previous entry and retires its old index key, so the index
// never holds two keys for one entry.
func (s *Store) Record(_ context.Context, entry *deadletter.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if prev, err := s.getInTxn(txn, entry.Signal.ID); err == nil {
			if err := txn.Delete(timeIndexKey(prev.FailedAt, entry.Signal.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(entryKey(entry.Signal.ID), data); err != nil {
			return err
		}
		return txn.Set(timeIndexKey(entry.FailedAt, entry.Signal.ID), []byte(entry.Signal.ID))
	})
}

// List returns entries matching the filter, oldest first, by walking the
// time index.
func (s *Store) List(_ context.Context, filter *deadletter.Filter) ([]*deadletter.Entry, error) {
	var entries []*deadletter.Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = timeIndexPrefix()

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var signalID string
			if err := it.Item().Value(func(val []byte) error {
				signalID = string(val)
				return nil
			}); err != nil {
				return err
			}

			entry, err := s.getInTxn(txn, signalID)
			if err != nil {
				// Orphaned index key; the entry was removed.
				continue
			}
			if filter != nil && !filter.Matches(entry) {
				continue
			}
			entries = append(entries, entry)
			if filter != nil && filter.Limit > 0 && len(entries) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the entry for a signal ID.
func (s *Store) Get(_ context.Context, signalID string) (*deadletter.Entry, error) {
	var entry *deadletter.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = s.getInTxn(txn, signalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) getInTxn(txn *badger.Txn, signalID string) (*deadletter.Entry, error) {
	item, err := txn.Get(entryKey(signalID))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, &deadletter.NotFoundError{SignalID: signalID}
		}
		return nil, err
	}

	var entry deadletter.Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal dead letter entry: %w", err)
	}
	return &entry, nil
}

// Remove deletes the entry and its index key.
func (s *Store) Remove(_ context.Context, signalID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry, err := s.getInTxn(txn, signalID)
		if err != nil {
			return err
		}
		if err := txn.Delete(entryKey(signalID)); err != nil {
			return err
		}
		return txn.Delete(timeIndexKey(entry.FailedAt, signalID))
	})
}

// Purge deletes entries recorded before the cutoff.
func (s *Store) Purge(_ context.Context, olderThan time.Time) (int, error) {
	cutoff := fmt.Sprintf("dl:index:time:%020d", olderThan.UnixNano())
	removed := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = timeIndexPrefix()
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()) >= cutoff {
				break
			}

			var signalID string
			if err := item.Value(func(val []byte) error {
				signalID = string(val)
				return nil
			}); err != nil {
				return err
			}

			if err := txn.Delete(entryKey(signalID)); err != nil {
				return err
			}
			if err := txn.Delete(item.KeyCopy(nil)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Len returns the number of retained entries.
func (s *Store) Len(_ context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = timeIndexPrefix()
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close runs a value-log GC pass and closes the database.
func (s *Store) Close() error {
	if err := s.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
		// GC failure is not fatal on close.
		_ = err
	}
	return s.db.Close()
}
