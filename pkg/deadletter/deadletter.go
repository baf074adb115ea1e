// Package deadletter provides retention of rejected and failed signals.
//
// Entries stay until an explicit purge or a successful replay. Replay is
// owned by the bus: the store only hands entries back, and the bus re-admits
// them through the full gate pipeline.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/docsieve/docsieve/pkg/signal"
)

// Entry is one retained signal together with the reason it landed here.
type Entry struct {
	// Signal is the rejected or failed signal.
	Signal *signal.Signal `json:"signal"`

	// Reason classifies the rejection or failure.
	Reason signal.ReasonCode `json:"reason"`

	// FailedAt is when the entry was recorded.
	FailedAt time.Time `json:"failed_at"`

	// AttemptCount is the number of delivery attempts made before
	// dead-lettering. Zero for gate rejections.
	AttemptCount int `json:"attempt_count"`

	// Consumer is the consumer whose delivery failed, empty for gate
	// rejections.
	Consumer string `json:"consumer,omitempty"`
}

// Filter selects entries for listing.
type Filter struct {
	// Channel restricts entries to one channel. Empty matches all.
	Channel string

	// Reason restricts entries to one reason code. Empty matches all.
	Reason signal.ReasonCode

	// Source restricts entries to one publisher. Empty matches all.
	Source string

	// Since restricts entries to those recorded at or after this time.
	Since time.Time

	// Limit caps the number of returned entries. Zero means no cap.
	Limit int
}

// Matches reports whether the entry passes the filter.
func (f *Filter) Matches(e *Entry) bool {
	if f.Channel != "" && e.Signal.Channel != f.Channel {
		return false
	}
	if f.Reason != "" && e.Reason != f.Reason {
		return false
	}
	if f.Source != "" && e.Signal.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && e.FailedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store retains dead-letter entries.
type Store interface {
	// Record stores one entry.
	Record(ctx context.Context, entry *Entry) error

	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, filter *Filter) ([]*Entry, error)

	// Get returns the entry for a signal ID.
	Get(ctx context.Context, signalID string) (*Entry, error)

	// Remove deletes the entry for a signal ID. Used by the bus after a
	// successful replay admission.
	Remove(ctx context.Context, signalID string) error

	// Purge deletes entries recorded before the cutoff and returns how many
	// were removed.
	Purge(ctx context.Context, olderThan time.Time) (int, error)

	// Len returns the number of retained entries.
	Len(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}

// NotFoundError indicates no entry exists for the signal ID.
type NotFoundError struct {
	SignalID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dead letter entry not found: %s", e.SignalID)
}

// IsNotFoundError reports whether err is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// StoreUnavailableError indicates the backing store cannot be reached.
type StoreUnavailableError struct {
	Cause error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("dead letter store unavailable: %v", e.Cause)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Cause
}
