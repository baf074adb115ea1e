package deadletter

import (
	"testing"
	"time"

	"github.com/docsieve/docsieve/pkg/signal"
)

func filterEntry() *Entry {
	return &Entry{
		Signal: &signal.Signal{
			ID:      "sig-1",
			Type:    signal.TypeScoreComputed,
			Channel: "scoring",
			Source:  "stage.scorer",
		},
		Reason:   signal.ReasonValueBelowThreshold,
		FailedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFilterMatches(t *testing.T) {
	entry := filterEntry()

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"channel match", Filter{Channel: "scoring"}, true},
		{"channel mismatch", Filter{Channel: "integrity"}, false},
		{"reason match", Filter{Reason: signal.ReasonValueBelowThreshold}, true},
		{"reason mismatch", Filter{Reason: signal.ReasonScopeDenied}, false},
		{"source match", Filter{Source: "stage.scorer"}, true},
		{"source mismatch", Filter{Source: "stage.chunker"}, false},
		{"since before", Filter{Since: entry.FailedAt.Add(-time.Hour)}, true},
		{"since exact", Filter{Since: entry.FailedAt}, true},
		{"since after", Filter{Since: entry.FailedAt.Add(time.Hour)}, false},
		{"combined", Filter{Channel: "scoring", Reason: signal.ReasonValueBelowThreshold}, true},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(entry); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	if !IsNotFoundError(&NotFoundError{SignalID: "x"}) {
		t.Error("IsNotFoundError should match NotFoundError")
	}
	if IsNotFoundError(&StoreUnavailableError{}) {
		t.Error("IsNotFoundError should not match other errors")
	}
}
