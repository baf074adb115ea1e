package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

// ReportEntry is one delivered recommendation in the report.
type ReportEntry struct {
	DocumentID string  `json:"document_id"`
	Recommend  bool    `json:"recommend"`
	Score      float64 `json:"score"`
	Rationale  string  `json:"rationale"`
}

// IntegrityEntry is one delivered integrity flag in the report.
type IntegrityEntry struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Rationale  string `json:"rationale"`
}

// Report is the reporter's rollup of everything delivered so far.
type Report struct {
	Recommendations []ReportEntry    `json:"recommendations"`
	IntegrityFlags  []IntegrityEntry `json:"integrity_flags"`
	Recommended     int              `json:"recommended"`
	Rejected        int              `json:"rejected"`
}

// Summary renders a one-line human-readable digest.
func (r Report) Summary() string {
	return fmt.Sprintf("%d recommended, %d rejected, %d integrity flags",
		r.Recommended, r.Rejected, len(r.IntegrityFlags))
}

// Reporter collects delivered recommendation and integrity signals into a
// report. It is the only stage that consumes across two channels.
type Reporter struct {
	log logger.Logger

	mu              sync.Mutex
	recommendations []ReportEntry
	integrityFlags  []IntegrityEntry
}

// NewReporter creates a reporter.
func NewReporter(log logger.Logger) *Reporter {
	if log == nil {
		log = logger.Global()
	}
	return &Reporter{log: log}
}

// OnSignal handles delivered recommendation and integrity signals.
func (r *Reporter) OnSignal(_ context.Context, sig *signal.Signal) error {
	switch sig.Type {
	case signal.TypeRecommendationIssued:
		var rec Recommendation
		if err := json.Unmarshal(sig.Value, &rec); err != nil {
			return fmt.Errorf("decode recommendation payload: %w", err)
		}
		r.mu.Lock()
		r.recommendations = append(r.recommendations, ReportEntry{
			DocumentID: rec.DocumentID,
			Recommend:  rec.Recommend,
			Score:      rec.Score,
			Rationale:  rec.Rationale,
		})
		r.mu.Unlock()
		r.log.Info("recommendation recorded",
			"document_id", rec.DocumentID,
			"recommend", rec.Recommend,
			"score", rec.Score)

	case signal.TypeIntegrityFlag:
		var payload struct {
			DocumentID string `json:"document_id"`
		}
		if err := json.Unmarshal(sig.Value, &payload); err != nil {
			return fmt.Errorf("decode integrity payload: %w", err)
		}
		r.mu.Lock()
		r.integrityFlags = append(r.integrityFlags, IntegrityEntry{
			DocumentID: payload.DocumentID,
			Source:     sig.Source,
			Rationale:  sig.Rationale,
		})
		r.mu.Unlock()
		r.log.Warn("integrity flag recorded",
			"document_id", payload.DocumentID,
			"source", sig.Source,
			"rationale", sig.Rationale)
	}
	return nil
}

// Build snapshots the collected entries into a report.
func (r *Reporter) Build() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := Report{
		Recommendations: append([]ReportEntry(nil), r.recommendations...),
		IntegrityFlags:  append([]IntegrityEntry(nil), r.integrityFlags...),
	}
	for _, entry := range report.Recommendations {
		if entry.Recommend {
			report.Recommended++
		} else {
			report.Rejected++
		}
	}
	return report
}
