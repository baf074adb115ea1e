package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Aggregate is the document-level rollup of chunk scores.
type Aggregate struct {
	DocumentID    string  `json:"document_id"`
	Score         float64 `json:"score"`
	ChunkCount    int     `json:"chunk_count"`
	EvidenceCount int     `json:"evidence_count"`
	Discounted    int     `json:"discounted"`
}

// Aggregator rolls chunk scores up to the document level. It consumes
// score.outlier signals and discounts flagged chunks to half weight in the
// rollup.
type Aggregator struct {
	bus *bus.BusSystem

	mu       sync.Mutex
	outliers map[string]map[int]bool
	lastMean float64
	hasMean  bool
}

// NewAggregator creates an aggregator.
func NewAggregator(b *bus.BusSystem) *Aggregator {
	return &Aggregator{
		bus:      b,
		outliers: make(map[string]map[int]bool),
	}
}

// OnSignal handles delivered scoring signals.
func (a *Aggregator) OnSignal(_ context.Context, sig *signal.Signal) error {
	if sig.Type != signal.TypeScoreOutlier {
		return nil
	}
	var payload struct {
		DocumentID string `json:"document_id"`
		ChunkIndex int    `json:"chunk_index"`
	}
	if err := json.Unmarshal(sig.Value, &payload); err != nil {
		return fmt.Errorf("decode outlier payload: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outliers[payload.DocumentID] == nil {
		a.outliers[payload.DocumentID] = make(map[int]bool)
	}
	a.outliers[payload.DocumentID][payload.ChunkIndex] = true
	return nil
}

// Rollup computes the document aggregate and publishes it. A document whose
// aggregate drifts far from the previous document's is additionally
// reported as drift.
func (a *Aggregator) Rollup(ctx context.Context, doc Document, scores []ChunkScore, evidence []Evidence) (Aggregate, error) {
	a.mu.Lock()
	outliers := a.outliers[doc.ID]
	a.mu.Unlock()

	var weightSum, scoreSum float64
	discounted := 0
	for _, cs := range scores {
		weight := 1.0
		if outliers[cs.ChunkIndex] {
			weight = 0.5
			discounted++
		}
		weightSum += weight
		scoreSum += cs.Score * weight
	}

	agg := Aggregate{
		DocumentID:    doc.ID,
		ChunkCount:    len(scores),
		EvidenceCount: len(evidence),
		Discounted:    discounted,
	}
	if weightSum > 0 {
		agg.Score = scoreSum / weightSum
	}

	if err := a.publishRollup(ctx, agg); err != nil {
		return agg, err
	}

	a.mu.Lock()
	drift := a.hasMean && math.Abs(agg.Score-a.lastMean) >= 0.3
	prev := a.lastMean
	a.lastMean = agg.Score
	a.hasMean = true
	a.mu.Unlock()

	if drift {
		if err := a.publishDrift(ctx, agg, prev); err != nil {
			return agg, err
		}
	}
	return agg, nil
}

func (a *Aggregator) publishRollup(ctx context.Context, agg Aggregate) error {
	value, _ := json.Marshal(agg)
	_, err := a.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeAggregateRollup,
		Channel: ChannelAggregation,
		Source:  StageAggregator,
		Context: signal.Context{
			Phase:  "aggregation",
			Scopes: []string{"document", "score"},
		},
		Value:      value,
		Confidence: 0.8,
		Priority:   signal.PriorityNormal,
	})
	return err
}

func (a *Aggregator) publishDrift(ctx context.Context, agg Aggregate, prev float64) error {
	value, _ := json.Marshal(map[string]any{
		"document_id": agg.DocumentID,
		"score":       agg.Score,
		"previous":    prev,
	})
	_, err := a.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeAggregateDrift,
		Channel: ChannelAggregation,
		Source:  StageAggregator,
		Context: signal.Context{
			Phase:  "aggregation",
			Scopes: []string{"document", "score"},
		},
		Value:      value,
		Confidence: 0.7,
		Rationale:  fmt.Sprintf("aggregate %.2f drifted from previous %.2f", agg.Score, prev),
		Priority:   signal.PriorityHigh,
	})
	return err
}
