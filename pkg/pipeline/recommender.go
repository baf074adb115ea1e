package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Recommendation is the final verdict on one document.
type Recommendation struct {
	DocumentID string  `json:"document_id"`
	Recommend  bool    `json:"recommend"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
	Rationale  string  `json:"rationale"`
}

// Recommender issues the final verdict from the document aggregate. It
// consumes aggregate.drift signals and raises its threshold while drift is
// being reported, trading recall for stability.
type Recommender struct {
	bus           *bus.BusSystem
	baseThreshold float64

	mu           sync.Mutex
	driftPenalty float64
}

// NewRecommender creates a recommender.
func NewRecommender(b *bus.BusSystem, threshold float64) *Recommender {
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Recommender{bus: b, baseThreshold: threshold}
}

// OnSignal handles delivered aggregation signals.
func (r *Recommender) OnSignal(_ context.Context, sig *signal.Signal) error {
	if sig.Type != signal.TypeAggregateDrift {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.driftPenalty < 0.15 {
		r.driftPenalty += 0.05
	}
	return nil
}

// Recommend issues and publishes the verdict for one document.
func (r *Recommender) Recommend(ctx context.Context, doc Document, agg Aggregate) (Recommendation, error) {
	r.mu.Lock()
	threshold := r.baseThreshold + r.driftPenalty
	// Penalty decays once consumed, so a single drift burst does not pin the
	// threshold permanently.
	r.driftPenalty /= 2
	r.mu.Unlock()

	rec := Recommendation{
		DocumentID: doc.ID,
		Recommend:  agg.Score >= threshold,
		Score:      agg.Score,
		Threshold:  threshold,
	}
	if rec.Recommend {
		rec.Rationale = fmt.Sprintf("aggregate %.2f meets threshold %.2f over %d chunks", agg.Score, threshold, agg.ChunkCount)
	} else {
		rec.Rationale = fmt.Sprintf("aggregate %.2f below threshold %.2f", agg.Score, threshold)
	}

	value, _ := json.Marshal(rec)
	_, err := r.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeRecommendationIssued,
		Channel: ChannelRecommendation,
		Source:  StageRecommender,
		Context: signal.Context{
			Phase:  "recommendation",
			Scopes: []string{"document"},
		},
		Value:      value,
		Confidence: 0.9,
		Rationale:  rec.Rationale,
		Priority:   signal.PriorityHigh,
	})
	return rec, err
}
