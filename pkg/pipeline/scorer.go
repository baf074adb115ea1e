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

// ChunkScore is the weighted evidence score of one chunk, clamped to [0, 1].
type ChunkScore struct {
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Evidence   int     `json:"evidence"`
}

// Scorer turns per-chunk evidence into scores. It consumes evidence.sparse
// signals to learn which chunks deserve a softened contribution, and flags
// scores far from the running mean as outliers.
type Scorer struct {
	bus              *bus.BusSystem
	outlierDeviation float64

	mu     sync.Mutex
	sparse map[string]map[int]bool

	// Running mean over all scored chunks, across documents.
	scoredCount int
	scoredSum   float64
}

// NewScorer creates a scorer.
func NewScorer(b *bus.BusSystem, outlierDeviation float64) *Scorer {
	if outlierDeviation <= 0 {
		outlierDeviation = 0.35
	}
	return &Scorer{
		bus:              b,
		outlierDeviation: outlierDeviation,
		sparse:           make(map[string]map[int]bool),
	}
}

// OnSignal handles delivered evidence signals. Sparse chunks get their
// scores halved when the scorer reaches them.
func (s *Scorer) OnSignal(_ context.Context, sig *signal.Signal) error {
	if sig.Type != signal.TypeEvidenceSparse {
		return nil
	}
	var payload struct {
		DocumentID string `json:"document_id"`
		ChunkIndex int    `json:"chunk_index"`
	}
	if err := json.Unmarshal(sig.Value, &payload); err != nil {
		return fmt.Errorf("decode sparse evidence payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sparse[payload.DocumentID] == nil {
		s.sparse[payload.DocumentID] = make(map[int]bool)
	}
	s.sparse[payload.DocumentID][payload.ChunkIndex] = true
	return nil
}

// Score computes per-chunk weighted sums and publishes the outcomes.
func (s *Scorer) Score(ctx context.Context, doc Document, chunks []Chunk, evidence []Evidence) ([]ChunkScore, error) {
	byChunk := make(map[int][]Evidence)
	for _, ev := range evidence {
		byChunk[ev.ChunkIndex] = append(byChunk[ev.ChunkIndex], ev)
	}

	s.mu.Lock()
	sparseChunks := s.sparse[doc.ID]
	s.mu.Unlock()

	var scores []ChunkScore
	for _, chunk := range chunks {
		evs := byChunk[chunk.Index]
		raw := 0.0
		for _, ev := range evs {
			raw += ev.Weight
		}
		// Squash the unbounded weighted sum into [0, 1].
		score := 1.0 / (1.0 + math.Exp(-raw))
		if sparseChunks[chunk.Index] {
			score /= 2
		}

		cs := ChunkScore{ChunkIndex: chunk.Index, Score: score, Evidence: len(evs)}
		scores = append(scores, cs)

		if err := s.publishScore(ctx, doc, cs); err != nil {
			return nil, err
		}

		s.mu.Lock()
		mean := 0.5
		if s.scoredCount > 0 {
			mean = s.scoredSum / float64(s.scoredCount)
		}
		s.scoredCount++
		s.scoredSum += score
		s.mu.Unlock()

		if math.Abs(score-mean) >= s.outlierDeviation {
			if err := s.publishOutlier(ctx, doc, cs, mean); err != nil {
				return nil, err
			}
		}
	}
	return scores, nil
}

func (s *Scorer) publishScore(ctx context.Context, doc Document, cs ChunkScore) error {
	value, _ := json.Marshal(map[string]any{
		"document_id": doc.ID,
		"chunk_index": cs.ChunkIndex,
		"score":       cs.Score,
		"evidence":    cs.Evidence,
	})
	_, err := s.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeScoreComputed,
		Channel: ChannelScoring,
		Source:  StageScorer,
		Context: signal.Context{
			Phase:  "scoring",
			Scopes: []string{"chunk", "score"},
		},
		Value:      value,
		Confidence: 0.8,
		Priority:   signal.PriorityNormal,
	})
	return err
}

func (s *Scorer) publishOutlier(ctx context.Context, doc Document, cs ChunkScore, mean float64) error {
	value, _ := json.Marshal(map[string]any{
		"document_id": doc.ID,
		"chunk_index": cs.ChunkIndex,
		"score":       cs.Score,
		"mean":        mean,
	})
	_, err := s.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeScoreOutlier,
		Channel: ChannelScoring,
		Source:  StageScorer,
		Context: signal.Context{
			Phase:  "scoring",
			Scopes: []string{"chunk", "score"},
		},
		Value:      value,
		Confidence: 0.7,
		Rationale:  fmt.Sprintf("score %.2f deviates from running mean %.2f", cs.Score, mean),
		Priority:   signal.PriorityHigh,
	})
	return err
}

// FlagIntegrity publishes a cross-stage consistency concern on the
// integrity channel.
func (s *Scorer) FlagIntegrity(ctx context.Context, doc Document, rationale string) error {
	value, _ := json.Marshal(map[string]any{"document_id": doc.ID})
	_, err := s.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeIntegrityFlag,
		Channel: ChannelIntegrity,
		Source:  StageScorer,
		Context: signal.Context{
			Phase:  "scoring",
			Scopes: []string{"document"},
		},
		Value:      value,
		Confidence: 0.9,
		Rationale:  rationale,
		Priority:   signal.PriorityHigh,
	})
	return err
}
