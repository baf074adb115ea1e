package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Rule is one evidence-extraction pattern with its scoring weight.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  float64
}

// Evidence is one rule match inside a chunk.
type Evidence struct {
	Rule       string  `json:"rule"`
	Match      string  `json:"match"`
	ChunkIndex int     `json:"chunk_index"`
	Weight     float64 `json:"weight"`
}

// DefaultRules returns the built-in evidence rules for technical document
// evaluation.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "citation", Pattern: regexp.MustCompile(`\[\d+\]|\([A-Z][a-z]+(?: et al\.)?,? \d{4}\)`), Weight: 0.8},
		{Name: "quantitative", Pattern: regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:%|(?:percent|ms|seconds?|GB|MB)\b)`), Weight: 0.6},
		{Name: "methodology", Pattern: regexp.MustCompile(`(?i)\b(?:we measured|we evaluated|benchmark(?:ed)?|experiment(?:s|al)?)\b`), Weight: 0.7},
		{Name: "hedging", Pattern: regexp.MustCompile(`(?i)\b(?:might|perhaps|possibly|unclear|unknown)\b`), Weight: -0.3},
		{Name: "definition", Pattern: regexp.MustCompile(`(?i)\b(?:is defined as|refers to|denotes)\b`), Weight: 0.4},
	}
}

// Extractor runs the rule set over each chunk and publishes what it found.
type Extractor struct {
	bus         *bus.BusSystem
	rules       []Rule
	minPerChunk int
}

// NewExtractor creates an evidence extractor.
func NewExtractor(b *bus.BusSystem, rules []Rule, minPerChunk int) *Extractor {
	return &Extractor{bus: b, rules: rules, minPerChunk: minPerChunk}
}

// Extract collects evidence from all chunks. Chunks below the minimum
// evidence count are reported as sparse so the scorer can soften their
// contribution.
func (e *Extractor) Extract(ctx context.Context, doc Document, chunks []Chunk) ([]Evidence, error) {
	var all []Evidence
	for _, chunk := range chunks {
		found := 0
		for _, rule := range e.rules {
			for _, match := range rule.Pattern.FindAllString(chunk.Text, -1) {
				all = append(all, Evidence{
					Rule:       rule.Name,
					Match:      match,
					ChunkIndex: chunk.Index,
					Weight:     rule.Weight,
				})
				found++
			}
		}

		if found > 0 {
			if err := e.publishMatched(ctx, doc, chunk.Index, found); err != nil {
				return nil, err
			}
		}
		if found < e.minPerChunk {
			if err := e.publishSparse(ctx, doc, chunk.Index, found); err != nil {
				return nil, err
			}
		}
	}
	return all, nil
}

func (e *Extractor) publishMatched(ctx context.Context, doc Document, chunkIndex, count int) error {
	value, _ := json.Marshal(map[string]any{
		"document_id": doc.ID,
		"chunk_index": chunkIndex,
		"matches":     count,
	})
	_, err := e.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeEvidenceMatched,
		Channel: ChannelEvidence,
		Source:  StageExtractor,
		Context: signal.Context{
			Phase:  "extraction",
			Scopes: []string{"chunk", "evidence"},
		},
		Value:      value,
		Confidence: 0.9,
		Priority:   signal.PriorityNormal,
	})
	return err
}

func (e *Extractor) publishSparse(ctx context.Context, doc Document, chunkIndex, count int) error {
	value, _ := json.Marshal(map[string]any{
		"document_id": doc.ID,
		"chunk_index": chunkIndex,
		"matches":     count,
	})
	_, err := e.bus.Publish(ctx, &signal.Signal{
		Type:    signal.TypeEvidenceSparse,
		Channel: ChannelEvidence,
		Source:  StageExtractor,
		Context: signal.Context{
			Phase:  "extraction",
			Scopes: []string{"chunk", "evidence"},
		},
		Value:      value,
		Confidence: 0.9,
		Rationale:  fmt.Sprintf("chunk yielded %d matches", count),
		Priority:   signal.PriorityNormal,
	})
	return err
}
