package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Chunk is one evaluable slice of a document.
type Chunk struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"-"`
}

// Chunker splits documents into overlapping rune windows. Whitespace-only
// windows are skipped and reported rather than silently dropped.
type Chunker struct {
	bus     *bus.BusSystem
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap.
func NewChunker(b *bus.BusSystem, size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{bus: b, size: size, overlap: overlap}
}

// Chunk splits the document and publishes one signal per produced or
// skipped chunk. Returns the evaluable chunks and the skipped count.
func (c *Chunker) Chunk(ctx context.Context, doc Document) ([]Chunk, int, error) {
	runes := []rune(doc.Text)
	step := c.size - c.overlap

	var chunks []Chunk
	skipped := 0
	index := 0
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		text := string(runes[start:end])

		if strings.TrimSpace(text) == "" {
			skipped++
			if err := c.publish(ctx, doc, signal.TypeChunkSkipped, index, start, end, 1.0, "whitespace-only window"); err != nil {
				return nil, skipped, err
			}
		} else {
			chunks = append(chunks, Chunk{Index: index, Start: start, End: end, Text: text})
			if err := c.publish(ctx, doc, signal.TypeChunkProduced, index, start, end, 1.0, ""); err != nil {
				return nil, skipped, err
			}
		}
		index++

		if end == len(runes) {
			break
		}
	}
	return chunks, skipped, nil
}

func (c *Chunker) publish(ctx context.Context, doc Document, t signal.Type, index, start, end int, confidence float64, rationale string) error {
	value, _ := json.Marshal(map[string]any{
		"document_id": doc.ID,
		"chunk_index": index,
		"start":       start,
		"end":         end,
	})
	_, err := c.bus.Publish(ctx, &signal.Signal{
		Type:    t,
		Channel: ChannelChunking,
		Source:  StageChunker,
		Context: signal.Context{
			Phase:  "chunking",
			Scopes: []string{"document", "chunk"},
		},
		Value:      value,
		Confidence: confidence,
		Rationale:  rationale,
		Priority:   signal.PriorityLow,
	})
	return err
}
