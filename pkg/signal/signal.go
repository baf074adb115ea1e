// Package signal defines the typed message model for the evaluation bus.
//
// A Signal is an immutable observation published by one pipeline stage and
// consumed by others. Corrections are published as new signals; a signal is
// never edited in place. Identity is a content hash that deliberately
// excludes wall-clock and telemetry fields, so two signals produced from the
// same content at different times are content-identical.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// SchemaVersionV1 is the current signal schema version.
const SchemaVersionV1 = "v1"

// Type identifies a kind of observation. The vocabulary is closed: stages
// publish only types declared in their publication contract.
type Type string

// Signal type vocabulary for the document-evaluation pipeline.
const (
	// TypeChunkProduced reports a document chunk produced by the chunker.
	TypeChunkProduced Type = "chunk.produced"
	// TypeChunkSkipped reports a chunk skipped as non-evaluable.
	TypeChunkSkipped Type = "chunk.skipped"
	// TypeEvidenceMatched reports evidence extracted from a chunk.
	TypeEvidenceMatched Type = "evidence.matched"
	// TypeEvidenceSparse reports a chunk that yielded little or no evidence.
	TypeEvidenceSparse Type = "evidence.sparse"
	// TypeScoreComputed reports a per-criterion score.
	TypeScoreComputed Type = "score.computed"
	// TypeScoreOutlier reports a score outside the expected band.
	TypeScoreOutlier Type = "score.outlier"
	// TypeAggregateRollup reports a section or document level rollup.
	TypeAggregateRollup Type = "aggregate.rollup"
	// TypeAggregateDrift reports disagreement between aggregation levels.
	TypeAggregateDrift Type = "aggregate.drift"
	// TypeRecommendationIssued reports a final recommendation.
	TypeRecommendationIssued Type = "recommendation.issued"
	// TypeIntegrityFlag reports a cross-stage consistency concern.
	TypeIntegrityFlag Type = "integrity.flag"
)

// Priority orders signals within a channel queue.
type Priority int

const (
	// PriorityLow is for advisory signals that may be displaced under load.
	PriorityLow Priority = iota
	// PriorityNormal is the default.
	PriorityNormal
	// PriorityHigh signals may displace queued low-priority signals when a
	// channel is saturated.
	PriorityHigh
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority parses a priority string, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// MarshalJSON encodes the priority as its string form.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its string form.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePriority(s)
	return nil
}

// Context carries the pipeline phase and domain-scope tags of a signal.
// The bus treats scope tags as opaque; gate 3 matches them against consumer
// capability tags.
type Context struct {
	// Phase is the pipeline phase that produced the signal.
	Phase string `json:"phase"`

	// Scopes are domain-scope tags describing the payload shape.
	Scopes []string `json:"scopes,omitempty"`
}

// Signal is an immutable, versioned, typed message.
//
// CreatedAt is telemetry only: it never participates in identity or
// equality of the signal content.
type Signal struct {
	// ID is the unique signal identifier, producer-assigned or bus-assigned.
	ID string `json:"id"`

	// Type is the signal type from the closed vocabulary.
	Type Type `json:"type"`

	// Channel is the named channel the signal targets.
	Channel string `json:"channel"`

	// Context is the phase identifier plus domain-scope tags.
	Context Context `json:"context"`

	// Source is the publisher identity.
	Source string `json:"source"`

	// Value is the opaque payload; the bus never inspects it.
	Value json.RawMessage `json:"value,omitempty"`

	// Confidence is the publisher's confidence in the observation (0.0-1.0).
	// A missing confidence is zero and fails any non-zero value threshold.
	Confidence float64 `json:"confidence"`

	// Rationale is optional free text explaining the observation.
	Rationale string `json:"rationale,omitempty"`

	// Priority orders the signal within its channel queue.
	Priority Priority `json:"priority"`

	// CreatedAt is the publish wall-clock time. Telemetry only.
	CreatedAt time.Time `json:"created_at"`

	// SchemaVersion is the signal schema version.
	SchemaVersion string `json:"schema_version"`
}

// identityPayload is the canonical serialization used for content hashing.
// Field order is fixed and scope tags are sorted so that the hash is stable.
// CreatedAt, ID and Priority are excluded: the first two are telemetry or
// bus-assigned metadata, and priority is a routing hint, not content.
type identityPayload struct {
	Type          Type            `json:"type"`
	Channel       string          `json:"channel"`
	Phase         string          `json:"phase"`
	Scopes        []string        `json:"scopes"`
	Source        string          `json:"source"`
	Value         json.RawMessage `json:"value"`
	Confidence    float64         `json:"confidence"`
	Rationale     string          `json:"rationale"`
	SchemaVersion string          `json:"schema_version"`
}

// Identity returns the content hash of the signal as a hex string.
func (s *Signal) Identity() string {
	scopes := make([]string, len(s.Context.Scopes))
	copy(scopes, s.Context.Scopes)
	sort.Strings(scopes)

	payload := identityPayload{
		Type:          s.Type,
		Channel:       s.Channel,
		Phase:         s.Context.Phase,
		Scopes:        scopes,
		Source:        s.Source,
		Value:         s.Value,
		Confidence:    s.Confidence,
		Rationale:     s.Rationale,
		SchemaVersion: s.SchemaVersion,
	}

	// Marshal of a flat struct with fixed field order cannot fail.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a shallow copy with its own scope slice and value bytes, so
// that the bus can hand signals to history buffers and stores without
// aliasing publisher-owned memory.
func (s *Signal) Clone() *Signal {
	dup := *s
	if s.Context.Scopes != nil {
		dup.Context.Scopes = append([]string(nil), s.Context.Scopes...)
	}
	if s.Value != nil {
		dup.Value = append(json.RawMessage(nil), s.Value...)
	}
	return &dup
}

// Full returns the full serialization of the signal, including telemetry
// fields, for storage and logging.
func (s *Signal) Full() ([]byte, error) {
	return json.Marshal(s)
}
