// Package pipeline implements the document-evaluation stages that ride on
// the signal bus: chunking, evidence extraction, scoring, aggregation and
// recommendation. Stages never call each other directly; each one publishes
// typed signals about its own outcomes and tunes itself from signals
// published by the others.
package pipeline

import (
	"context"
	"fmt"

	"github.com/docsieve/docsieve/config"
	"github.com/docsieve/docsieve/pkg/bus"
	"github.com/docsieve/docsieve/pkg/logger"
	"github.com/docsieve/docsieve/pkg/signal"
)

// Stage publisher and consumer identities.
const (
	StageChunker     = "stage.chunker"
	StageExtractor   = "stage.extractor"
	StageScorer      = "stage.scorer"
	StageAggregator  = "stage.aggregator"
	StageRecommender = "stage.recommender"
	StageReporter    = "stage.reporter"
)

// Channel names used by the stages.
const (
	ChannelChunking       = "chunking"
	ChannelEvidence       = "evidence"
	ChannelScoring        = "scoring"
	ChannelAggregation    = "aggregation"
	ChannelRecommendation = "recommendation"
	ChannelIntegrity      = "integrity"
)

// Document is one input to the pipeline.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Result is the outcome of evaluating one document.
type Result struct {
	DocumentID     string         `json:"document_id"`
	Chunks         int            `json:"chunks"`
	SkippedChunks  int            `json:"skipped_chunks"`
	Evidence       int            `json:"evidence"`
	Score          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
}

// Pipeline wires the evaluation stages to the bus and runs documents
// through them in order. Construction registers every stage's contracts and
// subscriptions; stages adjust their own parameters from delivered signals
// between documents.
type Pipeline struct {
	bus *bus.BusSystem
	log logger.Logger

	chunker     *Chunker
	extractor   *Extractor
	scorer      *Scorer
	aggregator  *Aggregator
	recommender *Recommender
	reporter    *Reporter

	handles []*bus.SubscriptionHandle
}

// New constructs a pipeline over the bus and registers all stage contracts
// and subscriptions.
func New(b *bus.BusSystem, cfg config.PipelineConfig, log logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.Global()
	}

	p := &Pipeline{
		bus:         b,
		log:         log,
		chunker:     NewChunker(b, cfg.ChunkSize, cfg.ChunkOverlap),
		extractor:   NewExtractor(b, DefaultRules(), cfg.MinEvidencePerChunk),
		scorer:      NewScorer(b, cfg.OutlierDeviation),
		aggregator:  NewAggregator(b),
		recommender: NewRecommender(b, cfg.RecommendThreshold),
		reporter:    NewReporter(log),
	}

	if err := p.registerContracts(); err != nil {
		return nil, fmt.Errorf("register stage contracts: %w", err)
	}
	if err := p.subscribeStages(); err != nil {
		return nil, fmt.Errorf("subscribe stages: %w", err)
	}
	return p, nil
}

func (p *Pipeline) registerContracts() error {
	reg := p.bus.Registry()

	publishers := []*signal.PublicationContract{
		{
			PublisherID:     StageChunker,
			AllowedTypes:    []signal.Type{signal.TypeChunkProduced, signal.TypeChunkSkipped},
			AllowedChannels: []string{ChannelChunking},
		},
		{
			PublisherID:     StageExtractor,
			AllowedTypes:    []signal.Type{signal.TypeEvidenceMatched, signal.TypeEvidenceSparse},
			AllowedChannels: []string{ChannelEvidence},
		},
		{
			PublisherID:     StageScorer,
			AllowedTypes:    []signal.Type{signal.TypeScoreComputed, signal.TypeScoreOutlier, signal.TypeIntegrityFlag},
			AllowedChannels: []string{ChannelScoring, ChannelIntegrity},
		},
		{
			PublisherID:     StageAggregator,
			AllowedTypes:    []signal.Type{signal.TypeAggregateRollup, signal.TypeAggregateDrift},
			AllowedChannels: []string{ChannelAggregation},
		},
		{
			PublisherID:     StageRecommender,
			AllowedTypes:    []signal.Type{signal.TypeRecommendationIssued},
			AllowedChannels: []string{ChannelRecommendation},
		},
	}
	for _, contract := range publishers {
		if err := reg.RegisterPublisher(contract); err != nil {
			return err
		}
	}

	consumers := []*signal.ConsumptionContract{
		{
			ConsumerID:    StageScorer,
			Channels:      []string{ChannelEvidence},
			AcceptedTypes: []signal.Type{signal.TypeEvidenceSparse},
		},
		{
			ConsumerID:    StageAggregator,
			Channels:      []string{ChannelScoring},
			AcceptedTypes: []signal.Type{signal.TypeScoreOutlier},
		},
		{
			ConsumerID:    StageRecommender,
			Channels:      []string{ChannelAggregation},
			AcceptedTypes: []signal.Type{signal.TypeAggregateDrift},
		},
		{
			ConsumerID:    StageReporter,
			Channels:      []string{ChannelRecommendation, ChannelIntegrity},
			AcceptedTypes: []signal.Type{signal.TypeRecommendationIssued, signal.TypeIntegrityFlag},
		},
	}
	for _, contract := range consumers {
		if err := reg.RegisterConsumer(contract); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) subscribeStages() error {
	subs := []struct {
		consumer string
		channel  string
		handler  bus.Consumer
	}{
		{StageScorer, ChannelEvidence, bus.ConsumerFunc(p.scorer.OnSignal)},
		{StageAggregator, ChannelScoring, bus.ConsumerFunc(p.aggregator.OnSignal)},
		{StageRecommender, ChannelAggregation, bus.ConsumerFunc(p.recommender.OnSignal)},
		{StageReporter, ChannelRecommendation, bus.ConsumerFunc(p.reporter.OnSignal)},
		{StageReporter, ChannelIntegrity, bus.ConsumerFunc(p.reporter.OnSignal)},
	}
	for _, s := range subs {
		handle, err := p.bus.Subscribe(s.consumer, s.channel, nil, s.handler)
		if err != nil {
			return err
		}
		p.handles = append(p.handles, handle)
	}
	return nil
}

// Evaluate runs one document through all stages. Stage-to-stage data flows
// directly through return values; cross-cutting observations flow through
// the bus.
func (p *Pipeline) Evaluate(ctx context.Context, doc Document) (*Result, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}

	chunks, skipped, err := p.chunker.Chunk(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}

	evidence, err := p.extractor.Extract(ctx, doc, chunks)
	if err != nil {
		return nil, fmt.Errorf("extract evidence for %s: %w", doc.ID, err)
	}

	scores, err := p.scorer.Score(ctx, doc, chunks, evidence)
	if err != nil {
		return nil, fmt.Errorf("score document %s: %w", doc.ID, err)
	}

	aggregate, err := p.aggregator.Rollup(ctx, doc, scores, evidence)
	if err != nil {
		return nil, fmt.Errorf("aggregate document %s: %w", doc.ID, err)
	}

	recommendation, err := p.recommender.Recommend(ctx, doc, aggregate)
	if err != nil {
		return nil, fmt.Errorf("recommend document %s: %w", doc.ID, err)
	}

	return &Result{
		DocumentID:     doc.ID,
		Chunks:         len(chunks),
		SkippedChunks:  skipped,
		Evidence:       len(evidence),
		Score:          aggregate.Score,
		Recommendation: recommendation,
	}, nil
}

// Report renders the reporter's view of everything delivered so far.
func (p *Pipeline) Report() Report {
	return p.reporter.Build()
}

// Close cancels all stage subscriptions.
func (p *Pipeline) Close() {
	for _, h := range p.handles {
		h.Cancel()
	}
	p.handles = nil
}
