package search

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// WeightedStrategy pairs a strategy with its fusion weight.
type WeightedStrategy struct {
	Strategy Strategy
	Weight   float64
}

// FusionRetriever runs strategies concurrently for every query variant and
// fuses all rankings in one pass.
type FusionRetriever struct {
	strategies []WeightedStrategy
	constant   float64
	topK       int
	numQueries int
	expander   Expander
	logger     *zap.Logger
}

// FusionOption configures a FusionRetriever.
type FusionOption func(*FusionRetriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) FusionOption {
	return func(r *FusionRetriever) { r.logger = l }
}

// WithTopK sets the fused result size.
func WithTopK(k int) FusionOption {
	return func(r *FusionRetriever) { r.topK = k }
}

// WithRRFConstant sets the rank dampening constant.
func WithRRFConstant(c float64) FusionOption {
	return func(r *FusionRetriever) { r.constant = c }
}

// WithExpansion enables query expansion to numQueries variants.
func WithExpansion(e Expander, numQueries int) FusionOption {
	return func(r *FusionRetriever) {
		r.expander = e
		r.numQueries = numQueries
	}
}

// NewFusionRetriever validates that at least two strategies are given and that
// their weights are non-negative and sum to 1.
func NewFusionRetriever(strategies []WeightedStrategy, opts ...FusionOption) (*FusionRetriever, error) {
	if len(strategies) < 2 {
		return nil, errors.New("fusion needs at least two strategies")
	}
	var sum float64
	for _, s := range strategies {
		if s.Strategy == nil {
			return nil, errors.New("nil strategy")
		}
		if s.Weight < 0 {
			return nil, fmt.Errorf("negative weight for %s", s.Strategy.Name())
		}
		sum += s.Weight
	}
	if math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("strategy weights must sum to 1, got %g", sum)
	}
	r := &FusionRetriever{
		strategies: append([]WeightedStrategy(nil), strategies...),
		constant:   DefaultRRFConstant,
		topK:       4,
		numQueries: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.LoggerOrNop(r.logger)
	return r, nil
}

// Retrieve returns the fused, truncated evidence for query. It waits for every
// strategy on every variant; any failure fails the whole retrieval.
func (r *FusionRetriever) Retrieve(ctx context.Context, query string) ([]models.ScoredNode, error) {
	queries := []string{query}
	if r.expander != nil && r.numQueries > 1 {
		expanded, err := r.expander.Expand(ctx, query, r.numQueries)
		if err != nil {
			return nil, err
		}
		queries = expanded
	}

	results := make([][]models.ScoredNode, len(queries)*len(r.strategies))
	g, gctx := errgroup.WithContext(ctx)
	for qi, q := range queries {
		q := q
		for si, s := range r.strategies {
			s := s
			slot := qi*len(r.strategies) + si
			g.Go(func() error {
				nodes, err := s.Strategy.Retrieve(gctx, q, 0)
				if err != nil {
					return fmt.Errorf("%s retrieval failed: %w", s.Strategy.Name(), err)
				}
				results[slot] = nodes
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lists := make([]RankedList, len(results))
	for i, nodes := range results {
		s := r.strategies[i%len(r.strategies)]
		lists[i] = RankedList{Kind: s.Strategy.Kind(), Weight: s.Weight, Nodes: nodes}
	}
	fused := Fuse(lists, r.constant, r.topK)
	r.logger.Debug("fused retrieval",
		zap.Int("variants", len(queries)),
		zap.Int("strategies", len(r.strategies)),
		zap.Int("results", len(fused)))
	return fused, nil
}
