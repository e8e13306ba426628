// Package search runs retrieval strategies over a session's node set and fuses
// their rankings with weighted reciprocal rank fusion.
package search

import (
	"context"

	"github.com/hyperjump/diydoctor/internal/models"
)

// Kind classifies strategies. Lower kinds take priority when fused scores tie.
type Kind int

const (
	KindVector Kind = iota
	KindLexical
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindLexical:
		return "lexical"
	default:
		return "unknown"
	}
}

// Strategy returns ranked nodes for a query. Every returned node belongs to the
// node set the strategy was built over. A topK of zero or less uses the
// strategy's configured default.
type Strategy interface {
	Name() string
	Kind() Kind
	Retrieve(ctx context.Context, query string, topK int) ([]models.ScoredNode, error)
}

// Retriever produces the fused evidence for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.ScoredNode, error)
}

// StrategyRetriever adapts a single strategy to Retriever with its default top_k.
type StrategyRetriever struct {
	Strategy Strategy
}

// Retrieve runs the wrapped strategy.
func (r StrategyRetriever) Retrieve(ctx context.Context, query string) ([]models.ScoredNode, error) {
	return r.Strategy.Retrieve(ctx, query, 0)
}

func pickTopK(topK, fallback int) int {
	if topK > 0 {
		return topK
	}
	return fallback
}
