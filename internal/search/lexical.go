package search

import (
	"context"
	"fmt"

	"github.com/hyperjump/diydoctor/internal/keyword"
	"github.com/hyperjump/diydoctor/internal/models"
)

// LexicalStrategy ranks leaf nodes by term overlap using a stemming analyzer.
type LexicalStrategy struct {
	set   *models.NodeSet
	index keyword.Index
	topK  int
}

// NewLexicalStrategy indexes the leaves of set for language. A topK below 1 defaults to 2.
func NewLexicalStrategy(ctx context.Context, set *models.NodeSet, language string, topK int) (*LexicalStrategy, error) {
	index, err := keyword.NewBleveIndex(language)
	if err != nil {
		return nil, err
	}
	for _, n := range set.Leaves() {
		if err := index.Index(ctx, n.ID, n.Text); err != nil {
			_ = index.Close()
			return nil, err
		}
	}
	return &LexicalStrategy{set: set, index: index, topK: pickTopK(topK, 2)}, nil
}

func (s *LexicalStrategy) Name() string { return "lexical" }

func (s *LexicalStrategy) Kind() Kind { return KindLexical }

// Retrieve returns up to topK leaves matching query terms.
func (s *LexicalStrategy) Retrieve(ctx context.Context, query string, topK int) ([]models.ScoredNode, error) {
	hits, err := s.index.Search(ctx, query, pickTopK(topK, s.topK))
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]models.ScoredNode, 0, len(hits))
	for _, h := range hits {
		if n, ok := s.set.Get(h.ID); ok {
			out = append(out, models.ScoredNode{Node: n, Score: h.Score})
		}
	}
	return out, nil
}

// Close releases the keyword index.
func (s *LexicalStrategy) Close() error {
	return s.index.Close()
}
