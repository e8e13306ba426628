package search

import (
	"context"
	"fmt"

	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/internal/vector"
)

// DenseStrategy ranks leaf nodes by cosine similarity between the query
// embedding and each node's embedding.
type DenseStrategy struct {
	set      *models.NodeSet
	embedder embedding.Embedder
	index    vector.Index
	topK     int
}

// NewDenseStrategy indexes the leaves of set. A topK below 1 defaults to 1.
func NewDenseStrategy(ctx context.Context, set *models.NodeSet, e embedding.Embedder, topK int) (*DenseStrategy, error) {
	index, err := vector.NewMemoryIndex(e.Dimensions())
	if err != nil {
		return nil, err
	}
	leaves := set.Leaves()
	ids := make([]string, len(leaves))
	vectors := make([][]float32, len(leaves))
	for i, n := range leaves {
		ids[i] = n.ID
		vectors[i] = n.Embedding
	}
	if err := index.Add(ctx, ids, vectors); err != nil {
		return nil, fmt.Errorf("failed to index node embeddings: %w", err)
	}
	return &DenseStrategy{set: set, embedder: e, index: index, topK: pickTopK(topK, 1)}, nil
}

func (s *DenseStrategy) Name() string { return "dense" }

func (s *DenseStrategy) Kind() Kind { return KindVector }

// Retrieve embeds query and returns the topK most similar leaves.
func (s *DenseStrategy) Retrieve(ctx context.Context, query string, topK int) ([]models.ScoredNode, error) {
	if s.index.Size() == 0 {
		return nil, nil
	}
	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	hits, err := s.index.Search(ctx, q, pickTopK(topK, s.topK))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]models.ScoredNode, 0, len(hits))
	for _, h := range hits {
		if n, ok := s.set.Get(h.ID); ok {
			out = append(out, models.ScoredNode{Node: n, Score: h.Score})
		}
	}
	return out, nil
}

// Close releases the vector index.
func (s *DenseStrategy) Close() error {
	return s.index.Close()
}
