// Package vector provides an in-memory cosine similarity index over node embeddings.
package vector

import "context"

// Index stores vectors by id and answers nearest-neighbour queries. Indexes are
// filled once when a session is built and only read afterwards.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Size() int
	Close() error
}

// Result is a single vector search hit.
type Result struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}
