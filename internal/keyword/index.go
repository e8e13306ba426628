// Package keyword provides an in-memory lexical index with language stemming, backed by Bleve.
package keyword

import "context"

// Index defines the lexical operations a retrieval strategy needs.
type Index interface {
	Index(ctx context.Context, id, text string) error
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ID    string
	Score float64
}
