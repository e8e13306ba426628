// Package embedding provides text embedders (ONNX, provider-backed, mock) and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by an embedder used after Close.
var ErrClosed = errors.New("embedder closed")

// Embedder produces vector embeddings for text. Implementations must be
// deterministic for identical input within one process.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// embedEach embeds texts one at a time with embed, in order. Repeated texts
// share one vector; record leaves often repeat lines such as units.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	seen := make(map[string]int, len(texts))
	for i, text := range texts {
		if j, ok := seen[text]; ok {
			out[i] = out[j]
			continue
		}
		vec, err := embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
		seen[text] = i
	}
	return out, nil
}
