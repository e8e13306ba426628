package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/diydoctor/pkg/utils"
)

// TextEmbedder is implemented by provider clients that can embed a batch of texts remotely.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// RemoteEmbedder adapts a provider client to Embedder, adding normalization and an LRU cache.
type RemoteEmbedder struct {
	client     TextEmbedder
	dimensions int
	cache      *EmbeddingCache
}

// NewRemoteEmbedder wraps client. dimensions is checked against every returned vector.
func NewRemoteEmbedder(client TextEmbedder, dimensions, cacheSize int) (*RemoteEmbedder, error) {
	if client == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &RemoteEmbedder{client: client, dimensions: dimensions, cache: NewEmbeddingCache(cacheSize)}, nil
}

// Embed returns the embedding for text, using cache when available.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds the cache misses among texts in one provider call.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			out[i] = cached
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vectors, err := e.client.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("remote embedding failed: %w", err)
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("remote embedding returned %d vectors for %d texts", len(vectors), len(missing))
	}
	for j, vec := range vectors {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), e.dimensions)
		}
		utils.NormalizeL2(vec)
		e.cache.Set(missing[j], vec)
		out[missingIdx[j]] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the provider client owns its connections.
func (e *RemoteEmbedder) Close() error {
	return nil
}
