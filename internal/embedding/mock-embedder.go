package embedding

import (
	"context"

	"github.com/hyperjump/diydoctor/pkg/utils"
)

const defaultMockDimensions = 384

// MockEmbedder is a deterministic bag-of-words embedder for tests and offline
// runs. Each word is hashed into one dimension, so texts sharing words have
// positive cosine similarity and texts with disjoint vocabularies are
// orthogonal, collisions aside. It needs no model file and no network.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder; non-positive dimensions select 384.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = defaultMockDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the normalized word-count vector of text. Text without words
// embeds to the zero vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	dims := uint32(e.dimensions)
	for _, w := range Words(text) {
		vec[HashWord(w)%dims]++
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *MockEmbedder) Dimensions() int { return e.dimensions }

func (e *MockEmbedder) Close() error { return nil }
