// Package llm provides provider-keyed language model clients for generation,
// judging and query expansion, plus a resilience wrapper around them.
package llm

import (
	"context"
	"errors"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown llm provider")

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	// Model returns the configured name of the client, used in logs and reports.
	Model() string
}

// Embedder is implemented by clients whose provider also serves embeddings.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
