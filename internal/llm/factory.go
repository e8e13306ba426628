package llm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
)

// Default endpoints of OpenAI-compatible providers.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaBaseURL     = "http://localhost:11434/v1"
)

// New creates the client for one row of the provider table. The API key is
// read from the environment variable named by cfg.APIKeyEnv.
func New(ctx context.Context, name string, cfg config.ModelConfig) (Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	model := cfg.Model
	if model == "" {
		model = name
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIClient(name, apiKey, model, cfg.EmbeddingModel, cfg.BaseURL), nil
	case "openrouter":
		return NewOpenAIClient(name, apiKey, model, cfg.EmbeddingModel, orDefault(cfg.BaseURL, OpenRouterBaseURL)), nil
	case "ollama":
		baseURL := orDefault(cfg.BaseURL, OllamaBaseURL)
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		if apiKey == "" {
			// ignored by Ollama but required by the client
			apiKey = "ollama"
		}
		return NewOpenAIClient(name, apiKey, model, cfg.EmbeddingModel, baseURL), nil
	case "anthropic", "claude":
		return NewAnthropicClient(name, apiKey, model, cfg.BaseURL), nil
	case "gemini":
		return NewGeminiClient(ctx, name, apiKey, model, cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("%w: %q for model %s", ErrUnknownProvider, cfg.Provider, name)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Pool lazily creates one resilient client per configured model name and
// shares it between callers.
type Pool struct {
	cfg     *config.Config
	logger  *zap.Logger
	factory func(ctx context.Context, name string, cfg config.ModelConfig) (Client, error)

	mu      sync.Mutex
	clients map[string]*Resilient
}

// NewPool returns a pool over cfg.Models.
func NewPool(cfg *config.Config, logger *zap.Logger) *Pool {
	return &Pool{cfg: cfg, logger: logger, factory: New, clients: make(map[string]*Resilient)}
}

// Client returns the client for the named model.
func (p *Pool) Client(ctx context.Context, name string) (*Resilient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[name]; ok {
		return c, nil
	}
	mc, err := p.cfg.Model(name)
	if err != nil {
		return nil, err
	}
	inner, err := p.factory(ctx, name, mc)
	if err != nil {
		return nil, err
	}
	c := NewResilient(inner, p.cfg.Resilience, WithLogger(p.logger))
	p.clients[name] = c
	return c, nil
}

// Close closes every client that holds a connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, c := range p.clients {
		if closer, ok := c.Unwrap().(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(p.clients, name)
	}
	return firstErr
}
