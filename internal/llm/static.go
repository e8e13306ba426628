package llm

import (
	"context"
	"sync"
)

// StaticClient replays scripted replies in order, repeating the last one.
// It records every prompt it receives.
type StaticClient struct {
	Name    string
	Replies []string
	Err     error

	mu      sync.Mutex
	prompts []string
}

func (c *StaticClient) Model() string { return c.Name }

func (c *StaticClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.prompts)
	c.prompts = append(c.prompts, prompt)
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Replies) == 0 {
		return "", nil
	}
	return c.Replies[min(n, len(c.Replies)-1)], nil
}

// Prompts returns the prompts received so far.
func (c *StaticClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// FuncClient adapts a function to Client.
type FuncClient struct {
	Name string
	Fn   func(ctx context.Context, prompt string, maxTokens int) (string, error)
}

func (c FuncClient) Model() string { return c.Name }

func (c FuncClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.Fn(ctx, prompt, maxTokens)
}
