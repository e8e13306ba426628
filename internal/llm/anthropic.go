package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient talks to the Anthropic messages API. It does not embed.
type AnthropicClient struct {
	client *anthropic.Client
	name   string
	model  string
}

func NewAnthropicClient(name, apiKey, model, baseURL string) *AnthropicClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey, opts...),
		name:   name,
		model:  model,
	}
}

func (c *AnthropicClient) Model() string { return c.name }

// Generate sends prompt as a single user message and joins the text blocks of the reply.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, c := range resp.Content {
		if c.Text != nil {
			parts = append(parts, *c.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no response content")
	}
	return strings.Join(parts, ""), nil
}
