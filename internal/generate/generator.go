// Package generate produces answers from fused context with a language model
// and records which context nodes the answer cites.
package generate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// ErrNoContext is returned when Generate is called without evidence.
var ErrNoContext = errors.New("no context to answer from")

const answerPrompt = `Context information is below. Each source is numbered.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Cite the sources you used with their numbers in square brackets, e.g. [1].
Query: %s
Answer: `

var citation = regexp.MustCompile(`\[(\d+)\]`)

// Generator answers queries from fused context.
type Generator struct {
	client    llm.Client
	maxTokens int
	logger    *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithMaxTokens bounds the answer length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// New returns a generator backed by client.
func New(client llm.Client, opts ...Option) *Generator {
	g := &Generator{client: client, maxTokens: 512}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = utils.LoggerOrNop(g.logger)
	return g
}

// Model returns the name of the answering model.
func (g *Generator) Model() string { return g.client.Model() }

// Generate answers query from fused. The response cites the sources referenced
// by number in the answer; an answer without valid citations cites every
// fused node. Cited nodes are always a subset of fused.
func (g *Generator) Generate(ctx context.Context, query string, fused []models.ScoredNode) (models.Response, error) {
	if len(fused) == 0 {
		return models.Response{}, ErrNoContext
	}
	answer, err := g.client.Generate(ctx, BuildPrompt(query, fused), g.maxTokens)
	if err != nil {
		return models.Response{}, fmt.Errorf("generation with %s failed: %w", g.client.Model(), err)
	}
	answer = strings.TrimSpace(answer)
	resp := models.Response{Answer: answer, Context: Cited(answer, fused)}
	g.logger.Debug("generated answer",
		zap.String("model", g.client.Model()),
		zap.Int("context", len(fused)),
		zap.Int("cited", len(resp.Context)))
	return resp, nil
}

// BuildPrompt renders the numbered context and the query.
func BuildPrompt(query string, fused []models.ScoredNode) string {
	var b strings.Builder
	for i, n := range fused {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, n.Node.Text)
	}
	return fmt.Sprintf(answerPrompt, b.String(), query)
}

// Cited returns the fused nodes referenced as [n] in answer, in order of first
// citation. Out-of-range numbers are ignored; with no valid citation every
// fused node is returned.
func Cited(answer string, fused []models.ScoredNode) []models.Node {
	var out []models.Node
	seen := make(map[int]bool)
	for _, m := range citation.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(fused) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, fused[n-1].Node)
	}
	if len(out) > 0 {
		return out
	}
	out = make([]models.Node, len(fused))
	for i, n := range fused {
		out[i] = n.Node
	}
	return out
}
