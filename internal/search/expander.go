package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Generator is the text-generation boundary used for query expansion.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Expander turns one query into the list of variants to retrieve with.
type Expander interface {
	Expand(ctx context.Context, query string, n int) ([]string, error)
}

const expansionPrompt = `You are a helpful assistant that rewrites search queries for a medical record search.
Write one alternative search query with the same meaning as the query below (variant %d of %d).
Answer with the query only, on a single line.
Query: %s
Alternative query:`

var listPrefix = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// QueryExpander asks a generator for paraphrases of a query.
type QueryExpander struct {
	gen       Generator
	maxTokens int
}

// NewQueryExpander returns an expander that calls gen once per variant.
func NewQueryExpander(gen Generator) *QueryExpander {
	return &QueryExpander{gen: gen, maxTokens: 64}
}

// Expand returns query followed by up to n-1 distinct paraphrases. The
// generator calls run concurrently and all must succeed.
func (e *QueryExpander) Expand(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 1 {
		return []string{query}, nil
	}
	variants := make([]string, n-1)
	g, gctx := errgroup.WithContext(ctx)
	for i := range variants {
		i := i
		g.Go(func() error {
			out, err := e.gen.Generate(gctx, fmt.Sprintf(expansionPrompt, i+1, n-1, query), e.maxTokens)
			if err != nil {
				return fmt.Errorf("query expansion failed: %w", err)
			}
			variants[i] = cleanVariant(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	queries := []string{query}
	seen := map[string]struct{}{normalizeQuery(query): {}}
	for _, v := range variants {
		key := normalizeQuery(v)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, v)
	}
	return queries, nil
}

// cleanVariant keeps the first non-empty line without list markers or quotes.
func cleanVariant(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = listPrefix.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"'`)
		if line != "" {
			return line
		}
	}
	return ""
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
