package indexer

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// SemanticSplitter places chunk boundaries where the embedding distance between
// consecutive sentence groups is above a percentile of the document's distances.
type SemanticSplitter struct {
	embedder   embedding.Embedder
	bufferSize int
	percentile float64
}

// NewSemanticSplitter returns a splitter that groups each sentence with bufferSize
// neighbours on each side and breaks above the given percentile (0..100).
func NewSemanticSplitter(e embedding.Embedder, bufferSize int, percentile float64) *SemanticSplitter {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &SemanticSplitter{embedder: e, bufferSize: bufferSize, percentile: percentile}
}

// Split returns the semantic chunks of text in order. Whitespace-only text yields nil.
func (s *SemanticSplitter) Split(ctx context.Context, text string) ([]string, error) {
	sentences := SplitSentences(text)
	switch len(sentences) {
	case 0:
		return nil, nil
	case 1:
		return []string{strings.TrimSpace(sentences[0])}, nil
	}

	groups := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-s.bufferSize)
		hi := min(len(sentences), i+s.bufferSize+1)
		groups[i] = strings.TrimSpace(strings.Join(sentences[lo:hi], ""))
	}
	vectors, err := s.embedder.EmbedBatch(ctx, groups)
	if err != nil {
		return nil, fmt.Errorf("embed sentence groups: %w", err)
	}
	if len(vectors) != len(groups) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d sentence groups", len(vectors), len(groups))
	}

	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - utils.CosineSimilarity(vectors[i], vectors[i+1])
	}
	threshold := utils.Percentile(distances, s.percentile)

	var chunks []string
	start := 0
	for i, d := range distances {
		if d > threshold {
			chunks = appendChunk(chunks, sentences[start:i+1])
			start = i + 1
		}
	}
	return appendChunk(chunks, sentences[start:]), nil
}

func appendChunk(chunks []string, sentences []string) []string {
	if text := strings.TrimSpace(strings.Join(sentences, "")); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// SplitSentences splits text after sentence punctuation followed by whitespace and
// at line breaks. Each sentence keeps its trailing whitespace, so joining the
// result reproduces the text minus leading whitespace.
func SplitSentences(text string) []string {
	var out []string
	start, i := 0, 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		boundary := r == '\n'
		if r == '.' || r == '!' || r == '?' {
			if i == len(text) {
				boundary = true
			} else {
				next, _ := utf8.DecodeRuneInString(text[i:])
				boundary = unicode.IsSpace(next)
			}
		}
		if !boundary {
			continue
		}
		for i < len(text) {
			next, sz := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				break
			}
			i += sz
		}
		if seg := text[start:i]; strings.TrimSpace(seg) != "" {
			out = append(out, seg)
		}
		start = i
	}
	if seg := text[start:]; strings.TrimSpace(seg) != "" {
		out = append(out, seg)
	}
	return out
}
