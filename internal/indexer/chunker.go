package indexer

import "strings"

// Chunker splits text into overlapping word windows. It bounds the size of
// semantic chunks that would otherwise exceed the embedder's input length.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// A non-positive size disables splitting.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Split returns text unchanged when it fits, otherwise overlapping windows of chunkSize words.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if c.chunkSize <= 0 || len(words) <= c.chunkSize {
		return []string{strings.TrimSpace(text)}
	}
	step := c.chunkSize - c.chunkOverlap
	var out []string
	for i := 0; i < len(words); i += step {
		end := min(i+c.chunkSize, len(words))
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
