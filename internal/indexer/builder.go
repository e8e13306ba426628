// Package indexer builds the node set of a session: it serializes records and
// documents, splits them at semantic boundaries, embeds every chunk and links
// chunks to parent nodes for hierarchical merging.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/fileid"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// ErrIngestion is returned when a source cannot be turned into nodes, e.g. because embedding failed.
var ErrIngestion = errors.New("ingestion failed")

// Source is the input of Build: either patient records or one extracted document.
type Source struct {
	Records  []models.Record
	Document *models.SourceDocument
}

// Builder converts sources into node sets.
type Builder struct {
	embedder   embedding.Embedder
	splitter   *SemanticSplitter
	chunker    *Chunker
	parentSize int
	logger     *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithSplitter overrides the semantic splitter parameters.
func WithSplitter(bufferSize int, percentile float64) BuilderOption {
	return func(b *Builder) { b.splitter = NewSemanticSplitter(b.embedder, bufferSize, percentile) }
}

// WithParentSize sets the maximum number of chunks grouped under one parent. Values below 2 disable parents.
func WithParentSize(n int) BuilderOption {
	return func(b *Builder) { b.parentSize = n }
}

// WithMaxChunkWords bounds chunk length; longer semantic chunks are re-split into overlapping windows.
func WithMaxChunkWords(words, overlap int) BuilderOption {
	return func(b *Builder) { b.chunker = NewChunker(words, overlap) }
}

// NewBuilder creates a builder with buffer size 1, the 85th percentile
// breakpoint and parents of up to 4 chunks.
func NewBuilder(e embedding.Embedder, opts ...BuilderOption) *Builder {
	b := &Builder{
		embedder:   e,
		splitter:   NewSemanticSplitter(e, 1, 85),
		chunker:    NewChunker(0, 0),
		parentSize: 4,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = utils.LoggerOrNop(b.logger)
	return b
}

// text is one document ready for chunking.
type text struct {
	source models.SourceRef
	body   string
}

// Build dispatches on the kind of source.
func (b *Builder) Build(ctx context.Context, src Source) (*models.NodeSet, error) {
	if src.Document != nil {
		return b.BuildDocument(ctx, *src.Document)
	}
	return b.BuildRecords(ctx, src.Records)
}

// BuildRecords turns each record into one document before chunking. An empty
// record list yields an empty node set.
func (b *Builder) BuildRecords(ctx context.Context, records []models.Record) (*models.NodeSet, error) {
	texts := make([]text, 0, len(records))
	for i, r := range records {
		texts = append(texts, text{
			source: models.SourceRef{
				Ref:        fmt.Sprintf("%s/%d", r.Collection, i),
				Collection: r.Collection,
				Record:     i,
				Label:      "record",
			},
			body: SerializeRecord(r),
		})
	}
	return b.build(ctx, texts)
}

// BuildDocument chunks the base text as-is and appends one synthetic document
// holding every table rendered as markdown.
func (b *Builder) BuildDocument(ctx context.Context, doc models.SourceDocument) (*models.NodeSet, error) {
	texts := []text{{
		source: models.SourceRef{Ref: doc.Ref, Label: "text"},
		body:   doc.Text,
	}}
	if len(doc.Tables) > 0 {
		texts = append(texts, text{
			source: models.SourceRef{Ref: doc.Ref + "#tables", Label: "tables"},
			body:   TablesDocument(doc.Tables),
		})
	}
	return b.build(ctx, texts)
}

func (b *Builder) build(ctx context.Context, texts []text) (*models.NodeSet, error) {
	var nodes []models.Node
	for _, t := range texts {
		if strings.TrimSpace(t.body) == "" {
			continue
		}
		docNodes, err := b.buildText(ctx, t)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, docNodes...)
	}
	set, err := models.NewNodeSet(nodes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngestion, err)
	}
	b.logger.Debug("built node set",
		zap.Int("documents", len(texts)),
		zap.Int("leaves", set.Len()),
		zap.Int("nodes", set.Size()))
	return set, nil
}

func (b *Builder) buildText(ctx context.Context, t text) ([]models.Node, error) {
	semantic, err := b.splitter.Split(ctx, t.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIngestion, t.source.Ref, err)
	}
	var chunks []string
	for _, c := range semantic {
		chunks = append(chunks, b.chunker.Split(c)...)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	vectors, err := b.embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIngestion, t.source.Ref, err)
	}

	leaves := make([]models.Node, len(chunks))
	for i, c := range chunks {
		leaves[i] = models.Node{
			ID:        fileid.NodeID(t.source.Ref, models.KindChunk, i),
			Kind:      models.KindChunk,
			Text:      c,
			Embedding: vectors[i],
			Source:    t.source,
		}
	}
	parents, err := b.parents(ctx, t.source, leaves)
	if err != nil {
		return nil, err
	}
	return append(leaves, parents...), nil
}

// parents groups consecutive leaves into parents of at most parentSize
// children, linking both directions. Groups of one leaf get no parent.
func (b *Builder) parents(ctx context.Context, src models.SourceRef, leaves []models.Node) ([]models.Node, error) {
	if b.parentSize < 2 || len(leaves) < 2 {
		return nil, nil
	}
	var parents []models.Node
	for start := 0; start < len(leaves); start += b.parentSize {
		end := min(start+b.parentSize, len(leaves))
		if end-start < 2 {
			continue
		}
		p := models.Node{
			ID:     fileid.NodeID(src.Ref, models.KindParent, len(parents)),
			Kind:   models.KindParent,
			Source: src,
		}
		texts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			leaves[i].ParentID = p.ID
			p.ChildIDs = append(p.ChildIDs, leaves[i].ID)
			texts = append(texts, leaves[i].Text)
		}
		p.Text = strings.Join(texts, "\n")
		parents = append(parents, p)
	}
	if len(parents) == 0 {
		return nil, nil
	}
	texts := make([]string, len(parents))
	for i, p := range parents {
		texts[i] = p.Text
	}
	vectors, err := b.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIngestion, src.Ref, err)
	}
	for i := range parents {
		parents[i].Embedding = vectors[i]
	}
	return parents, nil
}

func (b *Builder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding for chunk %d", i)
		}
	}
	return vectors, nil
}
