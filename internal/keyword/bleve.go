package keyword

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/de"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/es"
	"github.com/blevesearch/bleve/v2/analysis/lang/fr"
	"github.com/blevesearch/bleve/v2/analysis/lang/it"
)

const textField = "text"

// analyzers maps configured language names to Bleve stemming analyzers.
var analyzers = map[string]string{
	"english": en.AnalyzerName,
	"en":      en.AnalyzerName,
	"german":  de.AnalyzerName,
	"de":      de.AnalyzerName,
	"french":  fr.AnalyzerName,
	"fr":      fr.AnalyzerName,
	"spanish": es.AnalyzerName,
	"es":      es.AnalyzerName,
	"italian": it.AnalyzerName,
	"it":      it.AnalyzerName,
}

// AnalyzerFor returns the Bleve analyzer name for language.
func AnalyzerFor(language string) (string, error) {
	name, ok := analyzers[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return "", fmt.Errorf("unsupported language %q", language)
	}
	return name, nil
}

// BleveIndex implements Index with a memory-only Bleve index. Query and document
// text go through the same stemming analyzer, so "fevers" matches "fever".
type BleveIndex struct {
	index bleve.Index
	// order records insertion order so equal scores rank deterministically.
	order map[string]int
	mu    sync.RWMutex
}

// NewBleveIndex creates an empty in-memory index for language.
func NewBleveIndex(language string) (*BleveIndex, error) {
	analyzer, err := AnalyzerFor(language)
	if err != nil {
		return nil, err
	}
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = analyzer
	docMapping.AddFieldMappingsAt(textField, textFieldMapping)
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = analyzer

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index, order: make(map[string]int)}, nil
}

// Index adds text under id. Ids must be unique.
func (b *BleveIndex) Index(ctx context.Context, id, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.order[id]; dup {
		return fmt.Errorf("duplicate document id %s", id)
	}
	if err := b.index.Index(id, map[string]interface{}{textField: text}); err != nil {
		return fmt.Errorf("failed to index %s: %w", id, err)
	}
	b.order[id] = len(b.order)
	return nil
}

// Search runs a match query over the analyzed text and returns up to limit
// results by descending score, ties in insertion order.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.order) == 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(textField)
	// Fetch every match so ties at the cut-off are resolved by insertion order, not by Bleve.
	req := bleve.NewSearchRequestOptions(q, len(b.order), 0, false)
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		out = append(out, Result{ID: hit.ID, Score: hit.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return b.order[out[i].ID] < b.order[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
