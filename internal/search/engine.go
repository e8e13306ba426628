package search

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/models"
)

// Retrieval modes.
const (
	ModeBase        = "base"
	ModeAutoMerging = "auto_merging"
	ModeBM25        = "bm25"
	ModeFusion      = "fusion"
)

// Engine owns the strategies built over one node set and the retriever
// selected by the configured mode.
type Engine struct {
	retriever Retriever
	closers   []io.Closer
}

// NewEngine builds the indexes for set and wires the retriever for cfg.Mode.
// gen is only used for query expansion and may be nil when NumQueries is 1.
func NewEngine(
	ctx context.Context,
	set *models.NodeSet,
	embedder embedding.Embedder,
	cfg *config.RetrievalConfig,
	gen Generator,
	logger *zap.Logger,
) (*Engine, error) {
	e := &Engine{}
	dense := func(topK int) (*DenseStrategy, error) {
		s, err := NewDenseStrategy(ctx, set, embedder, topK)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, s)
		return s, nil
	}
	lexical := func(topK int) (*LexicalStrategy, error) {
		s, err := NewLexicalStrategy(ctx, set, cfg.Language, topK)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, s)
		return s, nil
	}

	switch cfg.Mode {
	case ModeBase:
		s, err := dense(cfg.DenseTopK)
		if err != nil {
			return nil, err
		}
		e.retriever = StrategyRetriever{Strategy: s}
	case ModeAutoMerging:
		s, err := dense(cfg.MergingTopK)
		if err != nil {
			return nil, err
		}
		e.retriever = StrategyRetriever{Strategy: NewMergingStrategy(s, cfg.MergingTopK, cfg.MergeRatio)}
	case ModeBM25:
		s, err := lexical(cfg.LexicalTopK)
		if err != nil {
			return nil, err
		}
		e.retriever = StrategyRetriever{Strategy: s}
	case ModeFusion, "":
		var vec Strategy
		switch cfg.VectorStrategy {
		case "dense":
			s, err := dense(firstPositive(cfg.FusionVectorTopK, cfg.DenseTopK))
			if err != nil {
				return nil, err
			}
			vec = s
		case "merging", "":
			k := firstPositive(cfg.FusionVectorTopK, cfg.MergingTopK)
			s, err := dense(k)
			if err != nil {
				return nil, err
			}
			vec = NewMergingStrategy(s, k, cfg.MergeRatio)
		default:
			return nil, fmt.Errorf("unknown vector strategy %q", cfg.VectorStrategy)
		}
		lex, err := lexical(firstPositive(cfg.FusionLexicalTopK, cfg.LexicalTopK))
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		opts := []FusionOption{
			WithLogger(logger),
			WithTopK(cfg.TopK),
			WithRRFConstant(cfg.RRFConstant),
		}
		if cfg.NumQueries > 1 {
			if gen == nil {
				_ = e.Close()
				return nil, errors.New("query expansion needs a generator")
			}
			opts = append(opts, WithExpansion(NewQueryExpander(gen), cfg.NumQueries))
		}
		r, err := NewFusionRetriever([]WeightedStrategy{
			{Strategy: vec, Weight: cfg.VectorWeight},
			{Strategy: lex, Weight: cfg.LexicalWeight},
		}, opts...)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.retriever = r
	default:
		return nil, fmt.Errorf("unknown retrieval mode %q", cfg.Mode)
	}
	return e, nil
}

// Retrieve delegates to the configured retriever.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]models.ScoredNode, error) {
	return e.retriever.Retrieve(ctx, query)
}

// Close releases every index the engine built.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
