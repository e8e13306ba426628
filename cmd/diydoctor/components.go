package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/evaluation"
	"github.com/hyperjump/diydoctor/internal/extract"
	"github.com/hyperjump/diydoctor/internal/generate"
	"github.com/hyperjump/diydoctor/internal/indexer"
	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/metrics"
	"github.com/hyperjump/diydoctor/internal/pipeline"
	"github.com/hyperjump/diydoctor/internal/records"
)

// Components holds everything a command needs to answer queries.
type Components struct {
	Service  *pipeline.Service
	Registry *pipeline.Registry
	Metrics  *metrics.Metrics
	Pool     *llm.Pool

	store    records.Store
	embedder embedding.Embedder
	logger   *zap.Logger
}

// ClientFunc resolves evaluation model names through the shared pool.
func (c *Components) ClientFunc() evaluation.ClientFunc {
	return func(ctx context.Context, name string) (llm.Client, error) {
		return c.Pool.Client(ctx, name)
	}
}

// Close releases sessions, provider clients, the embedder and the records store.
func (c *Components) Close() {
	c.Service.Close()
	if err := c.Pool.Close(); err != nil {
		c.logger.Warn("failed to close model clients", zap.Error(err))
	}
	if err := c.embedder.Close(); err != nil {
		c.logger.Warn("failed to close embedder", zap.Error(err))
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("failed to close records store", zap.Error(err))
		}
	}
}

// initializeComponents wires the pipeline from cfg. The records store is only
// opened when withRecords is set.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withRecords bool) (*Components, error) {
	pool := llm.NewPool(cfg, logger)

	embedder, err := newEmbedder(ctx, cfg, pool, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	var store records.Store
	var src records.Source
	if withRecords {
		store, err = records.Open(ctx, cfg)
		if err != nil {
			_ = embedder.Close()
			_ = pool.Close()
			return nil, fmt.Errorf("failed to open records store: %w", err)
		}
		src = store
	}

	genClient, err := pool.Client(ctx, cfg.Generator.Model)
	if err != nil {
		closeAll(store, embedder, pool)
		return nil, fmt.Errorf("generator model: %w", err)
	}
	judgeClient, err := pool.Client(ctx, cfg.Judge.Model)
	if err != nil {
		closeAll(store, embedder, pool)
		return nil, fmt.Errorf("judge model: %w", err)
	}

	m := metrics.New()
	builder := indexer.NewBuilder(embedder,
		indexer.WithLogger(logger),
		indexer.WithSplitter(cfg.Chunking.BufferSize, cfg.Chunking.BreakpointPercentile),
		indexer.WithParentSize(cfg.Chunking.ParentSize),
		indexer.WithMaxChunkWords(cfg.Chunking.MaxChunkWords, cfg.Chunking.ChunkOverlap))
	factory := pipeline.NewFactory(builder, embedder, &cfg.Retrieval,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithExpansionGenerator(genClient))
	p := pipeline.New(
		generate.New(genClient, generate.WithLogger(logger), generate.WithMaxTokens(cfg.Generator.MaxTokens)),
		judge.New(judgeClient, judge.WithLogger(logger), judge.WithVerbose(cfg.Judge.Verbose), judge.WithMaxTokens(cfg.Judge.MaxTokens)),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m))
	registry := pipeline.NewRegistry(pipeline.WithLogger(logger), pipeline.WithMetrics(m))
	svc := pipeline.NewService(factory, registry, p, src, extract.NewExtractor(extract.WithLogger(logger)), pipeline.WithLogger(logger))

	return &Components{
		Service:  svc,
		Registry: registry,
		Metrics:  m,
		Pool:     pool,
		store:    store,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// newEmbedder builds the configured embedder. A failing ONNX model falls back
// to the mock embedder with a warning.
func newEmbedder(ctx context.Context, cfg *config.Config, pool *llm.Pool, logger *zap.Logger) (embedding.Embedder, error) {
	opts := embedding.Options{
		Provider:   cfg.Embedding.Provider,
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}
	if opts.Provider == "model" {
		remote, err := pool.Client(ctx, cfg.Embedding.Model)
		if err != nil {
			return nil, fmt.Errorf("embedding model: %w", err)
		}
		opts.Remote = remote
	}
	e, err := embedding.New(opts)
	if err == nil {
		return e, nil
	}
	if opts.Provider == "model" {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	logger.Warn("embedder unavailable, using mock embeddings", zap.String("provider", opts.Provider), zap.Error(err))
	opts.Provider = "mock"
	return embedding.New(opts)
}

func closeAll(store records.Store, e embedding.Embedder, pool *llm.Pool) {
	if store != nil {
		_ = store.Close()
	}
	_ = e.Close()
	_ = pool.Close()
}
