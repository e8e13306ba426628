// Package pipeline ties node building, retrieval, generation and judging into
// per-source sessions and the ask request path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/indexer"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/internal/search"
)

// Session kinds.
const (
	KindPatient  = "patient"
	KindDocument = "document"
)

// PatientKey is the registry key of a patient's session.
func PatientKey(fingerprint string) string { return KindPatient + ":" + fingerprint }

// DocumentKey is the registry key of a document's session. Relative paths
// are resolved against the working directory.
func DocumentKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return KindDocument + ":" + abs
	}
	return KindDocument + ":" + filepath.Clean(path)
}

// UploadKey is the registry key of an uploaded document's session.
func UploadKey(name string) string { return "upload:" + filepath.Base(name) }

// RetrieverCloser is a retriever that owns indexes.
type RetrieverCloser interface {
	search.Retriever
	Close() error
}

// ErrSessionClosed is returned when retrieving from a session that was replaced or removed.
var ErrSessionClosed = errors.New("session closed")

// Session is a read-only node set and the retriever built over it. Sessions
// are never updated; a change in the source builds a new session.
type Session struct {
	ID        string
	Key       string
	Kind      string
	Nodes     *models.NodeSet
	CreatedAt time.Time

	// mu is held shared by retrievals so Close waits for them.
	mu        sync.RWMutex
	closed    bool
	retriever RetrieverCloser
}

// Retrieve returns the fused evidence for query.
func (s *Session) Retrieve(ctx context.Context, query string) ([]models.ScoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.retriever.Retrieve(ctx, query)
}

// Close waits for in-flight retrievals and releases the session's indexes.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.retriever.Close()
}

// Info summarizes a session for listings.
type Info struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Leaves    int       `json:"leaves"`
	Nodes     int       `json:"nodes"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns the session summary.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID,
		Key:       s.Key,
		Kind:      s.Kind,
		Leaves:    s.Nodes.Len(),
		Nodes:     s.Nodes.Size(),
		CreatedAt: s.CreatedAt,
	}
}

// Factory builds sessions from sources.
type Factory struct {
	builder   *indexer.Builder
	embedder  embedding.Embedder
	retrieval *config.RetrievalConfig
	settings
}

// NewFactory returns a factory that builds nodes with builder and retrieval
// engines configured by cfg.
func NewFactory(builder *indexer.Builder, e embedding.Embedder, cfg *config.RetrievalConfig, opts ...Option) *Factory {
	return &Factory{builder: builder, embedder: e, retrieval: cfg, settings: newSettings(opts)}
}

// Build turns src into a new session under key.
func (f *Factory) Build(ctx context.Context, key, kind string, src indexer.Source) (*Session, error) {
	start := time.Now()
	nodes, err := f.builder.Build(ctx, src)
	if err != nil {
		return nil, err
	}
	engine, err := search.NewEngine(ctx, nodes, f.embedder, f.retrieval, f.expansion, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build retrieval engine: %w", err)
	}
	s := &Session{
		ID:        uuid.NewString(),
		Key:       key,
		Kind:      kind,
		Nodes:     nodes,
		CreatedAt: time.Now(),
		retriever: engine,
	}
	f.metrics.SessionBuilt(kind, nodes.Size())
	f.logger.Info("session built",
		zap.String("session", s.ID),
		zap.String("key", key),
		zap.Int("leaves", nodes.Len()),
		zap.Int("nodes", nodes.Size()),
		zap.Duration("took", time.Since(start)))
	return s, nil
}
