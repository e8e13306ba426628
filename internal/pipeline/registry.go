package pipeline

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/metrics"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// Registry holds the current session per key. Put swaps a whole session in;
// the replaced session is closed once swapped out.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	s := newSettings(opts)
	return &Registry{sessions: make(map[string]*Session), metrics: s.metrics, logger: utils.LoggerOrNop(s.logger)}
}

// Put registers s under s.Key, replacing and closing any previous session.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.Key]
	r.sessions[s.Key] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.ActiveSessions(n)
	if old != nil {
		r.closeSession(old)
	}
}

// Get returns the session for key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove closes and forgets the session for key.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	n := len(r.sessions)
	r.mu.Unlock()
	if ok {
		r.metrics.ActiveSessions(n)
		r.closeSession(s)
	}
	return ok
}

// List returns session summaries sorted by key.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		r.closeSession(s)
	}
	r.metrics.ActiveSessions(0)
}

func (r *Registry) closeSession(s *Session) {
	if err := s.Close(); err != nil {
		r.logger.Warn("failed to close session", zap.String("key", s.Key), zap.Error(err))
	}
}
