package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/extract"
	"github.com/hyperjump/diydoctor/internal/indexer"
	"github.com/hyperjump/diydoctor/internal/records"
)

// ErrSessionNotFound is returned when asking against a key with no session.
var ErrSessionNotFound = errors.New("session not found")

// Service loads sessions into a registry and answers queries against them.
type Service struct {
	factory   *Factory
	registry  *Registry
	pipeline  *Pipeline
	records   records.Source
	extractor *extract.Extractor
	keys      keyLocks
	settings
}

// NewService wires the session factory, the registry and the pipeline. src
// may be nil when only documents are served.
func NewService(f *Factory, r *Registry, p *Pipeline, src records.Source, ex *extract.Extractor, opts ...Option) *Service {
	if ex == nil {
		ex = extract.NewExtractor()
	}
	return &Service{
		factory:   f,
		registry:  r,
		pipeline:  p,
		records:   src,
		extractor: ex,
		settings:  newSettings(opts),
	}
}

// LoadPatient builds a session over every record of the patient and
// registers it under PatientKey(fingerprint). A patient without records
// gets an empty session, whose queries end in insufficient context.
func (s *Service) LoadPatient(ctx context.Context, fingerprint string) (Info, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return Info{}, errors.New("no fingerprint provided")
	}
	if s.records == nil {
		return Info{}, errors.New("no records store configured")
	}
	key := PatientKey(fingerprint)
	defer s.keys.lock(key)()
	recs, err := s.records.Lookup(ctx, fingerprint)
	if err != nil {
		return Info{}, fmt.Errorf("failed to look up records: %w", err)
	}
	if len(recs) == 0 {
		s.logger.Warn("patient has no records", zap.String("fingerprint", fingerprint))
	}
	return s.load(ctx, key, KindPatient, indexer.Source{Records: recs})
}

// LoadDocument extracts the file at path and registers a session for it
// under DocumentKey(path). Loads of the same key run one at a time, each
// reading the file after the previous one is registered.
func (s *Service) LoadDocument(ctx context.Context, path string) (Info, error) {
	key := DocumentKey(path)
	defer s.keys.lock(key)()
	doc, err := s.extractor.ExtractFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to extract %s: %w", path, err)
	}
	return s.load(ctx, key, KindDocument, indexer.Source{Document: &doc})
}

// LoadDocumentBytes registers a session for uploaded content under
// UploadKey(name); name picks the extractor by extension.
func (s *Service) LoadDocumentBytes(ctx context.Context, name string, content []byte) (Info, error) {
	key := UploadKey(name)
	defer s.keys.lock(key)()
	ext := strings.ToLower(filepath.Ext(name))
	doc, err := s.extractor.ExtractBytes(content, ext, name)
	if err != nil {
		return Info{}, fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return s.load(ctx, key, KindDocument, indexer.Source{Document: &doc})
}

// load builds and registers a session; the caller holds the key lock.
func (s *Service) load(ctx context.Context, key, kind string, src indexer.Source) (Info, error) {
	sess, err := s.factory.Build(ctx, key, kind, src)
	if err != nil {
		return Info{}, err
	}
	s.registry.Put(sess)
	return sess.Info(), nil
}

// Ask answers query against the session registered under key.
func (s *Service) Ask(ctx context.Context, key, query string) (*Result, error) {
	sess, ok := s.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return s.pipeline.Ask(ctx, sess, query)
}

// Remove drops the session under key once any load of it has finished.
func (s *Service) Remove(key string) bool {
	defer s.keys.lock(key)()
	return s.registry.Remove(key)
}

// Sessions lists the registered sessions.
func (s *Service) Sessions() []Info {
	return s.registry.List()
}

// Close closes every registered session.
func (s *Service) Close() {
	s.registry.Close()
}

// DocumentSync reloads document sessions on file events: a changed file
// rebuilds its session, a removed one drops it.
type DocumentSync struct {
	Service *Service
}

func (d DocumentSync) Changed(ctx context.Context, path string) {
	if _, err := d.Service.LoadDocument(ctx, path); err != nil {
		d.Service.logger.Warn("failed to reload document", zap.String("path", path), zap.Error(err))
	}
}

func (d DocumentSync) Removed(path string) {
	if d.Service.Remove(DocumentKey(path)) {
		d.Service.logger.Info("document session removed", zap.String("path", path))
	}
}
