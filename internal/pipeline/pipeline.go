package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/models"
)

var (
	// ErrEmptyEvidence is returned with an insufficient_context result when
	// retrieval found nothing; the generator is not called.
	ErrEmptyEvidence = errors.New("insufficient context")
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("no query provided")
)

// Result statuses.
const (
	StatusAnswered            = "answered"
	StatusInsufficientContext = "insufficient_context"
)

// Answerer generates a response from fused evidence.
type Answerer interface {
	Generate(ctx context.Context, query string, fused []models.ScoredNode) (models.Response, error)
	Model() string
}

// Verifier judges a response.
type Verifier interface {
	Verify(ctx context.Context, query string, resp models.Response) (judge.Assessment, error)
	Model() string
}

// Result is the outcome of one ask.
type Result struct {
	SessionID  string              `json:"session_id"`
	Query      string              `json:"query"`
	Status     string              `json:"status"`
	Answer     string              `json:"answer,omitempty"`
	Context    []models.Node       `json:"context,omitempty"`
	Fused      []models.ScoredNode `json:"fused,omitempty"`
	Assessment judge.Assessment    `json:"assessment"`
	Generator  string              `json:"generator"`
	Judge      string              `json:"judge"`
	Duration   time.Duration       `json:"duration_ns"`
}

// Pipeline runs retrieve, generate and judge in sequence for one query.
type Pipeline struct {
	answerer Answerer
	verifier Verifier
	settings
}

// New returns a pipeline answering with a and judging with v.
func New(a Answerer, v Verifier, opts ...Option) *Pipeline {
	return &Pipeline{answerer: a, verifier: v, settings: newSettings(opts)}
}

// Ask answers query from the session's evidence and judges the answer. When
// retrieval is empty it returns an insufficient_context result together with
// ErrEmptyEvidence. Errors from any stage are returned as-is; nothing is retried.
func (p *Pipeline) Ask(ctx context.Context, s *Session, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()
	res := &Result{
		SessionID: s.ID,
		Query:     query,
		Generator: p.answerer.Model(),
		Judge:     p.verifier.Model(),
	}

	if err := p.stage("retrieve", func() error {
		var err error
		res.Fused, err = s.Retrieve(ctx, query)
		return err
	}); err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	p.metrics.FusedNodes(len(res.Fused))
	if len(res.Fused) == 0 {
		p.metrics.NoContext()
		res.Status = StatusInsufficientContext
		res.Duration = time.Since(start)
		p.logger.Info("insufficient context", zap.String("session", s.ID))
		return res, ErrEmptyEvidence
	}

	var resp models.Response
	if err := p.stage("generate", func() error {
		var err error
		resp, err = p.answerer.Generate(ctx, query, res.Fused)
		return err
	}); err != nil {
		return nil, err
	}
	if err := resp.CheckCitedSubset(res.Fused); err != nil {
		return nil, err
	}
	res.Answer = resp.Answer
	res.Context = resp.Context

	if err := p.stage("judge", func() error {
		var err error
		res.Assessment, err = p.verifier.Verify(ctx, query, resp)
		return err
	}); err != nil {
		return nil, err
	}
	p.metrics.Verdict(string(res.Assessment.Verdict))
	res.Status = StatusAnswered
	res.Duration = time.Since(start)
	p.logger.Info("answered query",
		zap.String("session", s.ID),
		zap.Int("fused", len(res.Fused)),
		zap.Int("cited", len(res.Context)),
		zap.String("verdict", string(res.Assessment.Verdict)),
		zap.Duration("took", res.Duration))
	return res, nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		p.metrics.StageFailed(name)
	}
	return err
}
