// Package evaluation runs a query set for every ordered (generator, judge)
// model pair over one session and measures retrieval quality with generated
// question/context pairs.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/diydoctor/internal/generate"
	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/internal/search"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

// ErrTooFewModels is returned when fewer than two distinct models are given.
var ErrTooFewModels = errors.New("evaluation needs at least two distinct models")

// DefaultQueries is the query set used when none is configured.
var DefaultQueries = []string{
	"What is the patient's father's medical history?",
	"What is the patient's blood type?",
	"Did the patient have a medical condition in 2021?",
	"Who is the patient's insurance providers?",
	"What medications (if any) are the patient using?",
	"What is the patient's preferred hospital?",
	"Why was the patient last admitted?",
	"Are the patient's parents' medical history the same?",
	"What is the patient's gender?",
	"From the patient's lab reports, what are the two lowest and highest fields?",
}

// ClientFunc resolves a model name to a client.
type ClientFunc func(ctx context.Context, name string) (llm.Client, error)

// QueryResult is one judged answer.
type QueryResult struct {
	Generator    string
	Judge        string
	Query        string
	Answer       string
	Context      string
	Faithfulness float64
	Relevancy    float64
	Verdict      judge.Verdict
	Duration     time.Duration
	Err          string
}

// PairAverage summarizes one (generator, judge) pair over the scored queries.
type PairAverage struct {
	Generator    string
	Judge        string
	Faithfulness float64
	Relevancy    float64
	ResponseTime time.Duration
	Scored       int
	Failed       int
}

// RetrievalMetrics are the mean retrieval scores over questions generated by one model.
type RetrievalMetrics struct {
	Generator string
	Questions int
	HitRate   float64
	MRR       float64
	Precision float64
	Recall    float64
}

// Report is the outcome of one evaluation run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Responses []QueryResult
	Averages  []PairAverage
	Retrieval []RetrievalMetrics
}

// Runner evaluates model pairs against one node set and its retriever.
type Runner struct {
	nodes            *models.NodeSet
	retriever        search.Retriever
	clients          ClientFunc
	questionsPerNode int
	topK             int
	concurrency      int
	logger           *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets a logger for progress output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithQuestionsPerNode sets how many questions are generated per leaf node.
func WithQuestionsPerNode(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.questionsPerNode = n
		}
	}
}

// WithRetrievalTopK limits how many retrieved nodes count towards retrieval metrics.
func WithRetrievalTopK(k int) Option {
	return func(r *Runner) { r.topK = k }
}

// WithConcurrency sets how many model pairs run at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner returns a runner over nodes, answering from retriever.
func NewRunner(nodes *models.NodeSet, retriever search.Retriever, clients ClientFunc, opts ...Option) *Runner {
	r := &Runner{
		nodes:            nodes,
		retriever:        retriever,
		clients:          clients,
		questionsPerNode: 1,
		concurrency:      2,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.LoggerOrNop(r.logger)
	return r
}

// Pair is one generator model judged by another.
type Pair struct {
	Generator string
	Judge     string
}

// Pairs returns every ordered pair of distinct model names, generator first.
func Pairs(names []string) ([]Pair, error) {
	names = distinct(names)
	if len(names) < 2 {
		return nil, ErrTooFewModels
	}
	var out []Pair
	for _, g := range names {
		for _, j := range names {
			if g != j {
				out = append(out, Pair{Generator: g, Judge: j})
			}
		}
	}
	return out, nil
}

func distinct(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Run evaluates queries for every model pair and the retrieval metrics for
// every model. Per-query failures are recorded in the report; only failures
// to resolve a model abort the run.
func (r *Runner) Run(ctx context.Context, modelNames, queries []string) (*Report, error) {
	pairs, err := Pairs(modelNames)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	r.logger.Info("starting evaluation",
		zap.String("run", report.RunID),
		zap.Int("pairs", len(pairs)),
		zap.Int("queries", len(queries)))

	responses := make([][]QueryResult, len(pairs))
	averages := make([]PairAverage, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			gen, err := r.clients(gctx, p.Generator)
			if err != nil {
				return fmt.Errorf("generator %s: %w", p.Generator, err)
			}
			jc, err := r.clients(gctx, p.Judge)
			if err != nil {
				return fmt.Errorf("judge %s: %w", p.Judge, err)
			}
			responses[i] = r.evaluatePair(gctx, p, gen, jc, queries)
			averages[i] = average(p, responses[i])
			r.logger.Info("pair evaluated",
				zap.String("generator", p.Generator),
				zap.String("judge", p.Judge),
				zap.Float64("faithfulness", averages[i].Faithfulness),
				zap.Float64("relevancy", averages[i].Relevancy))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, rs := range responses {
		report.Responses = append(report.Responses, rs...)
	}
	report.Averages = averages

	generators := distinct(modelNames)
	report.Retrieval = make([]RetrievalMetrics, len(generators))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, name := range generators {
		i, name := i, name
		g.Go(func() error {
			c, err := r.clients(gctx, name)
			if err != nil {
				return fmt.Errorf("generator %s: %w", name, err)
			}
			m, err := r.EvaluateRetrieval(gctx, c)
			if err != nil {
				return err
			}
			m.Generator = name
			report.Retrieval[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

func (r *Runner) evaluatePair(ctx context.Context, p Pair, genClient, judgeClient llm.Client, queries []string) []QueryResult {
	gen := generate.New(genClient, generate.WithLogger(r.logger))
	jd := judge.New(judgeClient, judge.WithLogger(r.logger), judge.WithVerbose(true))
	out := make([]QueryResult, 0, len(queries))
	for _, q := range queries {
		res := r.evaluateQuery(ctx, gen, jd, q)
		res.Generator, res.Judge = p.Generator, p.Judge
		out = append(out, res)
	}
	return out
}

func (r *Runner) evaluateQuery(ctx context.Context, gen *generate.Generator, jd *judge.Judge, query string) QueryResult {
	res := QueryResult{Query: query, Verdict: judge.Error}
	start := time.Now()

	fused, err := r.retriever.Retrieve(ctx, query)
	if err != nil {
		res.Err = fmt.Sprintf("retrieval failed: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	resp, err := gen.Generate(ctx, query, fused)
	if err != nil {
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	res.Answer, res.Context = resp.Answer, resp.ContextText()
	a, err := jd.Verify(ctx, query, resp)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	res.Verdict = a.Verdict
	if a.Faithfulness != nil && a.Relevancy != nil {
		res.Faithfulness, res.Relevancy = *a.Faithfulness, *a.Relevancy
	}
	return res
}

func average(p Pair, results []QueryResult) PairAverage {
	avg := PairAverage{Generator: p.Generator, Judge: p.Judge}
	var faithfulness, relevancy []float64
	var total time.Duration
	for _, res := range results {
		if res.Err != "" {
			avg.Failed++
			continue
		}
		faithfulness = append(faithfulness, res.Faithfulness)
		relevancy = append(relevancy, res.Relevancy)
		total += res.Duration
	}
	avg.Scored = len(faithfulness)
	avg.Faithfulness = utils.Mean(faithfulness)
	avg.Relevancy = utils.Mean(relevancy)
	if avg.Scored > 0 {
		avg.ResponseTime = total / time.Duration(avg.Scored)
	}
	return avg
}
