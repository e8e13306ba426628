package judge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/models"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

const faithfulnessPrompt = `Please tell if a given piece of information is supported by the context.
You need to answer with either YES or NO.
Answer YES if any of the context supports the information, even if most of the context is unrelated.
Information: %s
Context: %s
Answer: `

const relevancyPrompt = `Your task is to evaluate if the response for the query is in line with the context information provided.
You have two options to answer. Either YES or NO.
Answer YES if the response for the query is in line with context information, otherwise NO.
Query and Response:
%s
%s
Context:
%s
Answer: `

// Assessment is the result of Verify. Scores are only filled in verbose mode.
type Assessment struct {
	Verdict      Verdict  `json:"verdict"`
	Faithfulness *float64 `json:"faithfulness,omitempty"`
	Relevancy    *float64 `json:"relevancy,omitempty"`
}

// Judge asks an evaluator model about generated responses. It never retries.
type Judge struct {
	client    llm.Client
	maxTokens int
	verbose   bool
	logger    *zap.Logger
}

// Option configures a Judge.
type Option func(*Judge)

// WithLogger sets the logger used for verbose score output.
func WithLogger(l *zap.Logger) Option {
	return func(j *Judge) { j.logger = l }
}

// WithVerbose logs raw scores and returns them in the Assessment.
func WithVerbose(v bool) Option {
	return func(j *Judge) { j.verbose = v }
}

// WithMaxTokens bounds the evaluator reply length.
func WithMaxTokens(n int) Option {
	return func(j *Judge) { j.maxTokens = n }
}

// New returns a judge backed by client.
func New(client llm.Client, opts ...Option) *Judge {
	j := &Judge{client: client, maxTokens: 8}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = utils.LoggerOrNop(j.logger)
	return j
}

// Model returns the evaluator name.
func (j *Judge) Model() string { return j.client.Model() }

// EvaluateFaithfulness asks whether the answer is supported by its cited context.
func (j *Judge) EvaluateFaithfulness(ctx context.Context, resp models.Response) (float64, error) {
	if len(resp.Context) == 0 {
		return 0, fmt.Errorf("%w: response has no context", ErrEvaluation)
	}
	return j.ask(ctx, "faithfulness", fmt.Sprintf(faithfulnessPrompt, resp.Answer, resp.ContextText()))
}

// EvaluateRelevancy asks whether the answer addresses query in line with its context.
func (j *Judge) EvaluateRelevancy(ctx context.Context, query string, resp models.Response) (float64, error) {
	return j.ask(ctx, "relevancy", fmt.Sprintf(relevancyPrompt, query, resp.Answer, resp.ContextText()))
}

// Verify evaluates both axes and reduces them to a verdict. Evaluator failures
// are returned as errors, never as an ERROR verdict.
func (j *Judge) Verify(ctx context.Context, query string, resp models.Response) (Assessment, error) {
	f, err := j.EvaluateFaithfulness(ctx, resp)
	if err != nil {
		return Assessment{}, err
	}
	r, err := j.EvaluateRelevancy(ctx, query, resp)
	if err != nil {
		return Assessment{}, err
	}
	a := Assessment{Verdict: Reduce(f, r)}
	if j.verbose {
		j.logger.Info("judge scores",
			zap.String("model", j.client.Model()),
			zap.Float64("faithfulness", f),
			zap.Float64("relevancy", r),
			zap.String("verdict", string(a.Verdict)))
		a.Faithfulness, a.Relevancy = &f, &r
	}
	return a, nil
}

func (j *Judge) ask(ctx context.Context, axis, prompt string) (float64, error) {
	reply, err := j.client.Generate(ctx, prompt, j.maxTokens)
	if err != nil {
		return 0, fmt.Errorf("%w: %s with %s: %v", ErrEvaluation, axis, j.client.Model(), err)
	}
	score, err := ParseScore(reply)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", axis, err)
	}
	return score, nil
}
