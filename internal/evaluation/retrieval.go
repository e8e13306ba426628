package evaluation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/models"
)

const questionPrompt = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, write %d question(s)
that can be answered from this context alone. Put one question per line and
write nothing else.`

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\(?\d+[.):]|[Qq]\d+[.:])\s*`)

// Question is a generated question and the leaf node it was generated from.
type Question struct {
	Text   string
	NodeID string
}

// GenerateQuestions asks c for questions about every leaf node.
func (r *Runner) GenerateQuestions(ctx context.Context, c llm.Client) ([]Question, error) {
	var out []Question
	for _, n := range r.nodes.Leaves() {
		reply, err := c.Generate(ctx, fmt.Sprintf(questionPrompt, n.Text, r.questionsPerNode), 256)
		if err != nil {
			return nil, fmt.Errorf("question generation with %s failed: %w", c.Model(), err)
		}
		for _, q := range ParseQuestions(reply, r.questionsPerNode) {
			out = append(out, Question{Text: q, NodeID: n.ID})
		}
	}
	return out, nil
}

// ParseQuestions returns up to n non-empty lines of reply without list markers.
func ParseQuestions(reply string, n int) []string {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

// EvaluateRetrieval generates questions with c and scores how well the
// retriever finds each question's source node. A retrieved parent counts as
// a match for its children.
func (r *Runner) EvaluateRetrieval(ctx context.Context, c llm.Client) (RetrievalMetrics, error) {
	m := RetrievalMetrics{Generator: c.Model()}
	questions, err := r.GenerateQuestions(ctx, c)
	if err != nil {
		return m, err
	}
	for _, q := range questions {
		retrieved, err := r.retriever.Retrieve(ctx, q.Text)
		if err != nil {
			return m, fmt.Errorf("retrieval failed: %w", err)
		}
		if r.topK > 0 && len(retrieved) > r.topK {
			retrieved = retrieved[:r.topK]
		}
		s := scoreRetrieval(r.nodes, q.NodeID, retrieved)
		m.HitRate += s.HitRate
		m.MRR += s.MRR
		m.Precision += s.Precision
		m.Recall += s.Recall
	}
	m.Questions = len(questions)
	if m.Questions > 0 {
		n := float64(m.Questions)
		m.HitRate /= n
		m.MRR /= n
		m.Precision /= n
		m.Recall /= n
	}
	r.logger.Info("retrieval evaluated",
		zap.String("generator", m.Generator),
		zap.Int("questions", m.Questions),
		zap.Float64("hit_rate", m.HitRate),
		zap.Float64("mrr", m.MRR))
	return m, nil
}

// scoreRetrieval scores one question with a single expected node.
func scoreRetrieval(set *models.NodeSet, expected string, retrieved []models.ScoredNode) RetrievalMetrics {
	var s RetrievalMetrics
	matches := 0
	for i, n := range retrieved {
		if !covers(set, n.Node, expected) {
			continue
		}
		matches++
		if s.MRR == 0 {
			s.MRR = 1 / float64(i+1)
		}
	}
	if matches > 0 {
		s.HitRate = 1
		s.Recall = 1
		s.Precision = float64(matches) / float64(len(retrieved))
	}
	return s
}

func covers(set *models.NodeSet, n models.Node, id string) bool {
	if n.ID == id {
		return true
	}
	if p, ok := set.Parent(id); ok {
		return p.ID == n.ID
	}
	return false
}
