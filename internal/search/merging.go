package search

import (
	"context"
	"sort"

	"github.com/hyperjump/diydoctor/internal/models"
)

// MergingStrategy retrieves leaves densely and replaces groups of siblings with
// their parent when more than ratio of the parent's children were retrieved.
// The parent scores the mean of the merged children. Merging repeats until no
// group qualifies, so multi-level hierarchies collapse bottom-up.
type MergingStrategy struct {
	dense *DenseStrategy
	set   *models.NodeSet
	topK  int
	ratio float64
}

// NewMergingStrategy wraps dense. A topK below 1 defaults to 3, a ratio outside (0,1) to 0.5.
func NewMergingStrategy(dense *DenseStrategy, topK int, ratio float64) *MergingStrategy {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &MergingStrategy{dense: dense, set: dense.set, topK: pickTopK(topK, 3), ratio: ratio}
}

func (s *MergingStrategy) Name() string { return "merging" }

func (s *MergingStrategy) Kind() Kind { return KindVector }

// Retrieve runs the dense strategy with the finer topK and merges siblings.
func (s *MergingStrategy) Retrieve(ctx context.Context, query string, topK int) ([]models.ScoredNode, error) {
	nodes, err := s.dense.Retrieve(ctx, query, pickTopK(topK, s.topK))
	if err != nil {
		return nil, err
	}
	return Merge(s.set, nodes, s.ratio), nil
}

// Merge applies parent merging to nodes until stable and sorts the result by
// score, then arena ordinal.
func Merge(set *models.NodeSet, nodes []models.ScoredNode, ratio float64) []models.ScoredNode {
	current := append([]models.ScoredNode(nil), nodes...)
	for {
		merged, changed := mergeOnce(set, current, ratio)
		current = merged
		if !changed {
			break
		}
	}
	sort.SliceStable(current, func(i, j int) bool {
		if current[i].Score != current[j].Score {
			return current[i].Score > current[j].Score
		}
		return current[i].Node.Ordinal < current[j].Node.Ordinal
	})
	return current
}

func mergeOnce(set *models.NodeSet, nodes []models.ScoredNode, ratio float64) ([]models.ScoredNode, bool) {
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.Node.ID] = true
	}
	type group struct {
		parent   models.Node
		children []models.ScoredNode
	}
	groups := make(map[string]*group)
	var order []string
	for _, n := range nodes {
		p, ok := set.Parent(n.Node.ID)
		if !ok || present[p.ID] {
			continue
		}
		g, seen := groups[p.ID]
		if !seen {
			g = &group{parent: p}
			groups[p.ID] = g
			order = append(order, p.ID)
		}
		g.children = append(g.children, n)
	}

	replaced := make(map[string]models.ScoredNode)
	for _, id := range order {
		g := groups[id]
		if float64(len(g.children))/float64(len(g.parent.ChildIDs)) <= ratio {
			continue
		}
		var sum float64
		for _, c := range g.children {
			sum += c.Score
		}
		parent := models.ScoredNode{Node: g.parent, Score: sum / float64(len(g.children))}
		for _, c := range g.children {
			replaced[c.Node.ID] = parent
		}
	}
	if len(replaced) == 0 {
		return nodes, false
	}

	out := make([]models.ScoredNode, 0, len(nodes))
	added := make(map[string]bool)
	for _, n := range nodes {
		p, ok := replaced[n.Node.ID]
		if !ok {
			out = append(out, n)
			continue
		}
		if !added[p.Node.ID] {
			out = append(out, p)
			added[p.Node.ID] = true
		}
	}
	return out, true
}
