package search

import (
	"math"
	"sort"

	"github.com/hyperjump/diydoctor/internal/models"
)

// DefaultRRFConstant dampens the contribution of top ranks.
const DefaultRRFConstant = 60

// RankedList is one strategy's ranking for one query variant.
type RankedList struct {
	Kind   Kind
	Weight float64
	Nodes  []models.ScoredNode
}

type fusedEntry struct {
	node          models.Node
	contributions []float64
	// best 1-based rank per strategy kind; absent kinds rank after every present one.
	best map[Kind]int
}

// Fuse combines lists with weighted reciprocal rank fusion:
//
//	score(n) = sum over lists of weight / (rank + constant)
//
// with 1-based ranks. A node repeated within one list counts once, at its first
// position. Ties are broken by the best rank in the highest-priority kind
// (vector before lexical), then by arena ordinal, so the output does not
// depend on the order of lists. topK <= 0 keeps everything.
func Fuse(lists []RankedList, constant float64, topK int) []models.ScoredNode {
	entries := make(map[string]*fusedEntry)
	kindSet := make(map[Kind]struct{})
	for _, l := range lists {
		kindSet[l.Kind] = struct{}{}
		seen := make(map[string]struct{}, len(l.Nodes))
		for i, n := range l.Nodes {
			if _, dup := seen[n.Node.ID]; dup {
				continue
			}
			seen[n.Node.ID] = struct{}{}
			e, ok := entries[n.Node.ID]
			if !ok {
				e = &fusedEntry{node: n.Node, best: make(map[Kind]int)}
				entries[n.Node.ID] = e
			}
			rank := i + 1
			e.contributions = append(e.contributions, l.Weight/(float64(rank)+constant))
			if r, ok := e.best[l.Kind]; !ok || rank < r {
				e.best[l.Kind] = rank
			}
		}
	}
	kinds := make([]Kind, 0, len(kindSet))
	for k := range kindSet {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]models.ScoredNode, 0, len(entries))
	byID := make(map[string]*fusedEntry, len(entries))
	for id, e := range entries {
		// summing in sorted order keeps the float result independent of list order
		sort.Float64s(e.contributions)
		var score float64
		for _, c := range e.contributions {
			score += c
		}
		out = append(out, models.ScoredNode{Node: e.node, Score: score})
		byID[id] = e
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		a, b := byID[out[i].Node.ID], byID[out[j].Node.ID]
		for _, k := range kinds {
			ra, rb := bestRank(a, k), bestRank(b, k)
			if ra != rb {
				return ra < rb
			}
		}
		return out[i].Node.Ordinal < out[j].Node.Ordinal
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func bestRank(e *fusedEntry, k Kind) int {
	if r, ok := e.best[k]; ok {
		return r
	}
	return math.MaxInt
}
