package models

import (
	"fmt"
	"strings"
)

// Response is a generated answer with the nodes it cites as context.
type Response struct {
	Answer  string `json:"answer"`
	Context []Node `json:"context"`
}

// ContextText joins the cited node texts, separated by blank lines.
func (r Response) ContextText() string {
	texts := make([]string, len(r.Context))
	for i, n := range r.Context {
		texts[i] = n.Text
	}
	return strings.Join(texts, "\n\n")
}

// CheckCitedSubset returns an error when a cited node is not part of fused.
func (r Response) CheckCitedSubset(fused []ScoredNode) error {
	allowed := make(map[string]struct{}, len(fused))
	for _, f := range fused {
		allowed[f.Node.ID] = struct{}{}
	}
	for _, n := range r.Context {
		if _, ok := allowed[n.ID]; !ok {
			return fmt.Errorf("cited node %s was not part of the retrieved context", n.ID)
		}
	}
	return nil
}
