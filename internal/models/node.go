// Package models defines the core data structures shared by ingestion, retrieval and judging.
package models

import (
	"errors"
	"fmt"
)

// Node kinds.
const (
	KindChunk  = "chunk"
	KindParent = "parent"
)

// SourceRef describes where a node's text came from.
type SourceRef struct {
	// Ref identifies the originating document: a file path or "collection/index" for records.
	Ref        string `json:"ref"`
	Collection string `json:"collection,omitempty"`
	Record     int    `json:"record,omitempty"`
	// Label is a short human readable origin such as "tables" or "text".
	Label string `json:"label,omitempty"`
}

// Node is an immutable unit of retrievable content. Nodes are created by the
// node builder and never mutated afterwards; slices must be treated as read-only.
type Node struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	ParentID  string    `json:"parent_id,omitempty"`
	ChildIDs  []string  `json:"child_ids,omitempty"`
	// Ordinal is the node's position in its NodeSet arena.
	Ordinal int       `json:"ordinal"`
	Source  SourceRef `json:"source"`
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool {
	return len(n.ChildIDs) == 0
}

// ScoredNode is a node with a strategy-specific relevance score.
type ScoredNode struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// NodeIDs returns the ids of nodes in order.
func NodeIDs(nodes []ScoredNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Node.ID
	}
	return ids
}

// ErrInvalidNodeSet is returned when nodes passed to NewNodeSet are inconsistent.
var ErrInvalidNodeSet = errors.New("invalid node set")

// NodeSet is the arena that owns every node of one session. Parent and child
// links are ids resolved through the set's index.
type NodeSet struct {
	nodes  []Node
	index  map[string]int
	leaves []int
}

// NewNodeSet builds an arena from nodes, assigning ordinals in the given order.
// Ids must be unique and every parent/child link must resolve inside the set.
func NewNodeSet(nodes []Node) (*NodeSet, error) {
	s := &NodeSet{
		nodes: make([]Node, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has no id", ErrInvalidNodeSet, i)
		}
		if _, dup := s.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidNodeSet, n.ID)
		}
		n.Ordinal = i
		if n.Kind == "" {
			n.Kind = KindChunk
		}
		s.nodes[i] = n
		s.index[n.ID] = i
	}
	for _, n := range s.nodes {
		if n.ParentID != "" {
			p, ok := s.index[n.ParentID]
			if !ok {
				return nil, fmt.Errorf("%w: parent %s of %s not found", ErrInvalidNodeSet, n.ParentID, n.ID)
			}
			if !containsID(s.nodes[p].ChildIDs, n.ID) {
				return nil, fmt.Errorf("%w: parent %s does not list child %s", ErrInvalidNodeSet, n.ParentID, n.ID)
			}
		}
		for _, c := range n.ChildIDs {
			ci, ok := s.index[c]
			if !ok {
				return nil, fmt.Errorf("%w: child %s of %s not found", ErrInvalidNodeSet, c, n.ID)
			}
			if s.nodes[ci].ParentID != n.ID {
				return nil, fmt.Errorf("%w: child %s does not point back to %s", ErrInvalidNodeSet, c, n.ID)
			}
		}
		if n.IsLeaf() {
			s.leaves = append(s.leaves, n.Ordinal)
		}
	}
	return s, nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Len returns the number of leaf nodes, the retrievable sequence.
func (s *NodeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.leaves)
}

// IsEmpty reports whether the set has nothing to retrieve.
func (s *NodeSet) IsEmpty() bool {
	return s.Len() == 0
}

// Size returns the total number of nodes including parents.
func (s *NodeSet) Size() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

// Leaves returns the leaf nodes in arena order.
func (s *NodeSet) Leaves() []Node {
	if s == nil {
		return nil
	}
	out := make([]Node, len(s.leaves))
	for i, idx := range s.leaves {
		out[i] = s.nodes[idx]
	}
	return out
}

// All returns every node in arena order.
func (s *NodeSet) All() []Node {
	if s == nil {
		return nil
	}
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Get returns the node with id.
func (s *NodeSet) Get(id string) (Node, bool) {
	if s == nil {
		return Node{}, false
	}
	idx, ok := s.index[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[idx], true
}

// Contains reports whether id belongs to the set.
func (s *NodeSet) Contains(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Parent returns the parent of the node with id, if any.
func (s *NodeSet) Parent(id string) (Node, bool) {
	n, ok := s.Get(id)
	if !ok || n.ParentID == "" {
		return Node{}, false
	}
	return s.Get(n.ParentID)
}
