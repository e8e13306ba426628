package vector

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/diydoctor/pkg/utils"
)

// MemoryIndex is a brute-force cosine similarity index. Vectors are stored
// unit-normalized, so a search is one dot product per stored vector.
type MemoryIndex struct {
	dimensions int

	mu      sync.RWMutex
	ids     []string
	vectors [][]float32
	seen    map[string]struct{}
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions, seen: make(map[string]struct{})}, nil
}

// Add stores normalized copies of vectors under ids. The batch is checked
// before anything is stored. Insertion order breaks score ties in Search.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d ids, %d vectors", len(ids), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", id, len(vectors[i]), m.dimensions)
		}
		_, dup := m.seen[id]
		if _, again := batch[id]; dup || again {
			return fmt.Errorf("duplicate vector id %s", id)
		}
		batch[id] = struct{}{}
	}
	for i, id := range ids {
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, unit(vectors[i]))
		m.seen[id] = struct{}{}
	}
	return nil
}

// Search returns the k most similar vectors, highest cosine first.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := unit(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	top := make(hitHeap, 0, k+1)
	for i, vec := range m.vectors {
		h := hit{pos: i, score: dot(q, vec)}
		if len(top) < k {
			heap.Push(&top, h)
		} else if h.better(top[0]) {
			top[0] = h
			heap.Fix(&top, 0)
		}
	}
	sort.Slice(top, func(i, j int) bool { return top[i].better(top[j]) })
	out := make([]Result, len(top))
	for i, h := range top {
		out[i] = Result{ID: m.ids[h.pos], Score: h.score}
	}
	return out, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close releases the stored vectors.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = nil
	m.vectors = nil
	m.seen = make(map[string]struct{})
	return nil
}

func unit(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	utils.NormalizeL2(out)
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

type hit struct {
	pos   int
	score float64
}

// better orders by score, then by insertion position.
func (h hit) better(o hit) bool {
	if h.score != o.score {
		return h.score > o.score
	}
	return h.pos < o.pos
}

// hitHeap keeps the worst retained hit at the root.
type hitHeap []hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[j].better(h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
