package retrieval

import (
	"math"
	"sort"
	"sync"
)

// normEpsilon is added under the square root before dividing so a
// zero vector never produces a division by zero.
const normEpsilon = 1e-9

// MemoryStore is an in-memory cosine top-k store. Items are kept in an
// ordered slice rather than a map so ties in TopK can be broken by
// insertion order deterministically.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Item
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Upsert replaces the item with a matching ID in place, preserving its
// position, or appends it if no such item exists.
func (s *MemoryStore) Upsert(it Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == it.ID {
			s.items[i] = it
			return
		}
	}
	s.items = append(s.items, it)
}

// Delete removes the item with the given ID, if present.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// TopK L2-normalizes query and every stored vector, scores by cosine
// similarity (the dot product of the normalized vectors), and returns
// the k highest, ties broken by insertion order.
func (s *MemoryStore) TopK(query []float32, k int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		return nil
	}
	qn := l2Normalize(query)

	results := make([]Result, len(s.items))
	for i, it := range s.items {
		vn := l2Normalize(it.Vector)
		results[i] = Result{
			ID:       it.ID,
			Score:    dot(qn, vn),
			Text:     it.Text,
			Metadata: it.Metadata,
		}
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq + normEpsilon)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
