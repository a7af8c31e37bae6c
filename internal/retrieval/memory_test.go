package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertReplacesInPlace(t *testing.T) {
	s := NewMemory()
	s.Upsert(Item{ID: "a", Vector: []float32{1, 0}, Text: "first"})
	s.Upsert(Item{ID: "b", Vector: []float32{0, 1}, Text: "second"})
	s.Upsert(Item{ID: "a", Vector: []float32{1, 0}, Text: "updated"})

	require.Len(t, s.items, 2)
	require.Equal(t, "updated", s.items[0].Text)
	require.Equal(t, "b", s.items[1].ID)
}

func TestMemoryStore_TopK_OrdersByCosineSimilarity(t *testing.T) {
	s := NewMemory()
	s.Upsert(Item{ID: "parallel", Vector: []float32{1, 0}})
	s.Upsert(Item{ID: "orthogonal", Vector: []float32{0, 1}})
	s.Upsert(Item{ID: "opposite", Vector: []float32{-1, 0}})

	results := s.TopK([]float32{1, 0}, 3)
	require.Len(t, results, 3)
	require.Equal(t, "parallel", results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
	require.Equal(t, "opposite", results[2].ID)
	require.InDelta(t, -1.0, results[2].Score, 1e-6)
}

func TestMemoryStore_TopK_TiesBrokenByInsertionOrder(t *testing.T) {
	s := NewMemory()
	s.Upsert(Item{ID: "first", Vector: []float32{1, 1}})
	s.Upsert(Item{ID: "second", Vector: []float32{2, 2}}) // same direction, same cosine score

	results := s.TopK([]float32{1, 0}, 2)
	require.Equal(t, "first", results[0].ID)
	require.Equal(t, "second", results[1].ID)
}

func TestMemoryStore_TopK_CapsAtAvailableItems(t *testing.T) {
	s := NewMemory()
	s.Upsert(Item{ID: "only", Vector: []float32{1, 0}})
	results := s.TopK([]float32{1, 0}, 5)
	require.Len(t, results, 1)
}

func TestMemoryStore_TopK_ZeroVectorDoesNotPanic(t *testing.T) {
	s := NewMemory()
	s.Upsert(Item{ID: "zero", Vector: []float32{0, 0}})
	results := s.TopK([]float32{0, 0}, 1)
	require.Len(t, results, 1)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemory()
	s.Upsert(Item{ID: "a", Vector: []float32{1}})
	s.Delete("a")
	require.Empty(t, s.items)
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	lit := toVectorLiteral(v)
	require.Equal(t, "[0.5,-1.25,3]", lit)
	require.Equal(t, v, parseVectorLiteral(lit))
}
