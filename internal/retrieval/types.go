// Package retrieval implements the two KV-free retrieval stores the
// agent orchestrator's per-turn retrieval step queries: an in-memory
// cosine top-k store and a PostgreSQL/pgvector-backed persistent store.
package retrieval

// Item is one vector record kept by the in-memory store.
type Item struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Result is one scored hit from a TopK query.
type Result struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]string
}
