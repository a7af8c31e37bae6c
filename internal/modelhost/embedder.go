package modelhost

import (
	"context"

	"github.com/daulet/tokenizers"

	"github.com/tensorloom/loom/internal/tensorrt"
)

// EmbeddingOutputName is the conventional output slot most sentence
// embedding models declare for their pooled representation.
const EmbeddingOutputName = "sentence_embedding"

// BGEQueryPrefix is prepended to queries (but not documents) for
// asymmetric retrieval models trained with an instruction prefix, per
// the BGE family's documented usage.
const BGEQueryPrefix = "Represent this sentence for searching relevant passages: "

// Embedder wraps a loaded encoder session to produce a single
// L2-normalized embedding vector per text.
type Embedder struct {
	base *Base
}

// NewEmbedder constructs an Embedder against session and tok. outputName
// names the model's pooled-embedding output slot; an empty string uses
// EmbeddingOutputName. maxTokens <= 0 uses DefaultMaxTokens.
func NewEmbedder(session tensorrt.Session, tok *tokenizers.Tokenizer, outputName string, maxTokens int) *Embedder {
	if outputName == "" {
		outputName = EmbeddingOutputName
	}
	return &Embedder{base: NewBase(session, tok, outputName, maxTokens)}
}

// Embed returns the L2-normalized embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := e.base.Execute(ctx, text, true)
	return vec, err
}

// EmbedQuery embeds text as a retrieval query, prefixing it with
// BGEQueryPrefix first. Document text passed to Embed is left bare, per
// the asymmetric training convention.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.Embed(ctx, BGEQueryPrefix+text)
}
