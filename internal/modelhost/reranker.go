package modelhost

import (
	"context"
	"math"

	"github.com/daulet/tokenizers"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/tensorrt"
)

// RerankLogitsOutputName is the output slot a cross-encoder reranker
// declares its raw relevance score under.
const RerankLogitsOutputName = "logits"

// rerankSeparator joins query and document into the single sequence a
// cross-encoder reranker expects, mirroring the tokenizer's own
// special-token separator convention at the text level so a plain
// tokenizer (without explicit pair-encoding support) still produces a
// single coherent sequence.
const rerankSeparator = "[SEP]"

// Reranker wraps a loaded cross-encoder session to score a
// (query, document) pair with a single relevance scalar in [0, 1].
type Reranker struct {
	base *Base
}

// NewReranker constructs a Reranker against session and tok. maxTokens
// <= 0 uses DefaultMaxTokens.
func NewReranker(session tensorrt.Session, tok *tokenizers.Tokenizer, maxTokens int) *Reranker {
	return &Reranker{base: NewBase(session, tok, RerankLogitsOutputName, maxTokens)}
}

// Score concatenates query and document and runs the cross-encoder,
// applying the logistic function to its first logit to produce a
// relevance probability in [0, 1].
func (r *Reranker) Score(ctx context.Context, query, document string) (float64, error) {
	vec, _, err := r.base.Execute(ctx, query+rerankSeparator+document, false)
	if err != nil {
		return 0, err
	}
	if len(vec) == 0 {
		return 0, errs.New(errs.RuntimeFailure, "reranker produced an empty logits output")
	}
	return logistic(float64(vec[0])), nil
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
