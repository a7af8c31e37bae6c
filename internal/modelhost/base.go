// Package modelhost implements the generic "encode one text → one
// vector" path shared by the embedder and reranker wrappers, built on
// the tensor-graph runtime facade and a WordPiece/BPE tokenizer.
package modelhost

import (
	"context"
	"math"

	"github.com/daulet/tokenizers"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/tensorrt"
)

// DefaultMaxTokens bounds how long an input may tokenize to before
// Execute refuses it with InvalidArgument.
const DefaultMaxTokens = 512

// tokenEncoder is the minimal tokenizer seam Base depends on, so tests
// can drive Execute without the real cgo-backed tokenizer.
type tokenEncoder interface {
	Encode(text string) ([]int64, error)
}

// daueltEncoder adapts *tokenizers.Tokenizer to tokenEncoder.
type daueltEncoder struct {
	tok *tokenizers.Tokenizer
}

func (d daueltEncoder) Encode(text string) ([]int64, error) {
	enc := d.tok.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	ids := make([]int64, len(enc.IDs))
	for i, v := range enc.IDs {
		ids[i] = int64(v)
	}
	return ids, nil
}

// Base binds one loaded encoder session (embedder or reranker model)
// to its tokenizer and declared output slot name.
type Base struct {
	session    tensorrt.Session
	enc        tokenEncoder
	outputName string
	maxTokens  int
}

// NewBase constructs a Base. maxTokens <= 0 uses DefaultMaxTokens.
func NewBase(session tensorrt.Session, tok *tokenizers.Tokenizer, outputName string, maxTokens int) *Base {
	return newBase(session, daueltEncoder{tok: tok}, outputName, maxTokens)
}

func newBase(session tensorrt.Session, enc tokenEncoder, outputName string, maxTokens int) *Base {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Base{session: session, enc: enc, outputName: outputName, maxTokens: maxTokens}
}

// Execute tokenizes text, runs the bound session, and returns the
// declared output widened to float32 (L2-normalized if normalize is
// set) alongside the text actually fed to the model.
func (b *Base) Execute(ctx context.Context, text string, normalize bool) ([]float32, string, error) {
	if text == "" {
		return nil, "", errs.New(errs.InvalidArgument, "empty input text")
	}

	ids, err := b.enc.Encode(text)
	if err != nil {
		return nil, "", errs.Wrap(errs.InvalidArgument, "tokenize input", err)
	}
	if len(ids) > b.maxTokens {
		return nil, "", errs.New(errs.InvalidArgument, "input exceeds configured maximum token length")
	}

	l := int64(len(ids))
	idData := make([]int64, l)
	maskData := make([]int64, l)
	for i, v := range ids {
		idData[i] = v
		maskData[i] = 1
	}

	inputs := map[string]*tensorrt.Tensor{
		"input_ids":      tensorrt.NewInt64Tensor([]int64{1, l}, idData),
		"attention_mask": tensorrt.NewInt64Tensor([]int64{1, l}, maskData),
	}

	outputs, err := b.session.Run(ctx, inputs)
	if err != nil {
		return nil, "", err
	}
	out, ok := outputs[b.outputName]
	if !ok {
		return nil, "", errs.New(errs.RuntimeFailure, "session produced no "+b.outputName+" output")
	}

	vec := append([]float32(nil), out.Float32Data()...)
	if normalize {
		l2NormalizeInPlace(vec)
	}
	return vec, text, nil
}

// normEpsilon mirrors internal/retrieval's convention: added under the
// square root so a near-zero vector never divides by zero.
const normEpsilon = 1e-9

func l2NormalizeInPlace(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq + normEpsilon)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
