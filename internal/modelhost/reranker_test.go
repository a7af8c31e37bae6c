package modelhost

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/tensorrt"
	"github.com/tensorloom/loom/internal/tensorrt/tensorrttest"
)

func logitsSession(logit float32) *tensorrttest.Session {
	return &tensorrttest.Session{
		Outputs: []tensorrt.TensorInfo{{Name: RerankLogitsOutputName, Dtype: dtype.FP32, Dims: []int64{1, 1}}},
		Step: func(inputs map[string]*tensorrt.Tensor, outInfo []tensorrt.TensorInfo) (map[string]*tensorrt.Tensor, error) {
			return map[string]*tensorrt.Tensor{
				RerankLogitsOutputName: tensorrt.NewFloat32Tensor([]int64{1, 1}, []float32{logit}),
			}, nil
		},
	}
}

func TestReranker_ScoreAppliesLogistic(t *testing.T) {
	r := &Reranker{base: newBase(logitsSession(0), wordCountEncoder{}, RerankLogitsOutputName, 0)}
	score, err := r.Score(context.Background(), "query", "document")
	require.NoError(t, err)
	require.InDelta(t, 0.5, score, 1e-6)
}

func TestReranker_ScorePositiveLogitAboveHalf(t *testing.T) {
	r := &Reranker{base: newBase(logitsSession(2), wordCountEncoder{}, RerankLogitsOutputName, 0)}
	score, err := r.Score(context.Background(), "query", "document")
	require.NoError(t, err)
	require.Greater(t, score, 0.5)
	require.InDelta(t, 1/(1+math.Exp(-2)), score, 1e-6)
}

func TestReranker_ConcatenatesQueryAndDocumentWithSeparator(t *testing.T) {
	var seenText string
	capture := captureEncoder{fn: func(text string) ([]int64, error) {
		seenText = text
		return wordCountEncoder{}.Encode(text)
	}}
	r := &Reranker{base: newBase(logitsSession(0), capture, RerankLogitsOutputName, 0)}
	_, err := r.Score(context.Background(), "q", "d")
	require.NoError(t, err)
	require.Equal(t, "q"+rerankSeparator+"d", seenText)
}
