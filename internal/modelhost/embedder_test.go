package modelhost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbedder_EmbedUsesBaseExecuteNormalized(t *testing.T) {
	e := &Embedder{base: newBase(echoEmbeddingSession(2), wordCountEncoder{}, EmbeddingOutputName, 0)}
	vec, err := e.Embed(context.Background(), "aa bbbb")
	require.NoError(t, err)
	require.InDelta(t, 1.0, float64(vec[0]*vec[0]+vec[1]*vec[1]), 1e-4)
}

func TestEmbedder_EmbedQueryPrependsPrefix(t *testing.T) {
	var seenText string
	capture := captureEncoder{fn: func(text string) ([]int64, error) {
		seenText = text
		return wordCountEncoder{}.Encode(text)
	}}
	e := &Embedder{base: newBase(echoEmbeddingSession(2), capture, EmbeddingOutputName, 0)}
	_, err := e.EmbedQuery(context.Background(), "cats")
	require.NoError(t, err)
	require.True(t, len(seenText) > len("cats"))
	require.Contains(t, seenText, BGEQueryPrefix)
	require.Contains(t, seenText, "cats")
}

type captureEncoder struct {
	fn func(text string) ([]int64, error)
}

func (c captureEncoder) Encode(text string) ([]int64, error) { return c.fn(text) }
