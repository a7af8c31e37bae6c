package convo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/kv"
	"github.com/tensorloom/loom/internal/lm"
	"github.com/tensorloom/loom/internal/sampling"
	"github.com/tensorloom/loom/internal/tensorrt"
	"github.com/tensorloom/loom/internal/tensorrt/tensorrttest"
)

func TestLastPositionLogits_SlicesFinalPosition(t *testing.T) {
	tnsr := &tensorrt.Tensor{Dtype: dtype.FP32, Shape: []int64{1, 2, 3}, F32: []float32{1, 2, 3, 4, 5, 6}}
	require.Equal(t, []float32{4, 5, 6}, lastPositionLogits(tnsr))
}

func TestLastPositionLogits_NoSeqAxisReturnsAsIs(t *testing.T) {
	tnsr := &tensorrt.Tensor{Dtype: dtype.FP32, Shape: []int64{1, 5}, F32: []float32{1, 2, 3, 4, 5}}
	require.Equal(t, []float32{1, 2, 3, 4, 5}, lastPositionLogits(tnsr))
}

func TestIsStopToken(t *testing.T) {
	require.True(t, isStopToken(2, []int64{0, 2}))
	require.False(t, isStopToken(5, []int64{0, 2}))
}

func TestContainsStopSequence(t *testing.T) {
	require.True(t, containsStopSequence("hello</s> world", []string{"</s>"}))
	require.False(t, containsStopSequence("hello world", []string{"</s>"}))
}

// runeCodec is a minimal Codec stand-in: each rune is its own token id.
type runeCodec struct{}

func (runeCodec) Encode(text string, _ bool) ([]int64, error) {
	runes := []rune(text)
	ids := make([]int64, len(runes))
	for i, r := range runes {
		ids[i] = int64(r)
	}
	return ids, nil
}

func (runeCodec) Decode(ids []int64) (string, error) {
	runes := make([]rune, len(ids))
	for i, id := range ids {
		runes[i] = rune(id)
	}
	return string(runes), nil
}

// newOneLayerDriver builds an lm.Driver over a fake one-layer model
// whose Step always reports the vocabulary's index-0 entry as the
// highest-scoring logit, so greedy sampling always emits token id 0.
func newOneLayerDriver(t *testing.T) *lm.Driver {
	t.Helper()
	mp, err := kv.Discover(
		[]tensorrt.TensorInfo{
			{Name: "input_ids", Dtype: dtype.Int64, Dims: []int64{-1, -1}},
			{Name: "attention_mask", Dtype: dtype.Int64, Dims: []int64{-1, -1}},
			{Name: "past_key_values.0.key", Dtype: dtype.FP32, Dims: []int64{-1, 1, -1, 2}},
			{Name: "past_key_values.0.value", Dtype: dtype.FP32, Dims: []int64{-1, 1, -1, 2}},
		},
		[]tensorrt.TensorInfo{
			{Name: "logits", Dtype: dtype.FP32, Dims: []int64{-1, -1, 4}},
			{Name: "present.past_key_values.0.key", Dtype: dtype.FP32, Dims: []int64{-1, 1, -1, 2}},
			{Name: "present.past_key_values.0.value", Dtype: dtype.FP32, Dims: []int64{-1, 1, -1, 2}},
		},
	)
	require.NoError(t, err)

	sess := &tensorrttest.Session{
		Step: func(inputs map[string]*tensorrt.Tensor, outInfo []tensorrt.TensorInfo) (map[string]*tensorrt.Tensor, error) {
			l := inputs["input_ids"].Shape[1]
			sTotal := inputs["attention_mask"].Shape[1]
			pattern := []float32{9, 1, 1, 1}
			data := make([]float32, 0, int(l)*len(pattern))
			for i := int64(0); i < l; i++ {
				data = append(data, pattern...)
			}
			return map[string]*tensorrt.Tensor{
				"logits":                         tensorrt.NewFloat32Tensor([]int64{1, l, 4}, data),
				"present.past_key_values.0.key":   tensorrt.ZeroTensor(dtype.FP32, []int64{1, 1, sTotal, 2}),
				"present.past_key_values.0.value": tensorrt.ZeroTensor(dtype.FP32, []int64{1, 1, sTotal, 2}),
			}, nil
		},
	}
	return lm.NewDriver(sess, mp)
}

func drain(t *testing.T, ch <-chan Fragment) []Fragment {
	t.Helper()
	var got []Fragment
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, f)
		case <-timeout:
			t.Fatal("timed out draining fragments")
		}
	}
}

func TestGenerate_StopsOnStopToken(t *testing.T) {
	s := New(newOneLayerDriver(t), runeCodec{}, nil)
	cfg := sampling.Default()
	cfg.UseGreedy = true
	cfg.MaxTokens = 10
	cfg.StopTokenIDs = []int64{0}

	ch, err := s.Generate(context.Background(), "hi", cfg)
	require.NoError(t, err)
	frags := drain(t, ch)
	require.NoError(t, s.Err())
	require.Len(t, frags, 1)
	require.Equal(t, int64(0), frags[0].TokenID)
}

func TestGenerate_ConcurrentCallFailsFast(t *testing.T) {
	s := New(newOneLayerDriver(t), runeCodec{}, nil)
	cfg := sampling.Default()
	cfg.UseGreedy = true
	cfg.MaxTokens = 1
	cfg.StopTokenIDs = nil // don't stop on token 0 this time

	ch, err := s.Generate(context.Background(), "hi", cfg)
	require.NoError(t, err)

	_, err = s.Generate(context.Background(), "again", cfg)
	require.Error(t, err)

	drain(t, ch)
}

func TestGenerate_MaxTokensCapsOutput(t *testing.T) {
	s := New(newOneLayerDriver(t), runeCodec{}, nil)
	cfg := sampling.Default()
	cfg.UseGreedy = true
	cfg.MaxTokens = 3
	cfg.StopTokenIDs = nil

	ch, err := s.Generate(context.Background(), "hi", cfg)
	require.NoError(t, err)
	frags := drain(t, ch)
	require.Len(t, frags, 3)
	require.NoError(t, s.Err())
}

func TestClose_ReleasesState(t *testing.T) {
	s := New(newOneLayerDriver(t), runeCodec{}, nil)
	require.NoError(t, s.Close())
}
