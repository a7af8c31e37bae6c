package lm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/kv"
	"github.com/tensorloom/loom/internal/tensorrt"
	"github.com/tensorloom/loom/internal/tensorrt/tensorrttest"
)

func testMapping(t *testing.T) *kv.Mapping {
	t.Helper()
	inputs := []tensorrt.TensorInfo{
		{Name: "input_ids", Dtype: dtype.Int64, Dims: []int64{-1, -1}},
		{Name: "attention_mask", Dtype: dtype.Int64, Dims: []int64{-1, -1}},
		{Name: "past_key_values.0.key", Dtype: dtype.FP32, Dims: []int64{-1, 2, -1, 4}},
		{Name: "past_key_values.0.value", Dtype: dtype.FP32, Dims: []int64{-1, 2, -1, 4}},
	}
	outputs := []tensorrt.TensorInfo{
		{Name: "logits", Dtype: dtype.FP32, Dims: []int64{-1, -1, 10}},
		{Name: "present.past_key_values.0.key", Dtype: dtype.FP32, Dims: []int64{-1, 2, -1, 4}},
		{Name: "present.past_key_values.0.value", Dtype: dtype.FP32, Dims: []int64{-1, 2, -1, 4}},
	}
	mp, err := kv.Discover(inputs, outputs)
	require.NoError(t, err)
	return mp
}

// stepEcho mimics a one-layer causal LM: it returns logits of the
// right shape and present KV tensors whose sequence length matches
// whatever past + new tokens were bound, so RunStep's own bookkeeping
// can be checked against it.
func stepEcho(inputs map[string]*tensorrt.Tensor, outInfo []tensorrt.TensorInfo) (map[string]*tensorrt.Tensor, error) {
	l := inputs["input_ids"].Shape[1]
	sTotal := inputs["attention_mask"].Shape[1]
	pastSeq := inputs["past_key_values.0.key"].Shape[2]
	_ = pastSeq

	out := make(map[string]*tensorrt.Tensor)
	out["logits"] = tensorrt.ZeroTensor(dtype.FP32, []int64{1, l, 10})
	out["present.past_key_values.0.key"] = tensorrt.ZeroTensor(dtype.FP32, []int64{1, 2, sTotal, 4})
	out["present.past_key_values.0.value"] = tensorrt.ZeroTensor(dtype.FP32, []int64{1, 2, sTotal, 4})
	return out, nil
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	mp := testMapping(t)
	sess := &tensorrttest.Session{
		Inputs: []tensorrt.TensorInfo{
			{Name: "input_ids"}, {Name: "attention_mask"},
			{Name: "past_key_values.0.key"}, {Name: "past_key_values.0.value"},
		},
		Outputs: []tensorrt.TensorInfo{
			{Name: "logits"}, {Name: "present.past_key_values.0.key"}, {Name: "present.past_key_values.0.value"},
		},
		Step: stepEcho,
	}
	return NewDriver(sess, mp)
}

func TestRunStep_FirstStepZeroLengthPast(t *testing.T) {
	d := newTestDriver(t)
	logits, next, err := d.RunStep(context.Background(), []int64{1, 2, 3}, kv.Empty())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 10}, logits.Shape)
	require.Equal(t, int64(3), next.S)
	require.Len(t, next.Present, 2)

	sess := d.session.(*tensorrttest.Session)
	require.Len(t, sess.Calls, 1)
	boundPast := sess.Calls[0]["past_key_values.0.key"]
	require.Equal(t, int64(0), boundPast.Shape[2])
}

func TestRunStep_SubsequentStepReusesPast(t *testing.T) {
	d := newTestDriver(t)
	_, first, err := d.RunStep(context.Background(), []int64{1, 2, 3}, kv.Empty())
	require.NoError(t, err)

	logits, second, err := d.RunStep(context.Background(), []int64{4}, first)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1, 10}, logits.Shape)
	require.Equal(t, int64(4), second.S)

	sess := d.session.(*tensorrttest.Session)
	boundPast := sess.Calls[1]["past_key_values.0.key"]
	require.Equal(t, int64(3), boundPast.Shape[2])
	boundAttn := sess.Calls[1]["attention_mask"]
	require.Equal(t, []int64{1, 4}, boundAttn.Shape)
}

func TestRunStep_PositionIDsBoundWhenDeclared(t *testing.T) {
	mp := testMapping(t)
	mp.HasPositionIDs = true
	sess := &tensorrttest.Session{
		Inputs: []tensorrt.TensorInfo{
			{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "position_ids"},
			{Name: "past_key_values.0.key"}, {Name: "past_key_values.0.value"},
		},
		Outputs: []tensorrt.TensorInfo{
			{Name: "logits"}, {Name: "present.past_key_values.0.key"}, {Name: "present.past_key_values.0.value"},
		},
		Step: stepEcho,
	}
	d := NewDriver(sess, mp)
	_, first, err := d.RunStep(context.Background(), []int64{1, 2}, kv.Empty())
	require.NoError(t, err)

	_, _, err = d.RunStep(context.Background(), []int64{3}, first)
	require.NoError(t, err)
	bound := sess.Calls[1]["position_ids"]
	require.Equal(t, []int64{1, 1}, bound.Shape)
	require.Equal(t, []int64{2}, bound.I64)
}

func TestRunStep_CancelledBeforeAssembly(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := d.RunStep(ctx, []int64{1}, kv.Empty())
	require.Error(t, err)
}

func TestRunStep_ZeroInputIDsIsInvalidArgument(t *testing.T) {
	d := newTestDriver(t)
	_, _, err := d.RunStep(context.Background(), nil, kv.Empty())
	require.Error(t, err)
}

func TestRunStep_SeqMismatchIsInvariantViolation(t *testing.T) {
	mp := testMapping(t)
	sess := &tensorrttest.Session{
		Inputs: []tensorrt.TensorInfo{
			{Name: "input_ids"}, {Name: "attention_mask"},
			{Name: "past_key_values.0.key"}, {Name: "past_key_values.0.value"},
		},
		Outputs: []tensorrt.TensorInfo{
			{Name: "logits"}, {Name: "present.past_key_values.0.key"}, {Name: "present.past_key_values.0.value"},
		},
		Step: func(inputs map[string]*tensorrt.Tensor, outInfo []tensorrt.TensorInfo) (map[string]*tensorrt.Tensor, error) {
			out := make(map[string]*tensorrt.Tensor)
			out["logits"] = tensorrt.ZeroTensor(dtype.FP32, []int64{1, 1, 10})
			// Wrong seq length on the present tensor: should be 1, not 5.
			out["present.past_key_values.0.key"] = tensorrt.ZeroTensor(dtype.FP32, []int64{1, 2, 5, 4})
			out["present.past_key_values.0.value"] = tensorrt.ZeroTensor(dtype.FP32, []int64{1, 2, 5, 4})
			return out, nil
		},
	}
	d := NewDriver(sess, mp)
	_, _, err := d.RunStep(context.Background(), []int64{1}, kv.Empty())
	require.Error(t, err)
}
