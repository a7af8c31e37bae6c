package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/tensorrt"
)

func lfm2Inputs() []tensorrt.TensorInfo {
	return []tensorrt.TensorInfo{
		{Name: "input_ids", Dtype: dtype.Int64, Dims: []int64{-1, -1}},
		{Name: "attention_mask", Dtype: dtype.Int64, Dims: []int64{-1, -1}},
		{Name: "past_key_values.0.key", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
		{Name: "past_key_values.0.value", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
		{Name: "past_key_values.1.key", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
		{Name: "past_key_values.1.value", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
	}
}

func lfm2Outputs() []tensorrt.TensorInfo {
	return []tensorrt.TensorInfo{
		{Name: "logits", Dtype: dtype.FP32, Dims: []int64{-1, -1, 32000}},
		{Name: "present.past_key_values.0.key", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
		{Name: "present.past_key_values.0.value", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
		{Name: "present.past_key_values.1.key", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
		{Name: "present.past_key_values.1.value", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}},
	}
}

func TestDiscover_PairsAllSlots(t *testing.T) {
	mp, err := Discover(lfm2Inputs(), lfm2Outputs())
	require.NoError(t, err)
	require.Len(t, mp.Descriptors(), 4)
	require.False(t, mp.HasPositionIDs)

	d, ok := mp.ByPast("past_key_values.1.value")
	require.True(t, ok)
	require.Equal(t, "present.past_key_values.1.value", d.PresentName)

	d2, ok := mp.ByPresent("present.past_key_values.0.key")
	require.True(t, ok)
	require.Equal(t, "past_key_values.0.key", d2.PastName)
}

func TestDiscover_DetectsPositionIDs(t *testing.T) {
	inputs := append([]tensorrt.TensorInfo{{Name: "position_ids", Dtype: dtype.Int64, Dims: []int64{-1, -1}}}, lfm2Inputs()...)
	mp, err := Discover(inputs, lfm2Outputs())
	require.NoError(t, err)
	require.True(t, mp.HasPositionIDs)
}

func TestDiscover_UnpairedPastIsFatal(t *testing.T) {
	inputs := lfm2Inputs()
	inputs = append(inputs, tensorrt.TensorInfo{Name: "past_key_values.2.key", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}})
	_, err := Discover(inputs, lfm2Outputs())
	require.Error(t, err)
}

func TestDiscover_UnpairedPresentIsFatal(t *testing.T) {
	outputs := lfm2Outputs()
	outputs = append(outputs, tensorrt.TensorInfo{Name: "present.past_key_values.2.key", Dtype: dtype.FP32, Dims: []int64{-1, 8, -1, 64}})
	_, err := Discover(lfm2Inputs(), outputs)
	require.Error(t, err)
}

func TestDiscover_SlotIndexOrdering(t *testing.T) {
	mp, err := Discover(lfm2Inputs(), lfm2Outputs())
	require.NoError(t, err)
	descs := mp.Descriptors()
	for i := 1; i < len(descs); i++ {
		require.Less(t, descs[i-1].SlotIndex, descs[i].SlotIndex)
	}
}

func TestState_EmptyHasNoInputs(t *testing.T) {
	s := Empty()
	require.Equal(t, int64(0), s.S)
	require.Empty(t, s.Inputs())
}

func TestState_AdvanceBindsNextPast(t *testing.T) {
	mp, err := Discover(lfm2Inputs(), lfm2Outputs())
	require.NoError(t, err)

	present := map[string]*tensorrt.Tensor{
		"present.past_key_values.0.key":   tensorrt.NewFloat32Tensor([]int64{1, 8, 3, 64}, make([]float32, 1*8*3*64)),
		"present.past_key_values.0.value": tensorrt.NewFloat32Tensor([]int64{1, 8, 3, 64}, make([]float32, 1*8*3*64)),
		"present.past_key_values.1.key":   tensorrt.NewFloat32Tensor([]int64{1, 8, 3, 64}, make([]float32, 1*8*3*64)),
		"present.past_key_values.1.value": tensorrt.NewFloat32Tensor([]int64{1, 8, 3, 64}, make([]float32, 1*8*3*64)),
	}

	next := Advance(mp, present, 0, 3)
	require.Equal(t, int64(3), next.S)
	require.Len(t, next.Present, 4)

	bound := next.Inputs()
	require.Contains(t, bound, "past_key_values.0.key")
	require.Same(t, present["present.past_key_values.0.key"], bound["past_key_values.0.key"])

	further := Advance(mp, present, next.S, 1)
	require.Equal(t, int64(4), further.S)
}

func TestState_Release(t *testing.T) {
	s := State{S: 5, Present: []Slot{{}}}
	s.Release()
	require.Equal(t, int64(0), s.S)
	require.Nil(t, s.Present)
}
