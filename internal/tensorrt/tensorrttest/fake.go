// Package tensorrttest provides a fake tensorrt.Session/Runtime pair so
// packages that bind tensors and run forward passes (KV mapping, the LM
// step driver, the model host base) can be exercised without the real
// ONNX Runtime shared library.
package tensorrttest

import (
	"context"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/tensorrt"
)

// StepFunc computes outputs for one Run call given the bound inputs and
// the declared output slots. Tests supply one to model whatever the
// fake causal LM or encoder should produce.
type StepFunc func(inputs map[string]*tensorrt.Tensor, outInfo []tensorrt.TensorInfo) (map[string]*tensorrt.Tensor, error)

// Session is an in-memory tensorrt.Session driven by a StepFunc.
type Session struct {
	Inputs  []tensorrt.TensorInfo
	Outputs []tensorrt.TensorInfo
	Step    StepFunc

	// Calls records every set of bound inputs, in order, for assertions.
	Calls []map[string]*tensorrt.Tensor
	// Closed is set true by Close.
	Closed bool
}

func (s *Session) InputInfo() []tensorrt.TensorInfo  { return s.Inputs }
func (s *Session) OutputInfo() []tensorrt.TensorInfo { return s.Outputs }

func (s *Session) Run(ctx context.Context, inputs map[string]*tensorrt.Tensor) (map[string]*tensorrt.Tensor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.Calls = append(s.Calls, inputs)
	if s.Step != nil {
		return s.Step(inputs, s.Outputs)
	}
	out := make(map[string]*tensorrt.Tensor, len(s.Outputs))
	for _, info := range s.Outputs {
		out[info.Name] = tensorrt.ZeroTensor(info.Dtype, info.Dims)
	}
	return out, nil
}

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

// Runtime always returns the same pre-built Session regardless of model
// path or provider preference, which is all a unit test needs.
type Runtime struct {
	Session *Session
}

func (r *Runtime) Open(modelPath string, providers []tensorrt.Provider) (tensorrt.Session, error) {
	return r.Session, nil
}

// FillInt64 is a convenience constructor for an all-equal int64 tensor,
// used by tests to build expected present/past KV tensors.
func FillInt64(shape []int64, v int64) *tensorrt.Tensor {
	t := tensorrt.ZeroTensor(dtype.Int64, shape)
	for i := range t.I64 {
		t.I64[i] = v
	}
	return t
}

// FillFloat32 is a convenience constructor for an all-equal float32
// tensor.
func FillFloat32(shape []int64, v float32) *tensorrt.Tensor {
	t := tensorrt.ZeroTensor(dtype.FP32, shape)
	for i := range t.F32 {
		t.F32[i] = v
	}
	return t
}
