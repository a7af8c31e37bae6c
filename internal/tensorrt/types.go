// Package tensorrt is the facade over the external tensor-graph runtime
// (ONNX Runtime, via github.com/yalue/onnxruntime_go). It exposes session
// construction with execution-provider preferences, tensor allocation,
// input/output introspection, and a synchronous bind-and-run — nothing
// more. Callers own every tensor they allocate; the facade never retains
// a tensor past the call that produced it.
package tensorrt

import (
	"context"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/errs"
)

// Provider is an execution-provider preference. Preference order is
// caller-specified; the first provider the runtime can construct wins.
type Provider int

const (
	CPU Provider = iota
	CUDA
	ROCm
	DirectML
	OpenVINO
	CoreML
	MIGraphX
	TensorRT
	NNAPI
	OneDNN
)

func (p Provider) String() string {
	switch p {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case ROCm:
		return "ROCm"
	case DirectML:
		return "DirectML"
	case OpenVINO:
		return "OpenVINO"
	case CoreML:
		return "CoreML"
	case MIGraphX:
		return "MIGraphX"
	case TensorRT:
		return "TensorRT"
	case NNAPI:
		return "NNAPI"
	case OneDNN:
		return "oneDNN"
	default:
		return "unknown"
	}
}

// TensorInfo describes one declared input or output slot of a loaded
// model. Symbolic dimensions are reported as -1.
type TensorInfo struct {
	Name  string
	Dtype dtype.Kind
	Dims  []int64
}

// Tensor is a Go-owned buffer plus its shape and element type. Exactly
// one of the data fields is populated, matching Dtype: I64 for Int64, F32
// for FP32, and U16 for the raw bit patterns of FP16/BF16 (widened lazily
// via the dtype package only at the sampling boundary).
type Tensor struct {
	Dtype dtype.Kind
	Shape []int64
	I64   []int64
	F32   []float32
	U16   []uint16
}

// NumElements returns the product of Shape, or 0 if Shape is empty.
func (t *Tensor) NumElements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Float32Data returns t's data widened to float32 regardless of its
// native Dtype. This is the only place fp16/bf16 bit patterns are
// widened; callers past this boundary work exclusively in float32.
func (t *Tensor) Float32Data() []float32 {
	switch t.Dtype {
	case dtype.FP32:
		return t.F32
	case dtype.FP16:
		return dtype.WidenFP16Slice(t.U16)
	case dtype.BF16:
		return dtype.WidenBF16Slice(t.U16)
	default:
		return nil
	}
}

// NewInt64Tensor allocates a Tensor over caller-supplied int64 data.
func NewInt64Tensor(shape []int64, data []int64) *Tensor {
	return &Tensor{Dtype: dtype.Int64, Shape: shape, I64: data}
}

// NewFloat32Tensor allocates a Tensor over caller-supplied float32 data.
func NewFloat32Tensor(shape []int64, data []float32) *Tensor {
	return &Tensor{Dtype: dtype.FP32, Shape: shape, F32: data}
}

// ZeroTensor allocates a zero-filled Tensor of the given dtype and shape.
func ZeroTensor(kind dtype.Kind, shape []int64) *Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if n < 0 {
		n = 0
	}
	t := &Tensor{Dtype: kind, Shape: shape}
	switch kind {
	case dtype.Int64:
		t.I64 = make([]int64, n)
	case dtype.FP32:
		t.F32 = make([]float32, n)
	case dtype.FP16, dtype.BF16:
		t.U16 = make([]uint16, n)
	}
	return t
}

// Session is a loaded model's inference session: named inputs/outputs and
// a synchronous run that binds explicit tensors to named slots.
type Session interface {
	InputInfo() []TensorInfo
	OutputInfo() []TensorInfo
	// Run blocks until the forward pass completes, or ctx is done before
	// dispatch. inputs must name every declared input slot; the returned
	// map contains every declared output slot.
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Close() error
}

// Runtime constructs Sessions from a model file path and a
// preference-ordered list of execution providers.
type Runtime interface {
	Open(modelPath string, providers []Provider) (Session, error)
}

// checkCancelled returns a Cancelled *errs.Error if ctx is already done,
// else nil. Called at the two checkpoints the spec names: before tensor
// assembly and before dispatching the runtime call.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "context cancelled before runtime dispatch", ctx.Err())
	default:
		return nil
	}
}
