package tensorrt

import (
	"context"
	"fmt"
	"os"
	"sync"

	onnx "github.com/yalue/onnxruntime_go"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/errs"
)

var (
	envOnce  sync.Once
	envErr   error
	envReady bool
)

// InitEnvironment initializes the ONNX Runtime process-wide logging
// environment exactly once. It is the only global, process-wide handle
// this system touches; callers should pair it with ShutdownEnvironment
// at process exit.
func InitEnvironment() error {
	envOnce.Do(func() {
		envErr = onnx.InitializeEnvironment(onnx.WithLogLevelWarning())
		envReady = envErr == nil
	})
	return envErr
}

// ShutdownEnvironment tears down the ONNX Runtime environment if it was
// initialized. Safe to call even if InitEnvironment was never called.
func ShutdownEnvironment() error {
	if !envReady {
		return nil
	}
	err := onnx.DestroyEnvironment()
	envReady = false
	return err
}

// onnxRuntime is the Runtime implementation backed by onnxruntime_go.
type onnxRuntime struct{}

// NewRuntime returns the ONNX-Runtime-backed Runtime. InitEnvironment
// must be called (and succeed) before Open.
func NewRuntime() Runtime { return &onnxRuntime{} }

func (onnxRuntime) Open(modelPath string, providers []Provider) (Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("model file %q", modelPath), err)
	}

	inInfos, outInfos, err := onnx.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "introspect model inputs/outputs", err)
	}

	inputNames := make([]string, len(inInfos))
	for i, info := range inInfos {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outInfos))
	for i, info := range outInfos {
		outputNames[i] = info.Name
	}

	opts, err := sessionOptionsFor(providers)
	if err != nil {
		return nil, err
	}
	if opts != nil {
		defer opts.Destroy()
	}

	sess, err := onnx.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "create ONNX session", err)
	}

	return &onnxSession{
		session: sess,
		inputs:  toTensorInfo(inInfos),
		outputs: toTensorInfo(outInfos),
	}, nil
}

// sessionOptionsFor walks the provider preference list and returns the
// first set of session options that can be constructed. CPU always
// succeeds; the rest require runtime/hardware support this facade does
// not attempt to detect beyond what the onnxruntime_go binding exposes.
func sessionOptionsFor(providers []Provider) (*onnx.SessionOptions, error) {
	if len(providers) == 0 {
		return nil, nil
	}
	opts, err := onnx.NewSessionOptions()
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "create session options", err)
	}
	for _, p := range providers {
		switch p {
		case CPU:
			return opts, nil
		case CUDA:
			if err := opts.AppendExecutionProviderCUDA(); err == nil {
				return opts, nil
			}
		case CoreML:
			if err := opts.AppendExecutionProviderCoreML(0); err == nil {
				return opts, nil
			}
		default:
			// Providers without a binding-level append function fall
			// through to CPU rather than failing the whole session.
		}
	}
	return opts, nil
}

func toTensorInfo(infos []onnx.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = TensorInfo{
			Name:  info.Name,
			Dtype: fromONNXDtype(info.DataType),
			Dims:  info.Dimensions,
		}
	}
	return out
}

func fromONNXDtype(d onnx.TensorElementDataType) dtype.Kind {
	switch d {
	case onnx.TensorElementDataTypeInt64:
		return dtype.Int64
	case onnx.TensorElementDataTypeFloat16:
		return dtype.FP16
	case onnx.TensorElementDataTypeBFloat16:
		return dtype.BF16
	default:
		return dtype.FP32
	}
}

type onnxSession struct {
	session *onnx.DynamicAdvancedSession
	inputs  []TensorInfo
	outputs []TensorInfo
}

func (s *onnxSession) InputInfo() []TensorInfo  { return s.inputs }
func (s *onnxSession) OutputInfo() []TensorInfo { return s.outputs }

func (s *onnxSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	inValues := make([]onnx.Value, len(s.inputs))
	var owned []onnx.Value
	defer func() {
		for _, v := range owned {
			v.Destroy()
		}
	}()

	for i, info := range s.inputs {
		t, ok := inputs[info.Name]
		if !ok {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("missing input %q", info.Name))
		}
		v, err := toONNXValue(t)
		if err != nil {
			return nil, err
		}
		inValues[i] = v
		owned = append(owned, v)
	}

	outValues := make([]onnx.Value, len(s.outputs))

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	if err := s.session.Run(inValues, outValues); err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "onnx Run", err)
	}

	result := make(map[string]*Tensor, len(s.outputs))
	for i, info := range s.outputs {
		t, err := fromONNXValue(outValues[i], info.Dtype)
		outValues[i].Destroy()
		if err != nil {
			return nil, err
		}
		result[info.Name] = t
	}
	return result, nil
}

func (s *onnxSession) Close() error {
	s.session.Destroy()
	return nil
}

func toONNXValue(t *Tensor) (onnx.Value, error) {
	shape := onnx.NewShape(t.Shape...)
	switch t.Dtype {
	case dtype.Int64:
		return onnx.NewTensor(shape, t.I64)
	case dtype.FP32:
		return onnx.NewTensor(shape, t.F32)
	case dtype.FP16, dtype.BF16:
		return onnx.NewTensor(shape, t.U16)
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unsupported dtype %s for runtime tensor", t.Dtype))
	}
}

func fromONNXValue(v onnx.Value, kind dtype.Kind) (*Tensor, error) {
	switch kind {
	case dtype.Int64:
		tt, ok := v.(*onnx.Tensor[int64])
		if !ok {
			return nil, errs.New(errs.RuntimeFailure, "output is not an int64 tensor")
		}
		return &Tensor{Dtype: dtype.Int64, Shape: tt.GetShape(), I64: append([]int64(nil), tt.GetData()...)}, nil
	case dtype.FP32:
		tt, ok := v.(*onnx.Tensor[float32])
		if !ok {
			return nil, errs.New(errs.RuntimeFailure, "output is not a float32 tensor")
		}
		return &Tensor{Dtype: dtype.FP32, Shape: tt.GetShape(), F32: append([]float32(nil), tt.GetData()...)}, nil
	case dtype.FP16, dtype.BF16:
		tt, ok := v.(*onnx.Tensor[uint16])
		if !ok {
			return nil, errs.New(errs.RuntimeFailure, "output is not a uint16-backed fp16/bf16 tensor")
		}
		return &Tensor{Dtype: kind, Shape: tt.GetShape(), U16: append([]uint16(nil), tt.GetData()...)}, nil
	default:
		return nil, errs.New(errs.RuntimeFailure, "unsupported output dtype")
	}
}
