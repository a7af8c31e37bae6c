// Package lm drives one forward pass of a decoder-only causal language
// model session: assembling input tensors from a token slice and a KV
// state, dispatching the run, and folding the outputs into the next KV
// state.
package lm

import (
	"context"
	"fmt"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/kv"
	"github.com/tensorloom/loom/internal/tensorrt"
)

// Driver binds one loaded causal LM session to its KV mapping. A Driver
// is not safe for concurrent use; callers serialize calls to RunStep
// themselves (internal/convo.Session does this with a non-reentrant
// mutex).
type Driver struct {
	session tensorrt.Session
	mapping *kv.Mapping
}

// NewDriver pairs a session with its already-discovered KV mapping.
func NewDriver(session tensorrt.Session, mapping *kv.Mapping) *Driver {
	return &Driver{session: session, mapping: mapping}
}

// Mapping returns the driver's KV mapping, for callers that need to
// build an initial empty KV state or inspect slot descriptors.
func (d *Driver) Mapping() *kv.Mapping { return d.mapping }

// RunStep executes one forward pass. inputIDs is the slice of new
// token ids to feed this step (the full prompt on the first call, one
// token per call thereafter). past is the KV state produced by the
// previous step, or kv.Empty() on the first call of a session.
func (d *Driver) RunStep(ctx context.Context, inputIDs []int64, past kv.State) (*tensorrt.Tensor, kv.State, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, kv.State{}, err
	}

	l := int64(len(inputIDs))
	if l == 0 {
		return nil, kv.State{}, errs.New(errs.InvalidArgument, "RunStep called with zero input tokens")
	}
	sTotal := past.S + l

	inputs := make(map[string]*tensorrt.Tensor)
	inputs["input_ids"] = tensorrt.NewInt64Tensor([]int64{1, l}, append([]int64(nil), inputIDs...))

	attn := make([]int64, sTotal)
	for i := range attn {
		attn[i] = 1
	}
	inputs["attention_mask"] = tensorrt.NewInt64Tensor([]int64{1, sTotal}, attn)

	if d.mapping.HasPositionIDs {
		pos := make([]int64, l)
		for i := range pos {
			pos[i] = past.S + int64(i)
		}
		inputs["position_ids"] = tensorrt.NewInt64Tensor([]int64{1, l}, pos)
	}

	pastBound := past.Inputs()
	for _, desc := range d.mapping.Descriptors() {
		if t, ok := pastBound[desc.PastName]; ok {
			inputs[desc.PastName] = t
			continue
		}
		shape, err := kvShape(desc, 0)
		if err != nil {
			return nil, kv.State{}, err
		}
		inputs[desc.PastName] = tensorrt.ZeroTensor(desc.Dtype, shape)
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, kv.State{}, err
	}

	outputs, err := d.session.Run(ctx, inputs)
	if err != nil {
		return nil, kv.State{}, err
	}

	logits, ok := outputs["logits"]
	if !ok {
		return nil, kv.State{}, errs.New(errs.RuntimeFailure, "session produced no logits output")
	}

	for _, desc := range d.mapping.Descriptors() {
		present, ok := outputs[desc.PresentName]
		if !ok {
			return nil, kv.State{}, errs.New(errs.InvariantViolation, "missing present output "+desc.PresentName)
		}
		if err := validatePresentSeq(desc, present, sTotal); err != nil {
			return nil, kv.State{}, err
		}
	}

	next := kv.Advance(d.mapping, outputs, past.S, l)
	if next.S != sTotal {
		return nil, kv.State{}, errs.New(errs.InvariantViolation,
			fmt.Sprintf("KV state S=%d disagrees with computed S_total=%d", next.S, sTotal))
	}
	return logits, next, nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "context cancelled before step assembly", ctx.Err())
	default:
		return nil
	}
}
