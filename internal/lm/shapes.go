package lm

import (
	"fmt"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/kv"
	"github.com/tensorloom/loom/internal/tensorrt"
)

// kvShape concretizes a KV descriptor's declared dims for one step. The
// declared dims carry exactly two symbolic (-1) axes: the first is
// batch, the second is the sequence axis. batch is always 1 (this
// implementation serializes one conversation per session); seqLen is
// 0 on the first step and the accumulated length thereafter.
func kvShape(desc kv.Descriptor, seqLen int64) ([]int64, error) {
	shape := append([]int64(nil), desc.Dims...)
	symbolic := 0
	for i, d := range shape {
		if d != -1 {
			continue
		}
		switch symbolic {
		case 0:
			shape[i] = 1
		case 1:
			shape[i] = seqLen
		default:
			return nil, errs.New(errs.InvariantViolation,
				fmt.Sprintf("KV slot %s declares more than two symbolic dimensions", desc.PastName))
		}
		symbolic++
	}
	if symbolic < 2 {
		return nil, errs.New(errs.InvariantViolation,
			fmt.Sprintf("KV slot %s declares fewer than two symbolic dimensions", desc.PastName))
	}
	return shape, nil
}

// seqAxis returns the index of the sequence axis (the second symbolic
// dimension) within a descriptor's declared dims.
func seqAxis(desc kv.Descriptor) (int, error) {
	symbolic := 0
	for i, d := range desc.Dims {
		if d != -1 {
			continue
		}
		if symbolic == 1 {
			return i, nil
		}
		symbolic++
	}
	return -1, errs.New(errs.InvariantViolation,
		fmt.Sprintf("KV slot %s has no sequence axis", desc.PastName))
}

// validatePresentSeq checks that a present-output tensor's concrete
// sequence-axis length matches the KV state's authoritative S_total.
func validatePresentSeq(desc kv.Descriptor, present *tensorrt.Tensor, sTotal int64) error {
	axis, err := seqAxis(desc)
	if err != nil {
		return err
	}
	if axis >= len(present.Shape) {
		return errs.New(errs.InvariantViolation,
			fmt.Sprintf("present tensor %s has fewer dims than its descriptor", desc.PresentName))
	}
	if present.Shape[axis] != sTotal {
		return errs.New(errs.InvariantViolation,
			fmt.Sprintf("present tensor %s seq length %d disagrees with KV S_total %d",
				desc.PresentName, present.Shape[axis], sTotal))
	}
	return nil
}
