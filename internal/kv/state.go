package kv

import "github.com/tensorloom/loom/internal/tensorrt"

// Slot is one present-output tensor carried forward as next step's
// past-input, tagged with the descriptor it will bind against.
type Slot struct {
	Descriptor Descriptor
	Tensor     *tensorrt.Tensor
}

// State is the KV cache as of some step boundary: the accumulated
// sequence length S consumed so far, and the present tensors produced
// by the most recent forward pass, each tagged with the past-slot
// descriptor it must be bound to on the next step. State is move-only —
// Advance never mutates its receiver; it returns a new State and the
// caller discards the old one.
type State struct {
	S       int64
	Present []Slot
}

// Empty returns the zero KV state used for the first step of a fresh
// conversation: no accumulated sequence, no present tensors to bind.
func Empty() State {
	return State{}
}

// Inputs returns the bind-ready map of past-input-name to tensor for
// this state, suitable for merging into a step's input set. On the
// first step (S == 0) this is empty and the LM driver must supply
// zero-length past tensors itself.
func (s State) Inputs() map[string]*tensorrt.Tensor {
	in := make(map[string]*tensorrt.Tensor, len(s.Present))
	for _, slot := range s.Present {
		in[slot.Descriptor.PastName] = slot.Tensor
	}
	return in
}

// Advance builds the next State from a step's present-output tensors, a
// KV mapping, the sequence length consumed before this step, and the
// number of new tokens this step added.
func Advance(mapping *Mapping, present map[string]*tensorrt.Tensor, prevS, newTokens int64) State {
	next := State{S: prevS + newTokens, Present: make([]Slot, 0, len(mapping.Descriptors()))}
	for _, d := range mapping.Descriptors() {
		t, ok := present[d.PresentName]
		if !ok {
			continue
		}
		next.Present = append(next.Present, Slot{Descriptor: d, Tensor: t})
	}
	return next
}

// Release drops State's references to its tensors. Tensors in this
// facade are plain Go-owned slices copied out of the runtime at Run
// time (see tensorrt.onnxSession.Run), so Release has no C-level
// cleanup to perform; it exists so callers have one place to mark a
// state retired and let the garbage collector reclaim it.
func (s *State) Release() {
	s.Present = nil
	s.S = 0
}
