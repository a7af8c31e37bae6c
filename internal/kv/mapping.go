// Package kv discovers and represents the key-value attention cache
// wiring of a causal language model: which "past" input tensors pair
// with which "present" output tensors, and the running KV state that
// flows from one forward pass to the next.
package kv

import (
	"regexp"
	"sort"

	"github.com/tensorloom/loom/internal/dtype"
	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/tensorrt"
)

var (
	pastNameRe    = regexp.MustCompile(`(?i)past.*?(\d+)(.*)$`)
	presentNameRe = regexp.MustCompile(`(?i)present.*?(\d+)(.*)$`)
)

// Descriptor pairs one past-input slot with its present-output partner,
// plus the shape/dtype/offset metadata needed to bind and allocate
// tensors for it at every step.
type Descriptor struct {
	PastName    string
	PresentName string
	Dtype       dtype.Kind
	Dims        []int64 // declared dims on the past (input) side; seq axis is symbolic (-1)
	SlotIndex   int     // position of PastName within the model's input list
}

// Mapping is the static, computed-once bidirectional map between a
// model's past-input and present-output KV slots.
type Mapping struct {
	descriptors []Descriptor
	byPast      map[string]*Descriptor
	byPresent   map[string]*Descriptor

	HasPositionIDs bool
}

// Discover scans a model's declared inputs and outputs for the
// past_*/present_* naming convention and builds the bidirectional
// mapping. It is a fatal InvariantViolation if any past or present slot
// cannot be paired with its partner.
func Discover(inputs, outputs []tensorrt.TensorInfo) (*Mapping, error) {
	type key struct{ idx, suffix string }

	pastByKey := make(map[key]tensorrt.TensorInfo)
	pastSlot := make(map[string]int)
	hasPositionIDs := false

	for i, in := range inputs {
		switch in.Name {
		case "input_ids", "attention_mask":
			continue
		case "position_ids":
			hasPositionIDs = true
			continue
		}
		m := pastNameRe.FindStringSubmatch(in.Name)
		if m == nil {
			continue
		}
		k := key{idx: m[1], suffix: m[2]}
		pastByKey[k] = in
		pastSlot[in.Name] = i
	}

	presentByKey := make(map[key]tensorrt.TensorInfo)
	for _, out := range outputs {
		if out.Name == "logits" {
			continue
		}
		m := presentNameRe.FindStringSubmatch(out.Name)
		if m == nil {
			continue
		}
		k := key{idx: m[1], suffix: m[2]}
		presentByKey[k] = out
	}

	if len(pastByKey) != len(presentByKey) {
		return nil, errs.New(errs.InvariantViolation,
			"KV slot count mismatch between past inputs and present outputs")
	}

	mp := &Mapping{
		byPast:         make(map[string]*Descriptor),
		byPresent:      make(map[string]*Descriptor),
		HasPositionIDs: hasPositionIDs,
	}

	for k, pastInfo := range pastByKey {
		presentInfo, ok := presentByKey[k]
		if !ok {
			return nil, errs.New(errs.InvariantViolation,
				"past slot "+pastInfo.Name+" has no matching present output")
		}
		d := Descriptor{
			PastName:    pastInfo.Name,
			PresentName: presentInfo.Name,
			Dtype:       pastInfo.Dtype,
			Dims:        pastInfo.Dims,
			SlotIndex:   pastSlot[pastInfo.Name],
		}
		mp.descriptors = append(mp.descriptors, d)
	}
	for k, presentInfo := range presentByKey {
		if _, ok := pastByKey[k]; !ok {
			return nil, errs.New(errs.InvariantViolation,
				"present output "+presentInfo.Name+" has no matching past input")
		}
	}

	sort.Slice(mp.descriptors, func(i, j int) bool {
		return mp.descriptors[i].SlotIndex < mp.descriptors[j].SlotIndex
	})
	for i := range mp.descriptors {
		d := &mp.descriptors[i]
		mp.byPast[d.PastName] = d
		mp.byPresent[d.PresentName] = d
	}

	return mp, nil
}

// Descriptors returns every past/present pair, ordered by input slot
// index.
func (m *Mapping) Descriptors() []Descriptor { return m.descriptors }

// ByPast looks up the descriptor for a past-input slot name.
func (m *Mapping) ByPast(name string) (Descriptor, bool) {
	d, ok := m.byPast[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// ByPresent looks up the descriptor for a present-output slot name.
func (m *Mapping) ByPresent(name string) (Descriptor, bool) {
	d, ok := m.byPresent[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}
