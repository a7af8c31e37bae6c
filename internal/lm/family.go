package lm

import "strings"

// Family tags a recognized causal LM family so its known-good
// generation defaults can be overlaid before a turn's explicit config.
type Family int

const (
	FamilyGeneric Family = iota
	FamilyLlama3
	FamilyQwen2
)

func (f Family) String() string {
	switch f {
	case FamilyLlama3:
		return "llama3"
	case FamilyQwen2:
		return "qwen2"
	default:
		return "generic"
	}
}

// Overlay is the set of generation defaults a family contributes. It
// is applied on top of the package-wide §6 defaults and underneath a
// turn's explicit config.
type Overlay struct {
	StopTokenIDs     []int64
	StopSequences    []string
	TemperatureFloor float32
	TopPCeiling      float32
}

// overlays is the one place a new family's defaults are registered;
// adding a family is one new Family constant plus one entry here.
var overlays = map[Family]Overlay{
	FamilyGeneric: {
		StopTokenIDs:     []int64{0, 2},
		TemperatureFloor: 0.1,
		TopPCeiling:      0.95,
	},
	FamilyLlama3: {
		StopTokenIDs:     []int64{128001, 128009},
		StopSequences:    []string{"<|eot_id|>"},
		TemperatureFloor: 0.1,
		TopPCeiling:      0.95,
	},
	FamilyQwen2: {
		StopTokenIDs:     []int64{151643, 151645},
		StopSequences:    []string{"<|im_end|>"},
		TemperatureFloor: 0.1,
		TopPCeiling:      0.95,
	},
}

// OverlayFor returns the registered overlay for a family, falling back
// to FamilyGeneric's overlay if the family is unrecognized.
func OverlayFor(f Family) Overlay {
	if o, ok := overlays[f]; ok {
		return o
	}
	return overlays[FamilyGeneric]
}

// InferFamily classifies a loaded model's family from its config.json
// model_type and architectures fields. Unrecognized combinations are
// FamilyGeneric, which is always a safe fallback.
func InferFamily(modelType string, architectures []string) Family {
	mt := strings.ToLower(modelType)
	if mt == "llama" || containsFold(architectures, "llama") {
		return FamilyLlama3
	}
	if mt == "qwen2" || containsFold(architectures, "qwen2") {
		return FamilyQwen2
	}
	return FamilyGeneric
}

func containsFold(ss []string, sub string) bool {
	for _, s := range ss {
		if strings.Contains(strings.ToLower(s), sub) {
			return true
		}
	}
	return false
}
