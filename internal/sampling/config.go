// Package sampling implements the logit-shaping and categorical-draw
// pipeline that turns one step's raw logits into a sampled token id.
package sampling

// Config holds one turn's sampling parameters. Zero-value Config is
// not directly usable; start from Default() and override fields.
type Config struct {
	Temperature float32
	TopK        int
	TopP        float32
	MinP        float32
	TFSZ        float32
	TypicalP    float32

	RepetitionPenalty float32
	FrequencyPenalty  float32
	PresencePenalty   float32

	MaxTokens int
	Seed      *uint64
	UseGreedy bool

	StopTokenIDs  []int64
	StopSequences []string
}

// Default returns the package-wide defaults from §6 of the generation
// configuration surface.
func Default() Config {
	return Config{
		Temperature:       0.7,
		TopK:              40,
		TopP:              0.95,
		MinP:              0.0,
		TFSZ:              1.0,
		TypicalP:          1.0,
		RepetitionPenalty: 1.0,
		FrequencyPenalty:  0.0,
		PresencePenalty:   0.0,
		MaxTokens:         2048,
		StopTokenIDs:      []int64{0, 2},
	}
}

// Overlay is the generic shape of a per-model-family default overlay
// (see internal/lm.Overlay); WithOverlay applies it to a Config,
// appending to its stop lists and clamping its temperature and top-p
// even where those were set explicitly.
type Overlay struct {
	StopTokenIDs     []int64
	StopSequences    []string
	TemperatureFloor float32
	TopPCeiling      float32
}

// WithOverlay returns a copy of c with a family overlay's stop tokens
// and stop sequences merged in, and temperature/top-p clamped to the
// overlay's floor/ceiling. Call this before layering a turn's explicit
// config on top, per §4.11's ordering: package defaults, then family
// overlay, then explicit turn config.
func (c Config) WithOverlay(o Overlay) Config {
	out := c
	out.StopTokenIDs = append(append([]int64(nil), c.StopTokenIDs...), o.StopTokenIDs...)
	out.StopSequences = append(append([]string(nil), c.StopSequences...), o.StopSequences...)
	if o.TemperatureFloor > 0 && out.Temperature < o.TemperatureFloor {
		out.Temperature = o.TemperatureFloor
	}
	if o.TopPCeiling > 0 && out.TopP > o.TopPCeiling {
		out.TopP = o.TopPCeiling
	}
	return out
}
