package sampling

import "math/rand/v2"

// NewRNG builds the seeded PRNG for one conversation session. A fixed
// cfg.Seed makes sampling a pure function of (logits, cfg, recent);
// otherwise the seed is drawn once from process entropy, matching the
// "sourced once at session construction" rule so a session's entire
// generation is still reproducible from the seed it happened to draw.
func NewRNG(seed *uint64) *rand.Rand {
	var s uint64
	if seed != nil {
		s = *seed
	} else {
		s = rand.Uint64()
	}
	return rand.New(rand.NewPCG(s, s))
}
