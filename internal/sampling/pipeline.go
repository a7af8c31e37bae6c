package sampling

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Sample turns one step's logits into a token id per cfg. recent is
// the list of already-generated token ids this turn, oldest first,
// used by the penalty stages. logits is read-only; Sample never
// mutates the caller's slice.
func Sample(logits []float32, cfg Config, recent []int64, rng *rand.Rand) int64 {
	if len(logits) == 0 {
		return 0
	}
	if cfg.UseGreedy || cfg.Temperature <= 1e-6 {
		return int64(argmax(logits))
	}

	work := append([]float32(nil), logits...)
	counts := tokenCounts(recent)

	applyRepetitionPenalty(work, counts, cfg.RepetitionPenalty)
	applyFrequencyPresencePenalty(work, counts, cfg.FrequencyPenalty, cfg.PresencePenalty)

	probs := softmaxTemperature(work, cfg.Temperature)
	probs = applyMinP(probs, cfg.MinP)
	probs = applyTopK(probs, cfg.TopK)
	probs = applyTopP(probs, cfg.TopP)
	probs = applyTailFree(probs, cfg.TFSZ)
	probs = applyTypical(probs, cfg.TypicalP)

	return int64(drawCategorical(probs, rng))
}

// argmax returns the index of the largest value, tie-breaking to the
// lowest index.
func argmax(xs []float32) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

func tokenCounts(recent []int64) map[int64]int {
	counts := make(map[int64]int, len(recent))
	for _, t := range recent {
		counts[t]++
	}
	return counts
}

func applyRepetitionPenalty(logits []float32, counts map[int64]int, r float32) {
	if r == 1.0 {
		return
	}
	for t, c := range counts {
		if t < 0 || int(t) >= len(logits) {
			continue
		}
		factor := float32(math.Pow(float64(r), float64(c)))
		if logits[t] > 0 {
			logits[t] /= factor
		} else {
			logits[t] *= factor
		}
	}
}

func applyFrequencyPresencePenalty(logits []float32, counts map[int64]int, freq, presence float32) {
	if freq == 0 && presence == 0 {
		return
	}
	for t, c := range counts {
		if t < 0 || int(t) >= len(logits) {
			continue
		}
		logits[t] -= float32(c) * freq
		logits[t] -= presence
	}
}

func softmaxTemperature(logits []float32, temperature float32) []float32 {
	t := temperature
	if t < 1e-6 {
		t = 1e-6
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64((v - maxv) / t)))
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		return probs
	}
	inv := 1 / sum
	for i := range probs {
		probs[i] *= inv
	}
	return probs
}

func renormalize(probs []float32) {
	var sum float32
	for _, p := range probs {
		sum += p
	}
	if sum <= 0 {
		return
	}
	inv := 1 / sum
	for i := range probs {
		probs[i] *= inv
	}
}

// descendingIndices returns indices sorted by descending probability,
// ties broken by ascending index.
func descendingIndices(probs []float32) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if probs[idx[a]] != probs[idx[b]] {
			return probs[idx[a]] > probs[idx[b]]
		}
		return idx[a] < idx[b]
	})
	return idx
}

func applyMinP(probs []float32, minP float32) []float32 {
	if minP <= 0 {
		return probs
	}
	var maxv float32
	for _, p := range probs {
		if p > maxv {
			maxv = p
		}
	}
	thresh := minP * maxv
	any := false
	for i, p := range probs {
		if p < thresh {
			probs[i] = 0
		} else {
			any = true
		}
	}
	if any {
		renormalize(probs)
	}
	return probs
}

func applyTopK(probs []float32, k int) []float32 {
	if k <= 0 || k >= len(probs) {
		return probs
	}
	idx := descendingIndices(probs)
	keep := make(map[int]bool, k)
	for i := 0; i < k; i++ {
		keep[idx[i]] = true
	}
	for i := range probs {
		if !keep[i] {
			probs[i] = 0
		}
	}
	renormalize(probs)
	return probs
}

func applyTopP(probs []float32, p float32) []float32 {
	if p >= 1 {
		return probs
	}
	idx := descendingIndices(probs)
	var cum float32
	cutoff := len(idx)
	for i, id := range idx {
		cum += probs[id]
		if cum >= p {
			cutoff = i + 1
			break
		}
	}
	keep := make(map[int]bool, cutoff)
	for i := 0; i < cutoff; i++ {
		keep[idx[i]] = true
	}
	for i := range probs {
		if !keep[i] {
			probs[i] = 0
		}
	}
	renormalize(probs)
	return probs
}

func applyTailFree(probs []float32, z float32) []float32 {
	if z >= 1 {
		return probs
	}
	idx := descendingIndices(probs)
	sorted := make([]float32, len(idx))
	for i, id := range idx {
		sorted[i] = probs[id]
	}
	if len(sorted) < 2 {
		return probs
	}
	diffs := make([]float32, len(sorted)-1)
	var total float32
	for i := 0; i < len(sorted)-1; i++ {
		d := sorted[i] - sorted[i+1]
		if d < 0 {
			d = -d
		}
		diffs[i] = d
		total += d
	}
	if total == 0 {
		return probs
	}
	keepCount := len(sorted)
	var cum float32
	for i, d := range diffs {
		cum += d / total
		if cum >= z {
			keepCount = i + 1
			break
		}
	}
	keep := make(map[int]bool, keepCount)
	for i := 0; i < keepCount; i++ {
		keep[idx[i]] = true
	}
	for i := range probs {
		if !keep[i] {
			probs[i] = 0
		}
	}
	renormalize(probs)
	return probs
}

func applyTypical(probs []float32, p float32) []float32 {
	if p >= 1 {
		return probs
	}
	var entropy float64
	for _, v := range probs {
		if v <= 0 {
			continue
		}
		entropy += -float64(v) * math.Log(float64(v))
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(probs))
	for i, v := range probs {
		var surprisal float64
		if v > 0 {
			surprisal = -math.Log(float64(v))
		} else {
			surprisal = math.Inf(1)
		}
		d := surprisal - entropy
		if d < 0 {
			d = -d
		}
		scores[i] = scored{idx: i, score: d}
	}
	sort.Slice(scores, func(a, b int) bool {
		if scores[a].score != scores[b].score {
			return scores[a].score < scores[b].score
		}
		return scores[a].idx < scores[b].idx
	})

	var cum float32
	keepCount := len(scores)
	for i, s := range scores {
		cum += probs[s.idx]
		if cum >= p {
			keepCount = i + 1
			break
		}
	}
	keep := make(map[int]bool, keepCount)
	for i := 0; i < keepCount; i++ {
		keep[scores[i].idx] = true
	}
	for i := range probs {
		if !keep[i] {
			probs[i] = 0
		}
	}
	renormalize(probs)
	return probs
}

func drawCategorical(probs []float32, rng *rand.Rand) int {
	r := float32(rng.Float64())
	var acc float32
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(probs) - 1
}
