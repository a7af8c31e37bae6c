// Package convo implements a single conversation's generation loop: it
// owns one causal LM's KV state across turns, decodes sampled tokens
// back to text, and streams fragments to the caller with back-pressure.
package convo

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/kv"
	"github.com/tensorloom/loom/internal/lm"
	"github.com/tensorloom/loom/internal/sampling"
	"github.com/tensorloom/loom/internal/tensorrt"
)

// stopWindow is the width of the rolling decoded tail checked against
// configured stop sequences.
const stopWindow = 100

// Codec is the subset of internal/tokenizer.Tokenizer a session needs.
// Declaring it here (rather than depending on the concrete type)
// lets tests drive Generate with a fake tokenizer.
type Codec interface {
	Encode(text string, addSpecialTokens bool) ([]int64, error)
	Decode(ids []int64) (string, error)
}

// Fragment is one decoded piece of generated text yielded by Generate.
type Fragment struct {
	TokenID int64
	Text    string
}

// Session owns one conversation's KV state, transcript, and PRNG. It
// is not safe for concurrent use: Generate takes a non-reentrant lock
// for its duration and a second concurrent call fails fast rather than
// racing on KV state.
type Session struct {
	mu sync.Mutex

	driver *lm.Driver
	tok    Codec

	kvState    kv.State
	transcript strings.Builder
	rng        *rand.Rand

	poisoned bool
	lastErr  error
}

// New builds a fresh conversation session over an already-open LM
// driver and tokenizer. seed, if non-nil, makes the session's sampling
// fully reproducible.
func New(driver *lm.Driver, tok Codec, seed *uint64) *Session {
	return &Session{
		driver:  driver,
		tok:     tok,
		kvState: kv.Empty(),
		rng:     sampling.NewRNG(seed),
	}
}

// Err returns the error, if any, that caused the most recent Generate
// call's channel to close early. It is nil after a clean stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Transcript returns the full UTF-8 text exchanged on this session so
// far (every prompt appended plus every generated fragment).
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// Generate appends promptText to the transcript, encodes it, and
// streams decoded fragments on the returned channel until cfg.MaxTokens
// is reached, a stop token/sequence fires, or an error occurs. The
// channel is unbuffered: the producer blocks on each send, so a slow
// consumer throttles generation for free. Call Err() after the channel
// closes to distinguish a clean stop from a failure.
func (s *Session) Generate(ctx context.Context, promptText string, cfg sampling.Config) (<-chan Fragment, error) {
	if !s.mu.TryLock() {
		return nil, errs.New(errs.InvariantViolation, "Generate called concurrently on the same session")
	}
	if s.poisoned {
		err := s.lastErr
		s.mu.Unlock()
		return nil, errs.Wrap(errs.InvariantViolation, "session poisoned by a previous invariant violation", err)
	}

	ch := make(chan Fragment)
	go func() {
		defer close(ch)
		defer s.mu.Unlock()
		err := s.generateLoop(ctx, promptText, cfg, ch)
		s.lastErr = err
		if kind, ok := errs.Of(err); ok && kind == errs.InvariantViolation {
			s.poisoned = true
		}
	}()
	return ch, nil
}

func (s *Session) generateLoop(ctx context.Context, promptText string, cfg sampling.Config, ch chan<- Fragment) error {
	s.transcript.WriteString(promptText)

	inputIDs, err := s.tok.Encode(promptText, s.kvState.S == 0)
	if err != nil {
		return errs.Wrap(errs.RuntimeFailure, "encode prompt", err)
	}

	var generated []int64
	var tail strings.Builder
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = sampling.Default().MaxTokens
	}

	for step := 0; step < maxTokens; step++ {
		logits, newKV, err := s.driver.RunStep(ctx, inputIDs, s.kvState)
		if err != nil {
			return err
		}
		s.kvState.Release()
		s.kvState = newKV

		last := lastPositionLogits(logits)
		nextID := sampling.Sample(last, cfg, generated, s.rng)

		text, err := s.tok.Decode([]int64{nextID})
		if err != nil {
			return errs.Wrap(errs.RuntimeFailure, "decode token", err)
		}
		s.transcript.WriteString(text)
		appendRolling(&tail, text)

		select {
		case ch <- Fragment{TokenID: nextID, Text: text}:
		case <-ctx.Done():
			return errs.Wrap(errs.Cancelled, "context cancelled during generation", ctx.Err())
		}

		generated = append(generated, nextID)

		if isStopToken(nextID, cfg.StopTokenIDs) {
			return nil
		}
		if containsStopSequence(tail.String(), cfg.StopSequences) {
			return nil
		}
		inputIDs = []int64{nextID}
	}
	return nil
}

// Close releases the session's KV tensors and drops its references to
// the tokenizer and LM driver.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kvState.Release()
	s.tok = nil
	s.driver = nil
	return nil
}

// lastPositionLogits slices the final sequence position out of a
// [1, L, V] logits tensor, widening to float32 if needed. A tensor
// whose declared shape has no sequence axis ([1, V]) is already a
// single-token slice and is returned as-is.
func lastPositionLogits(t *tensorrt.Tensor) []float32 {
	data := t.Float32Data()
	if len(t.Shape) < 3 {
		return data
	}
	v := t.Shape[len(t.Shape)-1]
	l := t.Shape[len(t.Shape)-2]
	if l <= 0 || v <= 0 {
		return data
	}
	start := (l - 1) * v
	end := l * v
	if int(end) > len(data) || start < 0 {
		return data
	}
	return data[start:end]
}

func isStopToken(id int64, stops []int64) bool {
	for _, s := range stops {
		if id == s {
			return true
		}
	}
	return false
}

func containsStopSequence(tail string, sequences []string) bool {
	for _, seq := range sequences {
		if seq == "" {
			continue
		}
		if strings.Contains(tail, seq) {
			return true
		}
	}
	return false
}

// appendRolling keeps tail to the last stopWindow runes, matching the
// "rolling window of ≈100 characters" stop-sequence check in §4.6.
func appendRolling(tail *strings.Builder, text string) {
	combined := tail.String() + text
	runes := []rune(combined)
	if len(runes) > stopWindow {
		runes = runes[len(runes)-stopWindow:]
	}
	tail.Reset()
	tail.WriteString(string(runes))
}
