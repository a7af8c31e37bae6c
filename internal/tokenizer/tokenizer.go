// Package tokenizer wraps the subword tokenizer used by the causal LM
// with the minimal Encode/Decode surface the rest of this module needs.
package tokenizer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/tensorloom/loom/internal/errs"
)

// Tokenizer wraps sugarme/tokenizer loaded from a local tokenizer.json
// file path (this system takes model and tokenizer files as local
// paths per §6, never a remote hub id).
type Tokenizer struct {
	tok *tokenizer.Tokenizer
}

// FromFile loads and sanitizes a tokenizer.json at path.
func FromFile(path string) (*Tokenizer, error) {
	sanitized, err := sanitizeTokenizerJSON(path)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "sanitize tokenizer file", err)
	}
	tok, err := pretrained.FromFile(sanitized)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "load tokenizer "+path, err)
	}
	return &Tokenizer{tok: tok}, nil
}

// Encode converts text to token ids.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	enc, err := t.tok.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "encode", err)
	}
	ids := make([]int64, len(enc.Ids))
	for i, v := range enc.Ids {
		ids[i] = int64(v)
	}
	return ids, nil
}

// Decode converts token ids back to text.
func (t *Tokenizer) Decode(ids []int64) (string, error) {
	uids := make([]int, len(ids))
	for i, v := range ids {
		uids[i] = int(v)
	}
	return t.tok.Decode(uids, true), nil
}

// VocabSize returns the tokenizer's vocabulary size.
func (t *Tokenizer) VocabSize() int {
	return t.tok.GetVocabSize(true)
}

// sanitizeTokenizerJSON rewrites regex constructs sugarme/tokenizer's
// Go regexp engine can't parse (negative lookahead) into an equivalent
// Go regexp can handle, and returns the path to the rewritten copy.
func sanitizeTokenizerJSON(origPath string) (string, error) {
	raw, err := os.ReadFile(origPath)
	if err != nil {
		return "", err
	}
	content := string(raw)
	content = strings.ReplaceAll(content, `\s+(?!\S)`, `\s+`)
	content = strings.ReplaceAll(content, `\\s+(?!\\S)`, `\\s+`)

	dir := filepath.Dir(origPath)
	sanitizedPath := filepath.Join(dir, "tokenizer_sanitized.json")
	if err := os.WriteFile(sanitizedPath, []byte(content), 0o644); err != nil {
		return "", err
	}
	return sanitizedPath, nil
}
