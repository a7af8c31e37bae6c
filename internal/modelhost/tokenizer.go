package modelhost

import (
	"github.com/daulet/tokenizers"

	"github.com/tensorloom/loom/internal/errs"
)

// LoadTokenizer loads the WordPiece/BPE tokenizer.json at path for use
// by an Embedder or Reranker. Callers are responsible for calling
// Close on the returned tokenizer once done with it.
func LoadTokenizer(path string) (*tokenizers.Tokenizer, error) {
	tok, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "load tokenizer", err)
	}
	return tok, nil
}
