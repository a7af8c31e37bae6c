// Package ingest implements the document chunking/upsert pipeline
// (§4.12): read a file, reject binary or unsupported content, split it
// into overlapping chunks, embed each chunk, and upsert it into a
// configured retrieval store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tensorloom/loom/internal/errs"
	"github.com/tensorloom/loom/internal/retrieval"
)

// Embedder turns chunk text into a vector. Satisfied by
// *modelhost.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddedChunk is one chunk after embedding, carrying enough of the
// source file's metadata for either retrieval store.
type EmbeddedChunk struct {
	FilePath      string
	FileName      string
	FileExtension string
	FileHash      string
	FileSize      int64
	ChunkIndex    int
	Content       string
	Embedding     []float32
	Tags          map[string]string
}

// Upserter persists one embedded chunk. internal/retrieval's two
// stores have different Upsert signatures (§4.9 vs §4.10); ToMemory
// and ToPostgres adapt each to this one seam, the same
// adapter-function idiom internal/agent uses for Retriever.
type Upserter func(ctx context.Context, chunk EmbeddedChunk) error

// ToMemory adapts a MemoryStore to Upserter. Chunk items are keyed
// "path#index" so multiple chunks of one file coexist.
func ToMemory(store *retrieval.MemoryStore) Upserter {
	return func(_ context.Context, c EmbeddedChunk) error {
		tags := make(map[string]string, len(c.Tags))
		for k, v := range c.Tags {
			tags[k] = v
		}
		store.Upsert(retrieval.Item{
			ID:       chunkID(c.FilePath, c.ChunkIndex),
			Vector:   c.Embedding,
			Text:     c.Content,
			Metadata: tags,
		})
		return nil
	}
}

// ToPostgres adapts a PostgresStore to Upserter, widening the string
// tag map to the `any`-valued map Document.Tags expects for jsonb
// encoding.
func ToPostgres(store *retrieval.PostgresStore) Upserter {
	return func(ctx context.Context, c EmbeddedChunk) error {
		tags := make(map[string]any, len(c.Tags))
		for k, v := range c.Tags {
			tags[k] = v
		}
		return store.Upsert(ctx, retrieval.Document{
			FilePath:      chunkID(c.FilePath, c.ChunkIndex),
			FileName:      c.FileName,
			Content:       c.Content,
			Embedding:     c.Embedding,
			FileHash:      c.FileHash,
			FileSize:      c.FileSize,
			FileExtension: c.FileExtension,
			Tags:          tags,
		})
	}
}

func chunkID(path string, index int) string {
	return fmt.Sprintf("%s#%d", path, index)
}

// IngestFile reads path, rejects it if binary or an unsupported
// extension, splits it into overlapping chunks (opts, or
// DefaultOptions if zero), embeds and upserts each chunk carrying the
// file's metadata and tags, and returns the number of chunks written.
func IngestFile(ctx context.Context, path string, tags map[string]string, embedder Embedder, upsert Upserter, opts Options) (int, error) {
	if opts.MaxBytes <= 0 {
		opts = DefaultOptions()
	}
	if !IsSupportedFile(path) {
		return 0, errs.New(errs.InvalidArgument, "unsupported or binary file: "+path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errs.Wrap(errs.NotFound, "read ingest file", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, errs.Wrap(errs.NotFound, "stat ingest file", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ext := strings.ToLower(filepath.Ext(path))
	name := filepath.Base(path)

	chunks := chunkBytes(data, opts)
	for _, c := range chunks {
		vec, err := embedder.Embed(ctx, c.Text)
		if err != nil {
			return c.Index, errs.Wrap(errs.RuntimeFailure, "embed chunk", err)
		}
		err = upsert(ctx, EmbeddedChunk{
			FilePath:      path,
			FileName:      name,
			FileExtension: ext,
			FileHash:      hash,
			FileSize:      info.Size(),
			ChunkIndex:    c.Index,
			Content:       c.Text,
			Embedding:     vec,
			Tags:          tags,
		})
		if err != nil {
			return c.Index, err
		}
	}
	return len(chunks), nil
}
