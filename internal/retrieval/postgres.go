package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tensorloom/loom/internal/errs"
)

// Document is one ingested chunk persisted in the document_embeddings
// table (see §6's DDL).
type Document struct {
	ID            int64
	FilePath      string
	FileName      string
	Content       string
	Embedding     []float32
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FileHash      string
	FileSize      int64
	FileExtension string
	Tags          map[string]any
}

// PostgresStore is the pgvector-backed persistent retrieval store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the vector extension and
// document_embeddings table/index exist.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "connect to postgres", err)
	}
	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS document_embeddings (
  id serial primary key,
  file_path text not null unique,
  file_name text not null,
  content text not null,
  embedding vector(1024),
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now(),
  file_hash text not null,
  file_size bigint not null,
  file_extension text,
  tags jsonb
)`,
		`CREATE INDEX IF NOT EXISTS document_embeddings_embedding_idx
  ON document_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errs.Wrap(errs.RuntimeFailure, "ensure document_embeddings schema", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert inserts a document chunk, or updates every column but id,
// file_path and created_at if one with the same file_path already exists.
func (s *PostgresStore) Upsert(ctx context.Context, d Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO document_embeddings (file_path, file_name, content, embedding, file_hash, file_size, file_extension, tags, updated_at)
VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, now())
ON CONFLICT (file_path) DO UPDATE SET
  file_name = EXCLUDED.file_name,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  file_hash = EXCLUDED.file_hash,
  file_size = EXCLUDED.file_size,
  file_extension = EXCLUDED.file_extension,
  tags = EXCLUDED.tags,
  updated_at = now()
`, d.FilePath, d.FileName, d.Content, toVectorLiteral(d.Embedding), d.FileHash, d.FileSize, d.FileExtension, d.Tags)
	if err != nil {
		return errs.Wrap(errs.RuntimeFailure, "upsert document embedding", err)
	}
	return nil
}

// Delete removes the document chunk at file_path, if present.
func (s *PostgresStore) Delete(ctx context.Context, filePath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_embeddings WHERE file_path = $1`, filePath)
	if err != nil {
		return errs.Wrap(errs.RuntimeFailure, "delete document embedding", err)
	}
	return nil
}

// TopK issues the §6 similarity query bit-exactly: rows whose cosine
// similarity to query exceeds threshold, nearest first, capped at k.
func (s *PostgresStore) TopK(ctx context.Context, query []float32, k int, threshold float64) ([]Document, error) {
	vecLit := toVectorLiteral(query)
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM document_embeddings WHERE (1 - (embedding <=> $1)) > $2 ORDER BY embedding <=> $1 LIMIT $3`,
		vecLit, threshold, k)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "similarity search", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var embeddingLit string
		if err := rows.Scan(&d.ID, &d.FilePath, &d.FileName, &d.Content, &embeddingLit,
			&d.CreatedAt, &d.UpdatedAt, &d.FileHash, &d.FileSize, &d.FileExtension, &d.Tags); err != nil {
			return nil, errs.Wrap(errs.RuntimeFailure, "scan document_embeddings row", err)
		}
		d.Embedding = parseVectorLiteral(embeddingLit)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "iterate document_embeddings rows", err)
	}
	return out, nil
}

// toVectorLiteral renders a float32 slice as the pgvector text literal
// format ("[v1,v2,...]").
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(lit string) []float32 {
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if lit == "" {
		return nil
	}
	parts := strings.Split(lit, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float32
		fmt.Sscanf(strings.TrimSpace(p), "%g", &f)
		out = append(out, f)
	}
	return out
}
