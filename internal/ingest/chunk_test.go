package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkBytes_SmallTextIsOneChunk(t *testing.T) {
	text := strings.Repeat("hello world ", 50) // ~600 bytes
	chunks := chunkBytes([]byte(text), DefaultOptions())
	require.Len(t, chunks, 1)
}

func TestChunkBytes_LargeTextProducesOverlappingChunks(t *testing.T) {
	text := strings.Repeat("word ", 600) // ~3000 bytes
	opts := Options{MaxBytes: 1000, OverlapBytes: 200}
	chunks := chunkBytes([]byte(text), opts)
	require.GreaterOrEqual(t, len(chunks), 3)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c.Text), opts.MaxBytes)
	}
}

func TestChunkBytes_EmptyTextProducesNoChunks(t *testing.T) {
	require.Empty(t, chunkBytes([]byte("   \n\t  "), DefaultOptions()))
}

func TestChunkBytes_IndexesAreSequential(t *testing.T) {
	text := strings.Repeat("word ", 600)
	chunks := chunkBytes([]byte(text), Options{MaxBytes: 1000, OverlapBytes: 200})
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
	}
}

func TestIsSupportedFile_AcceptsTextRejectsBinaryAndUnknownExtension(t *testing.T) {
	dir := t.TempDir()

	textFile := filepath.Join(dir, "test.go")
	require.NoError(t, os.WriteFile(textFile, []byte("package main\n"), 0o644))
	require.True(t, IsSupportedFile(textFile))

	binFile := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(binFile, []byte{0x00, 0x01, 0x02}, 0o644))
	require.False(t, IsSupportedFile(binFile))

	unknownExt := filepath.Join(dir, "test.bin")
	require.NoError(t, os.WriteFile(unknownExt, []byte("hello"), 0o644))
	require.False(t, IsSupportedFile(unknownExt))
}
