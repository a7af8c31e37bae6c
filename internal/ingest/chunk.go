package ingest

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SupportedExtensions is the set of file extensions IngestFile will
// index; anything else is rejected as unsupported.
var SupportedExtensions = map[string]bool{
	".md": true, ".txt": true, ".go": true, ".py": true,
	".js": true, ".ts": true, ".rs": true, ".c": true,
	".cpp": true, ".h": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".conf": true,
}

// Chunk is one overlapping slice of a source file, ready to embed.
type Chunk struct {
	Text      string
	LineNum   int // 1-indexed line number the chunk starts on
	StartByte int64
	EndByte   int64
	Index     int
}

// Options controls chunk boundaries.
type Options struct {
	// MaxBytes bounds a single chunk's size.
	MaxBytes int
	// OverlapBytes is how much of the previous chunk's tail is
	// repeated at the start of the next, for context continuity.
	OverlapBytes int
}

// DefaultOptions matches §4.12's target: ~1200 bytes per chunk with a
// ~250 byte overlap.
func DefaultOptions() Options {
	return Options{MaxBytes: 1200, OverlapBytes: 250}
}

// IsSupportedFile reports whether path has a supported extension and
// does not look like binary content (a null byte in the first 512
// bytes).
func IsSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExtensions[ext] {
		return false
	}
	return !isBinary(path)
}

func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	buf = buf[:n]
	return bytes.IndexByte(buf, 0) != -1
}

// rank orders the kinds of split point chunkBytes will consider, from
// least to most preferred.
type rank int

const (
	rankWord rank = iota
	rankLine
	rankParagraph
)

// breakpoint is a byte offset right after some piece of whitespace,
// i.e. a position text may safely resume at without splitting a word.
type breakpoint struct {
	pos  int
	rank rank
}

// scanBreakpoints walks text once, recording every position a new
// chunk could cleanly start from, tagged with how strong a break it
// is. A run of two or more newlines is a paragraph break; a lone
// newline is a line break; a space is a word break. When several
// breaks end at the same offset (a "\n " run, say) only the strongest
// survives. The list comes out sorted by position, which lets
// chunkBytes binary-search it instead of re-scanning text for every
// chunk boundary it needs.
func scanBreakpoints(text string) []breakpoint {
	var points []breakpoint
	push := func(pos int, r rank) {
		if n := len(points); n > 0 && points[n-1].pos == pos {
			if r > points[n-1].rank {
				points[n-1].rank = r
			}
			return
		}
		points = append(points, breakpoint{pos: pos, rank: r})
	}

	runStart := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			if runStart == -1 {
				runStart = i
			}
		case ' ':
			if runStart != -1 {
				r := rankLine
				if i-runStart > 1 {
					r = rankParagraph
				}
				push(i+1, r)
				runStart = -1
			}
			push(i+1, rankWord)
		default:
			if runStart != -1 {
				r := rankLine
				if i-runStart > 1 {
					r = rankParagraph
				}
				push(i, r)
				runStart = -1
			}
		}
	}
	if runStart != -1 {
		r := rankLine
		if len(text)-runStart > 1 {
			r = rankParagraph
		}
		push(len(text), r)
	}
	return points
}

// strongestIn returns the position of the highest-ranked breakpoint
// in (after, upTo], preferring the rightmost breakpoint when several
// share the top rank. It reports false when no breakpoint falls in
// range at all, leaving the caller to force a split.
func strongestIn(points []breakpoint, after, upTo int) (int, bool) {
	lo := sort.Search(len(points), func(i int) bool { return points[i].pos > after })
	var best breakpoint
	found := false
	for i := lo; i < len(points) && points[i].pos <= upTo; i++ {
		if !found || points[i].rank >= best.rank {
			best = points[i]
			found = true
		}
	}
	return best.pos, found
}

// earliestAtOrAfter returns the first breakpoint at or after from that
// still falls strictly before upTo.
func earliestAtOrAfter(points []breakpoint, from, upTo int) (int, bool) {
	i := sort.Search(len(points), func(i int) bool { return points[i].pos >= from })
	if i < len(points) && points[i].pos < upTo {
		return points[i].pos, true
	}
	return 0, false
}

// chunkBytes splits data into overlapping chunks, preferring to break
// on a paragraph boundary, then a line boundary, then a word boundary,
// and only forcing a mid-word split when MaxBytes is reached with none
// of those available. It scans the text once for candidate breakpoints
// up front rather than re-searching backward from each prospective cut,
// so a document with many chunks pays for that scan once instead of
// once per chunk.
func chunkBytes(data []byte, opts Options) []Chunk {
	text := string(data)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	points := scanBreakpoints(text)

	var chunks []Chunk
	idx := 0
	start := 0

	for start < len(text) {
		limit := start + opts.MaxBytes
		if limit >= len(text) {
			chunks = append(chunks, makeChunk(data, text, start, len(text), idx))
			break
		}

		cut, ok := strongestIn(points, start, limit)
		if !ok {
			cut = limit
		}
		chunks = append(chunks, makeChunk(data, text, start, cut, idx))
		idx++

		floor := cut - opts.OverlapBytes
		switch {
		case floor <= start:
			start++
		default:
			if next, ok := earliestAtOrAfter(points, floor, cut); ok {
				start = next
			} else {
				start = floor
			}
		}
	}

	filtered := chunks[:0]
	for _, c := range chunks {
		if c.Text != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func makeChunk(data []byte, text string, start, end, index int) Chunk {
	leading := len(text[start:end]) - len(strings.TrimLeft(text[start:end], " \t\n\r"))
	return Chunk{
		Text:      strings.TrimSpace(text[start:end]),
		LineNum:   1 + bytes.Count(data[:start+leading], []byte{'\n'}),
		StartByte: int64(start),
		EndByte:   int64(end),
		Index:     index,
	}
}
