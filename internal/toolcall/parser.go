// Package toolcall implements an incremental parser that watches a
// stream of decoded text fragments for delimited tool-call blocks and
// turns well-formed ones into pending tool-call records.
package toolcall

import (
	"strings"

	"github.com/google/uuid"
)

// Status is a tool call's lifecycle state.
type Status int

const (
	Pending Status = iota
	Executing
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Call is one parsed tool invocation.
type Call struct {
	ID     string
	Name   string
	Args   string
	Status Status
	Result string
}

type parserState int

const (
	stateOutside parserState = iota
	stateInside
)

// Parser is a tiny incremental state machine over streamed text:
// Outside watches for an opening delimiter, Inside watches for the
// matching closing delimiter and then parses the body between them.
// Feed fragments to it one at a time as they are decoded; it never
// needs the full text up front.
type Parser struct {
	open  string
	close string

	state    parserState
	buf      strings.Builder
	openedAt int
}

// New builds a parser with the given opening/closing delimiters.
func New(open, closeDelim string) *Parser {
	return &Parser{open: open, close: closeDelim}
}

// Default returns a parser using the built-in <tool_call>/</tool_call>
// delimiters.
func Default() *Parser {
	return New("<tool_call>", "</tool_call>")
}

// Feed appends one decoded fragment to the parser's buffer and returns
// a Call if a complete, well-formed block was just closed. A malformed
// body resets the parser to Outside without producing a Call.
func (p *Parser) Feed(fragment string) (Call, bool) {
	p.buf.WriteString(fragment)

	switch p.state {
	case stateOutside:
		full := p.buf.String()
		idx := strings.Index(full, p.open)
		if idx < 0 {
			return Call{}, false
		}
		p.openedAt = idx
		p.state = stateInside
		return p.Feed("")
	case stateInside:
		full := p.buf.String()
		searchFrom := p.openedAt + len(p.open)
		if searchFrom > len(full) {
			return Call{}, false
		}
		rel := strings.Index(full[searchFrom:], p.close)
		if rel < 0 {
			return Call{}, false
		}
		bodyStart := searchFrom
		bodyEnd := searchFrom + rel
		body := full[bodyStart:bodyEnd]

		remainder := full[bodyEnd+len(p.close):]
		p.reset()
		p.buf.WriteString(remainder)

		call, ok := parseBody(body)
		if !ok {
			// Malformed body: state is already reset; remainder may
			// contain a fresh opening delimiter, so re-scan it.
			if remainder != "" {
				if c, found := p.Feed(""); found {
					return c, true
				}
			}
			return Call{}, false
		}
		return call, true
	}
	return Call{}, false
}

func (p *Parser) reset() {
	p.state = stateOutside
	p.buf.Reset()
	p.openedAt = 0
}

// parseBody parses a tool-call body as whitespace-trimmed,
// case-insensitive-keyed `key: value` lines. A `name` key is required;
// `args` is optional.
func parseBody(body string) (Call, bool) {
	var name, args string
	haveName := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "name":
			name = val
			haveName = true
		case "args":
			args = val
		}
	}

	if !haveName || name == "" {
		return Call{}, false
	}
	return Call{
		ID:     uuid.NewString(),
		Name:   name,
		Args:   args,
		Status: Pending,
	}, true
}
