// Package errs defines the closed set of error kinds the generation core
// can fail with, so callers can branch on cause rather than string-match
// messages.
package errs

import "fmt"

// Kind is a closed enumeration of failure categories.
type Kind int

const (
	// InvalidArgument covers empty input, oversized input, and malformed
	// configuration.
	InvalidArgument Kind = iota
	// NotFound covers a missing model or tokenizer file.
	NotFound
	// InvariantViolation covers unpaired KV slots and sequence-length
	// disagreements. It is always fatal to the session that raised it.
	InvariantViolation
	// RuntimeFailure wraps an error surfaced by the tensor-graph runtime.
	RuntimeFailure
	// Cancelled covers cooperative cancellation via context.Context.
	Cancelled
	// ToolFailure covers an error raised by a tool executor; callers
	// recover from it locally and continue generation.
	ToolFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case InvariantViolation:
		return "InvariantViolation"
	case RuntimeFailure:
		return "RuntimeFailure"
	case Cancelled:
		return "Cancelled"
	case ToolFailure:
		return "ToolFailure"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every package in the
// generation core. It carries a Kind so callers can use errors.As and
// switch on it, plus an optional wrapped Cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.New(errs.NotFound, "")) style checks work without
// matching Msg/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error carrying an underlying cause, preserving its
// message via %w-style chaining through Unwrap.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
