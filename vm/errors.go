package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// ErrKind classifies a runtime error.
type ErrKind int

const (
	ErrTypeMismatch ErrKind = iota
	ErrUnsupportedOperation
	ErrAttributeError
	ErrNameError
	ErrDivisionByZero
	ErrIndexOutOfRange
	ErrInheritanceCycle
	ErrStackOverflow
	ErrCancelled
	ErrRaised // a script value raised with no handler
)

var errKindNames = map[ErrKind]string{
	ErrTypeMismatch:         "TypeMismatch",
	ErrUnsupportedOperation: "UnsupportedOperation",
	ErrAttributeError:       "AttributeError",
	ErrNameError:            "NameError",
	ErrDivisionByZero:       "DivisionByZero",
	ErrIndexOutOfRange:      "IndexOutOfRange",
	ErrInheritanceCycle:     "InheritanceCycle",
	ErrStackOverflow:        "StackOverflow",
	ErrCancelled:            "Cancelled",
	ErrRaised:               "Raised",
}

func (k ErrKind) String() string {
	if name, ok := errKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// TraceEntry is one frame of a runtime error's traceback.
type TraceEntry struct {
	Func string
	Line int32
}

// RuntimeError is an error raised during bytecode execution. The trace
// accumulates as the error unwinds through frames, innermost first.
type RuntimeError struct {
	Kind  ErrKind
	Msg   string
	Trace []TraceEntry
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Kind, e.Msg)
	for _, t := range e.Trace {
		fmt.Fprintf(&sb, "\n  in %s (line %d)", t.Func, t.Line)
	}
	return sb.String()
}

func runtimeErr(kind ErrKind, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func typeMismatch(op string, lhs, rhs string) *RuntimeError {
	return runtimeErr(ErrTypeMismatch, "unsupported operand types for %s: %s and %s", op, lhs, rhs)
}
