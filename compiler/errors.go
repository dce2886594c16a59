package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Static error taxonomy: lex, parse, resolve, compile
// ---------------------------------------------------------------------------

// Phase identifies the compilation phase that produced an error.
type Phase int

const (
	PhaseLex Phase = iota
	PhaseParse
	PhaseResolve
	PhaseCompile
)

func (p Phase) String() string {
	switch p {
	case PhaseLex:
		return "lex"
	case PhaseParse:
		return "parse"
	case PhaseResolve:
		return "resolve"
	case PhaseCompile:
		return "compile"
	}
	return "unknown"
}

// ErrorCode identifies the specific error condition.
type ErrorCode int

const (
	// Lex errors
	ErrInconsistentIndent ErrorCode = iota
	ErrMixedIndentation
	ErrUnterminatedString
	ErrUnknownChar
	ErrMalformedNumber

	// Parse errors
	ErrUnexpectedToken
	ErrEmptyBlock
	ErrInvalidAssignTarget

	// Resolve errors
	ErrUnknownBase
	ErrInheritanceCycle
	ErrAwaitOutsideAsync
	ErrDuplicateParam

	// Compile errors
	ErrBreakOutsideLoop
	ErrContinueOutsideLoop
	ErrReturnAtTopLevel
	ErrTooManyConstants
	ErrTooManyRegisters
	ErrTooManyUpvalues
)

var errorCodeNames = map[ErrorCode]string{
	ErrInconsistentIndent:  "InconsistentIndent",
	ErrMixedIndentation:    "MixedIndentation",
	ErrUnterminatedString:  "UnterminatedString",
	ErrUnknownChar:         "UnknownChar",
	ErrMalformedNumber:     "MalformedNumber",
	ErrUnexpectedToken:     "UnexpectedToken",
	ErrEmptyBlock:          "EmptyBlock",
	ErrUnknownBase:         "UnknownBase",
	ErrInheritanceCycle:    "InheritanceCycle",
	ErrAwaitOutsideAsync:   "AwaitOutsideAsync",
	ErrDuplicateParam:      "DuplicateParam",
	ErrInvalidAssignTarget: "InvalidAssignTarget",
	ErrBreakOutsideLoop:    "BreakOutsideLoop",
	ErrContinueOutsideLoop: "ContinueOutsideLoop",
	ErrReturnAtTopLevel:    "ReturnAtTopLevel",
	ErrTooManyConstants:    "TooManyConstants",
	ErrTooManyRegisters:    "TooManyRegisters",
	ErrTooManyUpvalues:     "TooManyUpvalues",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is a static (pre-execution) error with a source span.
// All fallible compiler entry points return *Error; a compilation
// unit with any static error produces no runnable program.
type Error struct {
	Phase Phase
	Code  ErrorCode
	Msg   string
	Span  Span
}

func (e *Error) Error() string {
	pos := e.Span.Start
	return fmt.Sprintf("%s error at line %d, column %d: %s: %s",
		e.Phase, pos.Line, pos.Column, e.Code, e.Msg)
}

func lexError(code ErrorCode, span Span, format string, args ...interface{}) *Error {
	return &Error{Phase: PhaseLex, Code: code, Msg: fmt.Sprintf(format, args...), Span: span}
}

func parseError(code ErrorCode, span Span, format string, args ...interface{}) *Error {
	return &Error{Phase: PhaseParse, Code: code, Msg: fmt.Sprintf(format, args...), Span: span}
}

func resolveError(code ErrorCode, span Span, format string, args ...interface{}) *Error {
	return &Error{Phase: PhaseResolve, Code: code, Msg: fmt.Sprintf(format, args...), Span: span}
}

func compileError(code ErrorCode, span Span, format string, args ...interface{}) *Error {
	return &Error{Phase: PhaseCompile, Code: code, Msg: fmt.Sprintf(format, args...), Span: span}
}
