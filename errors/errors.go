package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred.
type Phase string

const (
	PhaseConstruct Phase = "construct" // state layout
	PhaseCodegen   Phase = "codegen"   // IR -> WASM translation
	PhaseValidate  Phase = "validate"  // binaryen-equivalent module validation
	PhaseRuntime   Phase = "runtime"   // instantiation and host calls
	PhaseEval      Phase = "eval"      // powercycle / settle / tick
)

// Kind categorizes the error. This is the closed set from spec §7, plus
// InvalidInput/NotFound for builder-pattern housekeeping the way the
// teacher's errors package carries similar general-purpose kinds.
type Kind string

const (
	KindUnsupportedDataType  Kind = "unsupported_data_type"
	KindUnknownOperator      Kind = "unknown_operator"
	KindValidationFailed     Kind = "validation_failed"
	KindMemoryLimitExceeded  Kind = "memory_limit_exceeded"
	KindSettleDidNotConverge Kind = "settle_did_not_converge"
	KindMissingFile          Kind = "missing_file"
	KindStateSizeMismatch    Kind = "state_size_mismatch"
	KindLoopTimeout          Kind = "loop_timeout"
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
)

// Error is the structured error type used throughout this module.
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string // IR operator name, when the error is codegen-related
	Detail string
	Line   int
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" op=")
		b.WriteString(e.Op)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line=%d", e.Line)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target matches this error's Phase and Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder for the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

// Op sets the IR operator name.
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Line sets the source line from the originating IR node.
func (b *Builder) Line(line int) *Builder {
	b.err.Line = line
	return b
}

// Value sets the offending value.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the fixed error kinds in spec §7.

// UnsupportedDataType reports a data type or operation shape codegen
// cannot lower (wide mul/div, multidimensional init, ...).
func UnsupportedDataType(op string, line int, detail string) *Error {
	return &Error{Phase: PhaseCodegen, Kind: KindUnsupportedDataType, Op: op, Line: line, Detail: detail}
}

// UnknownOperator reports an IR op name absent from the translator table.
func UnknownOperator(op string, line int) *Error {
	return &Error{
		Phase: PhaseCodegen, Kind: KindUnknownOperator, Op: op, Line: line,
		Detail: fmt.Sprintf("no emitter registered for operator %q", op),
	}
}

// ValidationFailed reports that the emitted module failed structural
// validation.
func ValidationFailed(cause error) *Error {
	return &Error{Phase: PhaseValidate, Kind: KindValidationFailed, Cause: cause}
}

// MemoryLimitExceeded reports a state layout larger than the configured cap.
func MemoryLimitExceeded(needed, cap uint32) *Error {
	return &Error{
		Phase: PhaseConstruct, Kind: KindMemoryLimitExceeded,
		Detail: fmt.Sprintf("state layout requires %d bytes, exceeds cap of %d", needed, cap),
	}
}

// SettleDidNotConverge reports that powercycle's settle loop exhausted its
// iteration budget without reaching a fixed point.
func SettleDidNotConverge(iterations int) *Error {
	return &Error{
		Phase: PhaseEval, Kind: KindSettleDidNotConverge,
		Detail: fmt.Sprintf("settle loop did not converge after %d iterations", iterations),
	}
}

// MissingFile reports that $readmem could not resolve a filename.
func MissingFile(path string) *Error {
	return &Error{
		Phase: PhaseRuntime, Kind: KindMissingFile,
		Detail: fmt.Sprintf("$readmem: file not found: %s", path),
	}
}

// StateSizeMismatch reports that loadState was given a blob of the wrong
// length.
func StateSizeMismatch(got, want uint32) *Error {
	return &Error{
		Phase: PhaseRuntime, Kind: KindStateSizeMismatch,
		Detail: fmt.Sprintf("loadState: got %d bytes, want %d", got, want),
	}
}

// Unsupported is a general-purpose codegen-unsupported error without a
// specific IR node attached.
func Unsupported(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindUnsupportedDataType, Detail: what}
}

// InvalidInput reports a malformed call into the public API.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidInput, Detail: detail}
}

// NotFound reports a lookup miss (e.g. globals.lookup on an unknown name).
func NotFound(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindNotFound, Detail: detail}
}
