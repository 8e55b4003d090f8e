package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the conversion pipeline the error occurred
type Phase string

const (
	PhaseParse   Phase = "parse"   // raw entry decoding
	PhaseExpand  Phase = "expand"  // block expansion via the decode oracle
	PhaseReorder Phase = "reorder" // pending branch buffering
	PhaseRegion  Phase = "region"  // restartable-sequence tracking
	PhaseChunk   Phase = "chunk"   // chunk boundary management
	PhaseWrite   Phase = "write"   // structured entry output
)

// Kind categorizes the error
type Kind string

const (
	KindMalformed    Kind = "malformed"    // out-of-order or nonsense raw records
	KindTruncated    Kind = "truncated"    // stream ended before the footer
	KindUnresolved   Kind = "unresolved"   // oracle cannot resolve a block
	KindInvariant    Kind = "invariant"    // internal ordering invariant violated
	KindUnterminated Kind = "unterminated" // rseq region open at end of stream
	KindUnsupported  Kind = "unsupported"  // recognized but unhandled input
)

// Error is the structured error type used throughout the converter
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Record int    // raw record ordinal, -1 if unknown
	Addr   uint64 // instruction address, 0 if not applicable
	ModIdx int    // module index, -1 if not applicable
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Record > 0 {
		fmt.Fprintf(&b, " at record %d", e.Record)
	}
	if e.ModIdx >= 0 {
		fmt.Fprintf(&b, " module %d", e.ModIdx)
	}
	if e.Addr != 0 {
		fmt.Fprintf(&b, " addr 0x%x", e.Addr)
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

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Record: -1,
			ModIdx: -1,
		},
	}
}

// Record sets the raw record ordinal
func (b *Builder) Record(pos int) *Builder {
	b.err.Record = pos
	return b
}

// Addr sets the instruction address
func (b *Builder) Addr(addr uint64) *Builder {
	b.err.Addr = addr
	return b
}

// Module sets the module index
func (b *Builder) Module(idx int) *Builder {
	b.err.ModIdx = idx
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Malformed creates a malformed-stream error
func Malformed(phase Phase, record int, detail string, args ...any) *Error {
	return New(phase, KindMalformed).Record(record).Detail(detail, args...).Build()
}

// Truncated creates a truncated-stream error
func Truncated(record int, cause error) *Error {
	return New(PhaseParse, KindTruncated).Record(record).Cause(cause).Build()
}

// Unresolved creates an error for a block the oracle cannot resolve
func Unresolved(modIdx int, offset uint64, cause error) *Error {
	return New(PhaseExpand, KindUnresolved).Module(modIdx).Addr(offset).Cause(cause).Build()
}

// Invariant creates an internal invariant violation error
func Invariant(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindInvariant).Detail(detail, args...).Build()
}

// Unterminated creates an error for an rseq region still open at the footer
func Unterminated(endAddr uint64) *Error {
	return New(PhaseRegion, KindUnterminated).Addr(endAddr).
		Detail("restartable-sequence region open at end of stream").Build()
}
