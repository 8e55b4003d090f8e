// Package errors provides structured error types for the retrace library.
//
// Errors are categorized by Phase (where in the conversion pipeline the error
// occurred) and Kind (error category). The Error type carries context for
// debugging malformed probe output: the raw record ordinal, the instruction
// address, the module index, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseExpand, errors.KindUnresolved).
//		Module(3).
//		Addr(0x7f12a0).
//		Detail("oracle cannot resolve block").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Malformed(errors.PhaseParse, pos, "footer before header")
//	err := errors.Unresolved(modIdx, offset, cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
