// Package errors provides the structured error type used across layout,
// codegen, and runtime. Errors are categorized by Phase (where they were
// raised) and Kind (the closed set of error kinds from spec §7), and carry
// an optional source line and IR operator name for codegen failures.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseCodegen, errors.KindUnknownOperator).
//		Op("frobnicate").
//		Line(42).
//		Detail("no emitter registered for this operator").
//		Build()
//
// Or the convenience constructors for the common cases:
//
//	err := errors.Unsupported(errors.PhaseCodegen, "wide multiply")
//	err := errors.StateSizeMismatch(got, want)
//
// All errors implement the standard error interface and support errors.Is.
package errors
