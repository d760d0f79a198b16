// Package errors provides structured error types for the guest-bridge library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: field path, byte offset of
// the first violation, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidEncoding).
//		Path("args", "1").
//		Offset(3).
//		Detail("invalid byte sequence").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseDecode, "string", "int")
//	err := errors.InvalidEncoding(errors.PhaseDecode, 3, data)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
