// Package errors provides structured error types for the wasm bootstrap.
//
// Errors are categorized by Phase (which step of the bootstrap failed) and
// Kind (error category). The Error type keeps the artifact location, the
// entry export name and the original failure value as its cause.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseFetch, errors.KindNotFound).
//		Location("https://example.com/app/pkg/shared_memory_bg.wasm").
//		Value(404).
//		Detail("unexpected status %d", 404).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingLoader()
//	err := errors.Trap(cause, "_start")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
