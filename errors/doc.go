// Package errors provides structured error types for the pythonx bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes context: field path, Go/Python type
// names, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
//		Path("globals", "x").
//		GoType("chan int").
//		Detail("cannot convert channel to Python object").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotInitialized(errors.PhaseEval, "interpreter")
//	err := errors.Load("open library", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
//
// Errors raised by Python code itself are a separate type, runtime.PyErr,
// because they carry live interpreter handles.
package errors
