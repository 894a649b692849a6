// Package capi defines the typed surface of the embedded interpreter's
// stable ABI subset.
//
// The bridge only ever talks to the interpreter through the API interface.
// The engine package implements it over a dynamically loaded interpreter
// binary; tests implement it over an in-memory interpreter. Keeping the
// surface an interface is what makes the concurrency and marshalling logic
// testable without a real interpreter artifact.
//
// The method set mirrors the interpreter's C naming (minus the Py prefix) so
// that call sites read like the documented C API. Reference-count behavior
// follows the C API too: constructors and Call return new references,
// accessors marked borrowed do not transfer ownership, and the tuple/list
// item setters steal a reference from the caller.
//
// Methods do not return transport errors. A Python-level failure is signaled
// by the usual sentinel (zero ObjRef, negative status) with the error
// indicator set; a transport failure (the loaded module trapping) leaves the
// interpreter in an undefined state and is fatal by design, so backends
// panic on it.
package capi
