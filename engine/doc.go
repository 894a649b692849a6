// Package engine loads the interpreter artifact and implements the capi.API
// surface over it.
//
// The artifact is the interpreter compiled to WebAssembly together with a
// thin C shim. Most ABI entry points are exported under their C API names
// (PyEval_SaveThread, PyDict_New, ...); operations that a flat wasm export
// cannot express directly (variadic calls, wide-character setters,
// out-parameter fetches, the host-hook bootstrap and the scratch allocator)
// are exported under pyx_* shim names. The engine resolves every required
// export at load time into typed function handles and reports all missing
// ones at once.
//
// Host-directed callbacks (stdout/stderr writes, tagged sends) arrive through
// host functions the engine registers in the pythonx_host import namespace
// before instantiation.
//
// All calls that enter the interpreter assume the caller holds the global
// lock via capi.API.EvalRestoreThread. A trapped call leaves the interpreter
// in an undefined state and panics; there is no way to continue safely.
package engine
