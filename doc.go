// Package pythonx embeds a CPython-compatible interpreter in a Go process
// and exposes it as a callable extension.
//
// The interpreter ships as a dynamically loaded artifact. The engine package
// loads it and resolves the interpreter's stable ABI subset into typed
// function handles; the runtime package drives those entry points from a
// bounded pool of OS-locked worker threads, each holding a persistent
// interpreter thread-state, so the interpreter's single global lock is
// acquired and released without ever invalidating a live thread-state.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.Init(ctx, runtime.Config{
//	    LibraryPath: "python312.wasm",
//	    PythonHome:  "/usr",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	result, err := rt.Eval(ctx, "x = 1\nx + 1", runtime.EvalOptions{
//	    Stdout: pythonx.WriterDevice(os.Stdout),
//	    Stderr: pythonx.WriterDevice(os.Stderr),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer result.Release()
//	value, err := rt.Decode(result.Value) // int64(2)
//
// Eval splits a script into its statement sequence and an optional trailing
// expression; the expression's value is returned alongside the bindings the
// script introduced. Compiled artifacts are cached by content hash.
//
// # Value Marshalling
//
// Go values planted through runtime.EvalOptions map onto interpreter
// objects, and foreign objects decode one level at a time through
// runtime.DecodeOnce:
//
//	Go shape                 Python shape
//
//	nil                      None
//	bool                     bool
//	int64 / *big.Int         int
//	float64                  float
//	string                   str
//	[]byte                   bytes
//	runtime.Tuple            tuple
//	[]any                    list
//	runtime.Map / map        dict
//	runtime.Set              set
//	runtime.PID              pythonx.PID
//	*runtime.Object          anything else
//
// Container elements decode to handles, not recursively; use runtime.Decode
// for the recursive form.
//
// # Concurrency
//
// Runtime is safe for concurrent use. Interpreter execution itself is
// serialized by the interpreter's global lock; host-side work (value
// preparation, cache lookups) proceeds in parallel. There is no cancellation
// of in-progress interpreter execution.
//
// # Object Lifetime
//
// Every runtime.Object owns exactly one reference count on its foreign
// object. Dropping the last Go reference releases it through a deferred
// reclamation worker, so garbage collection never blocks on the interpreter
// lock. Release may also be called explicitly; both paths decrement exactly
// once.
package pythonx
