// Package runtime embeds a Python interpreter and bridges it to Go.
//
// A Runtime owns one interpreter instance. All interpreter work runs on a
// fixed pool of OS-locked scheduler threads; every entry point submits a job
// to the pool, takes the interpreter's global lock through a per-thread
// state binding, and releases it before returning. Callers never touch the
// interpreter from their own goroutines.
//
// Python objects surface as *Object handles. Each handle owns one interpreter
// reference; Release (or the garbage collector, via finalizer) hands the
// reference to the janitor, which retires it on a scheduler thread under the
// global lock. Dropping references never blocks the caller.
//
// Eval compiles and runs source the way an interactive session does: the
// trailing expression statement, when present, is split off and evaluated
// separately so its value comes back to Go. Compiled code is cached by
// source digest. Output written by evaluated code is routed to the devices
// of the evaluation that produced it, recovered from a call context token
// planted in that evaluation's globals.
package runtime
