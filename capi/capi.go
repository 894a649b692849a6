package capi

import (
	"context"

	"github.com/livebook-dev/pythonx"
)

// ObjRef is the address of an object owned by the interpreter heap.
// Zero is the null reference and doubles as the failure sentinel.
type ObjRef uint64

// ThreadState is an opaque per-thread interpreter state handle.
type ThreadState uint64

// InterpState is an opaque interpreter-state handle.
type InterpState uint64

// ThreadID identifies a host thread to the interpreter for callback routing.
// Worker-pool threads use small ids; detached interpreter threads get
// synthetic ids that never collide with pool ids.
type ThreadID uint64

// HostHooks is the callback surface the interpreter-side shims invoke for
// stdout/stderr writes and explicit tagged sends. The backend passes the
// identity of the native thread the callback is running on; token is the
// serialized call-context blob the evaluation stored in its globals.
type HostHooks struct {
	WriteOutput func(current ThreadID, token []byte, stream pythonx.Stream, text string)
	SendTagged  func(current ThreadID, token []byte, pidBytes []byte, tag string, obj ObjRef)
}

// API is the interpreter ABI subset used by the bridge.
//
// Every method except ThreadStateNew and the lifecycle setters requires the
// caller to hold the interpreter's global lock via EvalRestoreThread.
type API interface {
	// Lifecycle. SetPythonHome and SetProgramName must be called before
	// InitializeEx; the paths must remain configured for the interpreter's
	// lifetime.
	SetPythonHome(path string)
	SetProgramName(path string)
	InitializeEx(initsigs bool)
	InterpreterState() InterpState

	// ThreadStateNew requires no lock. EvalRestoreThread acquires the global
	// lock and makes ts current; tid is the host identity of the calling
	// thread, reported back on HostHooks invocations that happen while this
	// thread is inside the interpreter. EvalSaveThread releases the lock and
	// returns the detached state.
	ThreadStateNew(interp InterpState) ThreadState
	EvalRestoreThread(ts ThreadState, tid ThreadID)
	EvalSaveThread() ThreadState

	// Reference counting.
	IncRef(obj ObjRef)
	DecRef(obj ObjRef)

	// Constructors. All return new references, zero on failure.
	NoneNew() ObjRef
	BoolFromInt(v int) ObjRef
	LongFromInt64(v int64) ObjRef
	LongFromString(s string, base int) ObjRef
	FloatFromFloat64(v float64) ObjRef
	BytesFromSlice(b []byte) ObjRef
	UnicodeFromString(s string) ObjRef
	DictNew() ObjRef
	TupleNew(size int) ObjRef
	TuplePack(items ...ObjRef) ObjRef
	ListNew(size int) ObjRef
	SetNew() ObjRef

	// Container operations. Status returns follow the C API: 0 success,
	// -1 failure with the error indicator set. TupleSetItem and ListSetItem
	// steal a reference to the value.
	DictSetItem(d, key, value ObjRef) int
	DictSetItemString(d ObjRef, key string, value ObjRef) int
	DictGetItem(d, key ObjRef) ObjRef          // borrowed
	DictGetItemString(d ObjRef, key string) ObjRef // borrowed
	DictCopy(d ObjRef) ObjRef
	DictSize(d ObjRef) int
	DictNext(d ObjRef, pos *int) (key, value ObjRef, ok bool) // borrowed
	TupleSetItem(t ObjRef, index int, value ObjRef) int
	TupleGetItem(t ObjRef, index int) ObjRef // borrowed
	TupleSize(t ObjRef) int
	ListSetItem(l ObjRef, index int, value ObjRef) int
	ListGetItem(l ObjRef, index int) ObjRef // borrowed
	ListAppend(l, value ObjRef) int
	ListSize(l ObjRef) int
	SetAdd(s, value ObjRef) int
	SetSize(s ObjRef) int

	// Accessors. The ok result is false when the call failed and the error
	// indicator is set.
	LongAsInt64AndOverflow(obj ObjRef) (v int64, overflow int)
	FloatAsFloat64(obj ObjRef) float64
	UnicodeAsString(obj ObjRef) (s string, ok bool)
	BytesAsSlice(obj ObjRef) (b []byte, ok bool)

	// Identity and type checks. Results follow the C API: 1 true, 0 false,
	// -1 failure.
	IsNone(obj ObjRef) int
	IsTrue(obj ObjRef) int
	IsFalse(obj ObjRef) int
	IsInstance(obj, typ ObjRef) int

	// Object protocol. GetAttrString, Call, CallNoArgs, GetIter, IterNext,
	// Repr, Str, ImportModule and EvalEvalCode return new references.
	GetAttrString(obj ObjRef, name string) ObjRef
	SetAttrString(obj ObjRef, name string, value ObjRef) int
	SetItem(obj, key, value ObjRef) int
	Call(callable, args, kwargs ObjRef) ObjRef
	CallNoArgs(callable ObjRef) ObjRef
	GetIter(obj ObjRef) ObjRef
	IterNext(it ObjRef) ObjRef
	Repr(obj ObjRef) ObjRef
	Str(obj ObjRef) ObjRef
	ImportModule(name string) ObjRef
	ModuleGetDict(mod ObjRef) ObjRef // borrowed
	EvalGetBuiltins() ObjRef         // borrowed
	EvalEvalCode(code, globals, locals ObjRef) ObjRef

	// Error indicator. ErrFetch clears the indicator and transfers ownership
	// of the three references to the caller; each may be zero.
	ErrOccurred() ObjRef
	ErrFetch() (typ, value, tb ObjRef)

	// InstallHostHooks wires the callback surface and runs the backend's
	// interpreter-side bootstrap (stdout/stderr overrides, the PID marker
	// class and send_tagged_object). Requires the lock.
	InstallHostHooks(hooks HostHooks) error
}

// Closer is implemented by backends that hold resources beyond the
// interpreter itself, such as the loaded library.
type Closer interface {
	CloseLibrary(ctx context.Context) error
}

// EvalTokenGlobal is the name of the globals entry the evaluator plants the
// call context token under. The interpreter-side bootstrap recovers it by
// walking stack frames, so output and sends from nested calls are attributed
// to the evaluation that triggered them.
const EvalTokenGlobal = "__pythonx_eval_info_bytes__"
