package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
	"github.com/livebook-dev/pythonx/internal/goid"
)

// hostModule is the import namespace the interpreter-side shims call into.
const hostModule = "pythonx_host"

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// requiredExports is the interpreter ABI subset the bridge depends on. The
// artifact must export every one of these; loading fails otherwise, naming
// all missing entries at once.
var requiredExports = []string{
	// Lifecycle
	"Py_InitializeEx",
	"PyInterpreterState_Get",
	"PyThreadState_New",
	"PyEval_RestoreThread",
	"PyEval_SaveThread",
	// Reference counting
	"Py_IncRef",
	"Py_DecRef",
	// Constructors
	"PyBool_FromLong",
	"PyLong_FromLongLong",
	"PyLong_FromString",
	"PyLong_AsLongLongAndOverflow",
	"PyFloat_FromDouble",
	"PyFloat_AsDouble",
	"PyBytes_FromStringAndSize",
	"PyBytes_AsStringAndSize",
	"PyUnicode_FromStringAndSize",
	"PyUnicode_AsUTF8AndSize",
	// Containers
	"PyDict_New",
	"PyDict_SetItem",
	"PyDict_SetItemString",
	"PyDict_GetItem",
	"PyDict_GetItemString",
	"PyDict_Copy",
	"PyDict_Size",
	"PyDict_Next",
	"PyTuple_New",
	"PyTuple_SetItem",
	"PyTuple_GetItem",
	"PyTuple_Size",
	"PyList_New",
	"PyList_SetItem",
	"PyList_GetItem",
	"PyList_Append",
	"PyList_Size",
	"PySet_New",
	"PySet_Add",
	"PySet_Size",
	// Identity and type checks
	"Py_IsNone",
	"Py_IsTrue",
	"Py_IsFalse",
	"PyObject_IsInstance",
	// Object protocol
	"PyObject_GetAttrString",
	"PyObject_SetAttrString",
	"PyObject_SetItem",
	"PyObject_Call",
	"PyObject_CallNoArgs",
	"PyObject_GetIter",
	"PyIter_Next",
	"PyObject_Repr",
	"PyObject_Str",
	"PyImport_ImportModule",
	"PyModule_GetDict",
	"PyEval_GetBuiltins",
	"PyEval_EvalCode",
	// Error indicator
	"PyErr_Occurred",
	// Shim entry points for operations a flat export cannot express
	"pyx_alloc",
	"pyx_free",
	"pyx_none_new",
	"pyx_tuple_pack",
	"pyx_err_fetch",
	"pyx_set_python_home",
	"pyx_set_program_name",
	"pyx_install_hooks",
}

// Config holds configuration for library loading.
type Config struct {
	// MemoryLimitPages sets the maximum guest memory in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Library is a loaded interpreter artifact. It implements capi.API.
//
// All interpreter entry points are serialized internally; the interpreter's
// own global lock additionally serializes the callers that matter. A trapped
// guest call panics: the interpreter state is gone and no caller can recover.
type Library struct {
	runtime wazero.Runtime
	mod     wazeroapi.Module
	mem     wazeroapi.Memory
	exports map[string]wazeroapi.Function
	path    string

	// scratch is a small guest-memory area for out-parameters. Calls using
	// it run under the call gate, so one area is enough.
	scratch uint32

	gate  callGate
	stack []uint64

	hooksMu    sync.RWMutex
	hooks      capi.HostHooks
	currentTID atomic.Uint64
}

var _ capi.API = (*Library)(nil)
var _ capi.Closer = (*Library)(nil)

// Open reads the interpreter artifact at path and loads it.
func Open(ctx context.Context, path string, cfg *Config) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read interpreter artifact", err)
	}
	return OpenBytes(ctx, path, data, cfg)
}

// OpenBytes loads an interpreter artifact from memory. The path is used for
// diagnostics only.
func OpenBytes(ctx context.Context, path string, data []byte, cfg *Config) (*Library, error) {
	if !bytes.HasPrefix(data, wasmMagic) {
		return nil, errors.InvalidInput(errors.PhaseLoad, "not a wasm interpreter artifact")
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	lib := &Library{
		runtime: r,
		exports: make(map[string]wazeroapi.Function, len(requiredExports)),
		path:    path,
		stack:   make([]uint64, 8),
	}

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	if err := lib.instantiateHostModule(ctx); err != nil {
		r.Close(ctx)
		return nil, errors.Load("register host functions", err)
	}

	compiled, err := r.CompileModule(ctx, data)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Load("compile interpreter artifact", err)
	}

	// The artifact is built as a WASI reactor: _initialize sets up the guest
	// libc without running a main function.
	mod, err := r.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("pythonx").WithStartFunctions("_initialize"))
	if err != nil {
		r.Close(ctx)
		return nil, errors.Load("instantiate interpreter artifact", err)
	}
	lib.mod = mod
	lib.mem = mod.Memory()

	var missing []string
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			missing = append(missing, name)
			continue
		}
		lib.exports[name] = fn
	}
	if len(missing) > 0 {
		r.Close(ctx)
		return nil, errors.NewMissingSymbolsError(path, missing)
	}

	lib.scratch = uint32(lib.call("pyx_alloc", 64))
	if lib.scratch == 0 {
		r.Close(ctx)
		return nil, errors.Load("allocate scratch area", nil)
	}

	return lib, nil
}

// Close releases the instance and the wazero runtime.
func (l *Library) Close(ctx context.Context) error {
	if l.runtime == nil {
		return nil
	}
	err := l.runtime.Close(ctx)
	l.runtime = nil
	l.mod = nil
	l.mem = nil
	l.exports = nil
	return err
}

// CloseLibrary implements capi.Closer.
func (l *Library) CloseLibrary(ctx context.Context) error { return l.Close(ctx) }

// Path returns the artifact path the library was loaded from.
func (l *Library) Path() string { return l.path }

// callGate serializes guest entry across goroutines. Guest code can invoke
// host hooks mid-call, and a hook may need further ABI calls (taking a
// reference on a sent object, for one); those arrive on the goroutine that
// already owns the gate, so lock records the owner and re-entry from it
// proceeds without acquiring.
type callGate struct {
	mu    sync.Mutex
	owner atomic.Uint64
}

// lock acquires the gate unless the calling goroutine already holds it.
// The return value says whether this call acquired; pass it to unlock.
func (g *callGate) lock() bool {
	id := goid.ID()
	if g.owner.Load() == id {
		return false
	}
	g.mu.Lock()
	g.owner.Store(id)
	return true
}

func (g *callGate) unlock(acquired bool) {
	if !acquired {
		return
	}
	g.owner.Store(0)
	g.mu.Unlock()
}

// call invokes a guest export and returns its first result. Zero-result
// functions return 0. The interpreter is single-threaded inside the guest;
// the gate keeps lock-free entry points (PyThreadState_New) from racing
// calls made under the global lock.
func (l *Library) call(name string, args ...uint64) uint64 {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)
	return l.callLocked(name, args...)
}

func (l *Library) callLocked(name string, args ...uint64) uint64 {
	fn := l.exports[name]
	if fn == nil {
		panic(errors.New(errors.PhaseRuntime, errors.KindSymbolMissing).
			Detail("call to unresolved export %s", name).Build())
	}

	copy(l.stack, args)
	for i := len(args); i < len(l.stack); i++ {
		l.stack[i] = 0
	}
	if err := fn.CallWithStack(context.Background(), l.stack); err != nil {
		panic(errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err,
			fmt.Sprintf("interpreter call %s trapped", name)))
	}
	return l.stack[0]
}

// Guest memory helpers. Out-of-bounds access means the artifact and the
// bridge disagree about the ABI; that is not recoverable.

func (l *Library) readBytes(ptr, size uint32) []byte {
	if size == 0 {
		return nil
	}
	data, ok := l.mem.Read(ptr, size)
	if !ok {
		panic(errors.InvalidData(errors.PhaseRuntime, nil,
			fmt.Sprintf("guest memory read out of bounds: ptr=%d size=%d", ptr, size)))
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

func (l *Library) readU32(ptr uint32) uint32 {
	v, ok := l.mem.ReadUint32Le(ptr)
	if !ok {
		panic(errors.InvalidData(errors.PhaseRuntime, nil,
			fmt.Sprintf("guest memory read out of bounds: ptr=%d", ptr)))
	}
	return v
}

func (l *Library) writeU32(ptr uint32, v uint32) {
	if !l.mem.WriteUint32Le(ptr, v) {
		panic(errors.InvalidData(errors.PhaseRuntime, nil,
			fmt.Sprintf("guest memory write out of bounds: ptr=%d", ptr)))
	}
}

// allocBytes copies b into guest memory. Caller must freeBytes the result.
// Allocating zero bytes still produces a valid pointer so that C string
// parameters are never null.
func (l *Library) allocBytes(b []byte) (ptr, size uint32) {
	size = uint32(len(b))
	ptr = uint32(l.callLocked("pyx_alloc", uint64(size)+1))
	if ptr == 0 {
		panic(errors.Load("guest allocation failed", nil))
	}
	if len(b) > 0 && !l.mem.Write(ptr, b) {
		panic(errors.InvalidData(errors.PhaseRuntime, nil, "guest memory write out of bounds"))
	}
	// NUL terminator for C string consumers
	l.writeU32Byte(ptr+size, 0)
	return ptr, size
}

func (l *Library) writeU32Byte(ptr uint32, v byte) {
	if !l.mem.WriteByte(ptr, v) {
		panic(errors.InvalidData(errors.PhaseRuntime, nil, "guest memory write out of bounds"))
	}
}

func (l *Library) freeBytes(ptr, size uint32) {
	l.callLocked("pyx_free", uint64(ptr), uint64(size)+1)
}

// callWithString runs fn with s copied into guest memory, freeing it after.
func (l *Library) callWithString(name string, s string, lead []uint64, trail ...uint64) uint64 {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	ptr, size := l.allocBytes([]byte(s))
	defer l.freeBytes(ptr, size)

	args := make([]uint64, 0, len(lead)+2+len(trail))
	args = append(args, lead...)
	args = append(args, uint64(ptr))
	args = append(args, trail...)
	return l.callLocked(name, args...)
}

func ref(v uint64) capi.ObjRef { return capi.ObjRef(uint32(v)) }

// Lifecycle

func (l *Library) SetPythonHome(path string) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)
	ptr, size := l.allocBytes([]byte(path))
	defer l.freeBytes(ptr, size)
	l.callLocked("pyx_set_python_home", uint64(ptr), uint64(size))
}

func (l *Library) SetProgramName(path string) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)
	ptr, size := l.allocBytes([]byte(path))
	defer l.freeBytes(ptr, size)
	l.callLocked("pyx_set_program_name", uint64(ptr), uint64(size))
}

func (l *Library) InitializeEx(initsigs bool) {
	v := uint64(0)
	if initsigs {
		v = 1
	}
	l.call("Py_InitializeEx", v)
}

func (l *Library) InterpreterState() capi.InterpState {
	return capi.InterpState(uint32(l.call("PyInterpreterState_Get")))
}

func (l *Library) ThreadStateNew(interp capi.InterpState) capi.ThreadState {
	return capi.ThreadState(uint32(l.call("PyThreadState_New", uint64(interp))))
}

func (l *Library) EvalRestoreThread(ts capi.ThreadState, tid capi.ThreadID) {
	l.call("PyEval_RestoreThread", uint64(ts))
	l.currentTID.Store(uint64(tid))
}

func (l *Library) EvalSaveThread() capi.ThreadState {
	l.currentTID.Store(0)
	return capi.ThreadState(uint32(l.call("PyEval_SaveThread")))
}

// Reference counting

func (l *Library) IncRef(obj capi.ObjRef) { l.call("Py_IncRef", uint64(obj)) }
func (l *Library) DecRef(obj capi.ObjRef) { l.call("Py_DecRef", uint64(obj)) }

// Constructors

func (l *Library) NoneNew() capi.ObjRef {
	return ref(l.call("pyx_none_new"))
}

func (l *Library) BoolFromInt(v int) capi.ObjRef {
	return ref(l.call("PyBool_FromLong", uint64(int64(v))))
}

func (l *Library) LongFromInt64(v int64) capi.ObjRef {
	return ref(l.call("PyLong_FromLongLong", uint64(v)))
}

func (l *Library) LongFromString(s string, base int) capi.ObjRef {
	// pend is null: the whole string must parse
	return ref(l.callWithString("PyLong_FromString", s, nil, 0, uint64(int64(base))))
}

func (l *Library) FloatFromFloat64(v float64) capi.ObjRef {
	return ref(l.call("PyFloat_FromDouble", wazeroapi.EncodeF64(v)))
}

func (l *Library) BytesFromSlice(b []byte) capi.ObjRef {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)
	ptr, size := l.allocBytes(b)
	defer l.freeBytes(ptr, size)
	return ref(l.callLocked("PyBytes_FromStringAndSize", uint64(ptr), uint64(size)))
}

func (l *Library) UnicodeFromString(s string) capi.ObjRef {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)
	ptr, size := l.allocBytes([]byte(s))
	defer l.freeBytes(ptr, size)
	return ref(l.callLocked("PyUnicode_FromStringAndSize", uint64(ptr), uint64(size)))
}

func (l *Library) DictNew() capi.ObjRef { return ref(l.call("PyDict_New")) }
func (l *Library) SetNew() capi.ObjRef  { return ref(l.call("PySet_New", 0)) }

func (l *Library) TupleNew(size int) capi.ObjRef {
	return ref(l.call("PyTuple_New", uint64(int64(size))))
}

func (l *Library) TuplePack(items ...capi.ObjRef) capi.ObjRef {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	buf := make([]byte, 4*len(items))
	for i, item := range items {
		v := uint32(item)
		buf[4*i] = byte(v)
		buf[4*i+1] = byte(v >> 8)
		buf[4*i+2] = byte(v >> 16)
		buf[4*i+3] = byte(v >> 24)
	}
	ptr, size := l.allocBytes(buf)
	defer l.freeBytes(ptr, size)
	return ref(l.callLocked("pyx_tuple_pack", uint64(len(items)), uint64(ptr)))
}

func (l *Library) ListNew(size int) capi.ObjRef {
	return ref(l.call("PyList_New", uint64(int64(size))))
}

// Container operations

func (l *Library) DictSetItem(d, key, value capi.ObjRef) int {
	return int(int32(l.call("PyDict_SetItem", uint64(d), uint64(key), uint64(value))))
}

func (l *Library) DictSetItemString(d capi.ObjRef, key string, value capi.ObjRef) int {
	return int(int32(l.callWithString("PyDict_SetItemString", key, []uint64{uint64(d)}, uint64(value))))
}

func (l *Library) DictGetItem(d, key capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyDict_GetItem", uint64(d), uint64(key)))
}

func (l *Library) DictGetItemString(d capi.ObjRef, key string) capi.ObjRef {
	return ref(l.callWithString("PyDict_GetItemString", key, []uint64{uint64(d)}))
}

func (l *Library) DictCopy(d capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyDict_Copy", uint64(d)))
}

func (l *Library) DictSize(d capi.ObjRef) int {
	return int(int32(l.call("PyDict_Size", uint64(d))))
}

func (l *Library) DictNext(d capi.ObjRef, pos *int) (key, value capi.ObjRef, ok bool) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	l.writeU32(l.scratch, uint32(*pos))
	ret := l.callLocked("PyDict_Next", uint64(d),
		uint64(l.scratch), uint64(l.scratch+4), uint64(l.scratch+8))
	*pos = int(l.readU32(l.scratch))
	if uint32(ret) == 0 {
		return 0, 0, false
	}
	return capi.ObjRef(l.readU32(l.scratch + 4)), capi.ObjRef(l.readU32(l.scratch + 8)), true
}

func (l *Library) TupleSetItem(t capi.ObjRef, index int, value capi.ObjRef) int {
	return int(int32(l.call("PyTuple_SetItem", uint64(t), uint64(int64(index)), uint64(value))))
}

func (l *Library) TupleGetItem(t capi.ObjRef, index int) capi.ObjRef {
	return ref(l.call("PyTuple_GetItem", uint64(t), uint64(int64(index))))
}

func (l *Library) TupleSize(t capi.ObjRef) int {
	return int(int32(l.call("PyTuple_Size", uint64(t))))
}

func (l *Library) ListSetItem(list capi.ObjRef, index int, value capi.ObjRef) int {
	return int(int32(l.call("PyList_SetItem", uint64(list), uint64(int64(index)), uint64(value))))
}

func (l *Library) ListGetItem(list capi.ObjRef, index int) capi.ObjRef {
	return ref(l.call("PyList_GetItem", uint64(list), uint64(int64(index))))
}

func (l *Library) ListAppend(list, value capi.ObjRef) int {
	return int(int32(l.call("PyList_Append", uint64(list), uint64(value))))
}

func (l *Library) ListSize(list capi.ObjRef) int {
	return int(int32(l.call("PyList_Size", uint64(list))))
}

func (l *Library) SetAdd(s, value capi.ObjRef) int {
	return int(int32(l.call("PySet_Add", uint64(s), uint64(value))))
}

func (l *Library) SetSize(s capi.ObjRef) int {
	return int(int32(l.call("PySet_Size", uint64(s))))
}

// Accessors

func (l *Library) LongAsInt64AndOverflow(obj capi.ObjRef) (int64, int) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	v := int64(l.callLocked("PyLong_AsLongLongAndOverflow", uint64(obj), uint64(l.scratch)))
	overflow := int(int32(l.readU32(l.scratch)))
	return v, overflow
}

func (l *Library) FloatAsFloat64(obj capi.ObjRef) float64 {
	return wazeroapi.DecodeF64(l.call("PyFloat_AsDouble", uint64(obj)))
}

func (l *Library) UnicodeAsString(obj capi.ObjRef) (string, bool) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	buf := uint32(l.callLocked("PyUnicode_AsUTF8AndSize", uint64(obj), uint64(l.scratch)))
	if buf == 0 {
		return "", false
	}
	size := l.readU32(l.scratch)
	return string(l.readBytes(buf, size)), true
}

func (l *Library) BytesAsSlice(obj capi.ObjRef) ([]byte, bool) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	ret := int32(l.callLocked("PyBytes_AsStringAndSize", uint64(obj),
		uint64(l.scratch), uint64(l.scratch+4)))
	if ret == -1 {
		return nil, false
	}
	buf := l.readU32(l.scratch)
	size := l.readU32(l.scratch + 4)
	return l.readBytes(buf, size), true
}

// Identity and type checks

func (l *Library) IsNone(obj capi.ObjRef) int {
	return int(int32(l.call("Py_IsNone", uint64(obj))))
}

func (l *Library) IsTrue(obj capi.ObjRef) int {
	return int(int32(l.call("Py_IsTrue", uint64(obj))))
}

func (l *Library) IsFalse(obj capi.ObjRef) int {
	return int(int32(l.call("Py_IsFalse", uint64(obj))))
}

func (l *Library) IsInstance(obj, typ capi.ObjRef) int {
	return int(int32(l.call("PyObject_IsInstance", uint64(obj), uint64(typ))))
}

// Object protocol

func (l *Library) GetAttrString(obj capi.ObjRef, name string) capi.ObjRef {
	return ref(l.callWithString("PyObject_GetAttrString", name, []uint64{uint64(obj)}))
}

func (l *Library) SetAttrString(obj capi.ObjRef, name string, value capi.ObjRef) int {
	return int(int32(l.callWithString("PyObject_SetAttrString", name, []uint64{uint64(obj)}, uint64(value))))
}

func (l *Library) SetItem(obj, key, value capi.ObjRef) int {
	return int(int32(l.call("PyObject_SetItem", uint64(obj), uint64(key), uint64(value))))
}

func (l *Library) Call(callable, args, kwargs capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyObject_Call", uint64(callable), uint64(args), uint64(kwargs)))
}

func (l *Library) CallNoArgs(callable capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyObject_CallNoArgs", uint64(callable)))
}

func (l *Library) GetIter(obj capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyObject_GetIter", uint64(obj)))
}

func (l *Library) IterNext(it capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyIter_Next", uint64(it)))
}

func (l *Library) Repr(obj capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyObject_Repr", uint64(obj)))
}

func (l *Library) Str(obj capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyObject_Str", uint64(obj)))
}

func (l *Library) ImportModule(name string) capi.ObjRef {
	return ref(l.callWithString("PyImport_ImportModule", name, nil))
}

func (l *Library) ModuleGetDict(mod capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyModule_GetDict", uint64(mod)))
}

func (l *Library) EvalGetBuiltins() capi.ObjRef {
	return ref(l.call("PyEval_GetBuiltins"))
}

func (l *Library) EvalEvalCode(code, globals, locals capi.ObjRef) capi.ObjRef {
	return ref(l.call("PyEval_EvalCode", uint64(code), uint64(globals), uint64(locals)))
}

// Error indicator

func (l *Library) ErrOccurred() capi.ObjRef {
	return ref(l.call("PyErr_Occurred"))
}

func (l *Library) ErrFetch() (typ, value, tb capi.ObjRef) {
	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	l.callLocked("pyx_err_fetch", uint64(l.scratch))
	typ = capi.ObjRef(l.readU32(l.scratch))
	value = capi.ObjRef(l.readU32(l.scratch + 4))
	tb = capi.ObjRef(l.readU32(l.scratch + 8))
	return typ, value, tb
}

// Host hooks

// InstallHostHooks stores the hook set and runs the interpreter-side
// bootstrap, which replaces sys.stdout/sys.stderr and defines the pythonx
// guest module. Requires the global lock.
func (l *Library) InstallHostHooks(hooks capi.HostHooks) error {
	l.hooksMu.Lock()
	l.hooks = hooks
	l.hooksMu.Unlock()

	acquired := l.gate.lock()
	defer l.gate.unlock(acquired)

	ptr, size := l.allocBytes([]byte(bootstrapSource))
	defer l.freeBytes(ptr, size)

	if ret := int32(l.callLocked("pyx_install_hooks", uint64(ptr), uint64(size))); ret != 0 {
		return errors.Wrap(errors.PhaseInit, errors.KindInvalidData, nil,
			"interpreter bootstrap failed")
	}
	return nil
}

// instantiateHostModule registers the pythonx_host import namespace. The
// guest shims call these when evaluated code writes output or sends a tagged
// object.
func (l *Library) instantiateHostModule(ctx context.Context) error {
	i32 := wazeroapi.ValueTypeI32

	_, err := l.runtime.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(wazeroapi.GoModuleFunc(l.hostIOWrite),
			[]wazeroapi.ValueType{i32, i32, i32, i32, i32}, nil).
		Export("pyx_handle_io_write").
		NewFunctionBuilder().
		WithGoModuleFunction(wazeroapi.GoModuleFunc(l.hostSendTagged),
			[]wazeroapi.ValueType{i32, i32, i32, i32, i32, i32, i32}, nil).
		Export("pyx_handle_send_tagged_object").
		Instantiate(ctx)
	return err
}

// hostIOWrite handles pyx_handle_io_write(text, text_len, token, token_len, stream).
func (l *Library) hostIOWrite(_ context.Context, mod wazeroapi.Module, stack []uint64) {
	text := readGuestBytes(mod, uint32(stack[0]), uint32(stack[1]))
	token := readGuestBytes(mod, uint32(stack[2]), uint32(stack[3]))
	stream := pythonx.Stream(uint32(stack[4]))

	l.hooksMu.RLock()
	hook := l.hooks.WriteOutput
	l.hooksMu.RUnlock()
	if hook == nil {
		Logger().Warn("io write before host hooks installed; output dropped",
			zap.Int("bytes", len(text)))
		return
	}
	hook(capi.ThreadID(l.currentTID.Load()), token, stream, string(text))
}

// hostSendTagged handles
// pyx_handle_send_tagged_object(pid, pid_len, tag, tag_len, obj, token, token_len).
func (l *Library) hostSendTagged(_ context.Context, mod wazeroapi.Module, stack []uint64) {
	pid := readGuestBytes(mod, uint32(stack[0]), uint32(stack[1]))
	tag := readGuestBytes(mod, uint32(stack[2]), uint32(stack[3]))
	obj := capi.ObjRef(uint32(stack[4]))
	token := readGuestBytes(mod, uint32(stack[5]), uint32(stack[6]))

	l.hooksMu.RLock()
	hook := l.hooks.SendTagged
	l.hooksMu.RUnlock()
	if hook == nil {
		Logger().Warn("tagged send before host hooks installed; message dropped",
			zap.String("tag", string(tag)))
		return
	}
	hook(capi.ThreadID(l.currentTID.Load()), token, pid, string(tag), obj)
}

func readGuestBytes(mod wazeroapi.Module, ptr, size uint32) []byte {
	if size == 0 {
		return nil
	}
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}
