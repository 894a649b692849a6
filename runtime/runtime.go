package runtime

import (
	"context"
	gort "runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/engine"
	"github.com/livebook-dev/pythonx/errors"
)

// Config holds Runtime configuration.
type Config struct {
	// LibraryPath is the interpreter artifact to load. Used by Init;
	// NewWithAPI takes an already-constructed backend instead.
	LibraryPath string

	// PythonHome and ProgramName configure the interpreter before
	// initialization. Empty values leave the interpreter defaults.
	PythonHome  string
	ProgramName string

	// SysPaths are appended to the interpreter's sys.path after
	// initialization, in order.
	SysPaths []string

	// Env entries are written into os.environ after initialization. The
	// interpreter's inherited environment is otherwise left alone.
	Env map[string]string

	// InitSignals lets the interpreter install its signal handlers. Off by
	// default: the host owns signal handling.
	InitSignals bool

	// Workers is the scheduler pool size. Defaults to GOMAXPROCS, capped
	// at 8.
	Workers int

	// MemoryLimitPages caps interpreter memory in 64KB pages. 0 means no
	// explicit cap.
	MemoryLimitPages uint32

	Logger *zap.Logger
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := gort.GOMAXPROCS(0)
	if n > 8 {
		n = 8
	}
	return n
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// typeCache holds owned references to interpreter types and callables the
// bridge uses on every call. Populated once during initialization, released
// at Close.
type typeCache struct {
	intType       capi.ObjRef
	floatType     capi.ObjRef
	tupleType     capi.ObjRef
	listType      capi.ObjRef
	dictType      capi.ObjRef
	strType       capi.ObjRef
	bytesType     capi.ObjRef
	setType       capi.ObjRef
	frozensetType capi.ObjRef

	compileFn       capi.ObjRef
	parseFn         capi.ObjRef
	expressionClass capi.ObjRef
	exprStmtClass   capi.ObjRef
	moduleTypeClass capi.ObjRef
	sysModules      capi.ObjRef
	pidClass        capi.ObjRef
}

// Runtime owns one embedded interpreter.
type Runtime struct {
	api    capi.API
	closer capi.Closer

	sched   *scheduler
	gil     *gilState
	janitor *janitor
	devices *deviceTable
	names   *nameRegistry
	cache   *codeCache
	types   typeCache

	interp  capi.InterpState
	logger  *zap.Logger
	callSeq atomic.Uint64
	live    atomic.Int64
	closed  atomic.Bool
}

// Init loads the interpreter artifact at cfg.LibraryPath and initializes a
// runtime on it.
func Init(ctx context.Context, cfg Config) (*Runtime, error) {
	lib, err := engine.Open(ctx, cfg.LibraryPath, &engine.Config{
		MemoryLimitPages: cfg.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}

	rt, err := NewWithAPI(lib, cfg)
	if err != nil {
		lib.CloseLibrary(ctx)
		return nil, err
	}
	rt.closer = lib
	return rt, nil
}

// NewWithAPI initializes a runtime on an already-constructed interpreter
// backend. The runtime does not close the backend.
func NewWithAPI(api capi.API, cfg Config) (*Runtime, error) {
	if api == nil {
		return nil, errors.NilPointer(errors.PhaseInit, nil, "capi.API")
	}

	r := &Runtime{
		api:     api,
		devices: newDeviceTable(),
		names:   newNameRegistry(),
		cache:   newCodeCache(),
		logger:  cfg.logger(),
	}
	r.sched = newScheduler(cfg.workers())
	r.janitor = newJanitor(r, r.logger)

	var initErr error
	ok := r.sched.run(func(tid capi.ThreadID) {
		initErr = r.initialize(tid, cfg)
	})
	if !ok {
		initErr = errors.NotInitialized(errors.PhaseInit, "scheduler")
	}
	if initErr != nil {
		r.janitor.close()
		r.sched.close()
		return nil, initErr
	}

	// Orphaned sends land on the janitor's consumer, which drops them with
	// a diagnostic.
	r.names.register(JanitorName, ConsumerFunc(func(msg Message) {
		r.logger.Debug("janitor received orphaned message", zap.String("tag", msg.Tag))
		msg.Value.Release()
	}))

	r.logger.Info("interpreter initialized",
		zap.Int("workers", r.sched.workers))
	return r, nil
}

// initialize runs interpreter startup on a scheduler thread. The thread
// holds the global lock from InitializeEx until the trailing save; the saved
// thread state is adopted as this worker's binding.
func (r *Runtime) initialize(tid capi.ThreadID, cfg Config) error {
	if cfg.PythonHome != "" {
		r.api.SetPythonHome(cfg.PythonHome)
	}
	if cfg.ProgramName != "" {
		r.api.SetProgramName(cfg.ProgramName)
	}
	r.api.InitializeEx(cfg.InitSignals)

	r.interp = r.api.InterpreterState()
	if r.interp == 0 {
		return errors.NotInitialized(errors.PhaseInit, "interpreter state")
	}
	r.gil = newGILState(r.api, r.interp)

	if err := r.api.InstallHostHooks(capi.HostHooks{
		WriteOutput: r.handleOutput,
		SendTagged:  r.handleSend,
	}); err != nil {
		return err
	}

	if err := r.loadTypeCache(); err != nil {
		return err
	}
	if err := r.applyEnvironment(cfg); err != nil {
		return err
	}

	ts := r.api.EvalSaveThread()
	r.gil.adopt(tid, ts)
	return nil
}

// loadTypeCache resolves the types and callables used on the hot paths.
// Lock held.
func (r *Runtime) loadTypeCache() error {
	builtins := r.api.EvalGetBuiltins()
	if builtins == 0 {
		return errors.NotInitialized(errors.PhaseInit, "builtins")
	}

	fromBuiltins := func(name string, dst *capi.ObjRef) error {
		ref := r.api.DictGetItemString(builtins, name)
		if ref == 0 {
			return errors.NotFound(errors.PhaseInit, "builtin", name)
		}
		r.api.IncRef(ref)
		*dst = ref
		return nil
	}

	builtinTypes := []struct {
		name string
		dst  *capi.ObjRef
	}{
		{"int", &r.types.intType},
		{"float", &r.types.floatType},
		{"tuple", &r.types.tupleType},
		{"list", &r.types.listType},
		{"dict", &r.types.dictType},
		{"str", &r.types.strType},
		{"bytes", &r.types.bytesType},
		{"set", &r.types.setType},
		{"frozenset", &r.types.frozensetType},
		{"compile", &r.types.compileFn},
	}
	for _, bt := range builtinTypes {
		if err := fromBuiltins(bt.name, bt.dst); err != nil {
			return err
		}
	}

	fromModule := func(module, attr string, dst *capi.ObjRef) error {
		mod := r.api.ImportModule(module)
		if mod == 0 {
			r.clearPending()
			return errors.NotFound(errors.PhaseInit, "module", module)
		}
		defer r.api.DecRef(mod)

		ref := r.api.GetAttrString(mod, attr)
		if ref == 0 {
			r.clearPending()
			return errors.NotFound(errors.PhaseInit, "attribute", module+"."+attr)
		}
		*dst = ref
		return nil
	}

	if err := fromModule("ast", "parse", &r.types.parseFn); err != nil {
		return err
	}
	if err := fromModule("ast", "Expression", &r.types.expressionClass); err != nil {
		return err
	}
	if err := fromModule("ast", "Expr", &r.types.exprStmtClass); err != nil {
		return err
	}
	if err := fromModule("types", "ModuleType", &r.types.moduleTypeClass); err != nil {
		return err
	}
	if err := fromModule("sys", "modules", &r.types.sysModules); err != nil {
		return err
	}

	// The pythonx module exists once host hooks are installed. Without it
	// PID values cannot cross the boundary; everything else still works.
	if err := fromModule("pythonx", "PID", &r.types.pidClass); err != nil {
		r.logger.Warn("pythonx interpreter module unavailable; PID support disabled",
			zap.Error(err))
		r.types.pidClass = 0
	}
	return nil
}

// applyEnvironment appends cfg.SysPaths to sys.path and writes cfg.Env into
// os.environ. Lock held.
func (r *Runtime) applyEnvironment(cfg Config) error {
	if len(cfg.SysPaths) > 0 {
		sys := r.api.ImportModule("sys")
		if sys == 0 {
			return r.fetchPyErr(errors.PhaseInit)
		}
		defer r.api.DecRef(sys)

		path := r.api.GetAttrString(sys, "path")
		if path == 0 {
			return r.fetchPyErr(errors.PhaseInit)
		}
		defer r.api.DecRef(path)

		for _, p := range cfg.SysPaths {
			entry := r.api.UnicodeFromString(p)
			if entry == 0 {
				return r.fetchPyErr(errors.PhaseInit)
			}
			appended := r.api.ListAppend(path, entry)
			r.api.DecRef(entry)
			if appended != 0 {
				return r.fetchPyErr(errors.PhaseInit)
			}
		}
	}

	if len(cfg.Env) > 0 {
		osMod := r.api.ImportModule("os")
		if osMod == 0 {
			return r.fetchPyErr(errors.PhaseInit)
		}
		defer r.api.DecRef(osMod)

		environ := r.api.GetAttrString(osMod, "environ")
		if environ == 0 {
			return r.fetchPyErr(errors.PhaseInit)
		}
		defer r.api.DecRef(environ)

		for k, v := range cfg.Env {
			keyRef := r.api.UnicodeFromString(k)
			if keyRef == 0 {
				return r.fetchPyErr(errors.PhaseInit)
			}
			valRef := r.api.UnicodeFromString(v)
			if valRef == 0 {
				r.api.DecRef(keyRef)
				return r.fetchPyErr(errors.PhaseInit)
			}
			set := r.api.SetItem(environ, keyRef, valRef)
			r.api.DecRef(keyRef)
			r.api.DecRef(valRef)
			if set != 0 {
				return r.fetchPyErr(errors.PhaseInit)
			}
		}
	}
	return nil
}

// ready reports whether the runtime accepts work.
func (r *Runtime) ready() error {
	if r.closed.Load() {
		return errors.Wrap(errors.PhaseRuntime, errors.KindClosed, nil, "runtime is closed")
	}
	return nil
}

// Close shuts the runtime down: pending reference drops are flushed, cached
// code and type references are retired, the scheduler stops, and the backend
// is closed when the runtime owns it. Outstanding *Object handles become
// inert; releasing them after Close only logs.
func (r *Runtime) Close(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}

	r.janitor.close()

	// The cache is emptied before taking the global lock; holding the lock
	// while waiting on the cache mutex would invert the order every lookup
	// uses and deadlock against an in-flight compilation.
	cached := r.cache.drain()
	r.sched.run(func(tid capi.ThreadID) {
		guard := r.gil.lock(tid)
		defer guard.unlock()

		for _, ref := range cached {
			r.api.DecRef(ref)
		}
		r.releaseTypeCache()
	})

	r.sched.close()
	r.devices.close()

	if r.closer != nil {
		if err := r.closer.CloseLibrary(ctx); err != nil {
			return err
		}
	}

	r.logger.Info("interpreter closed", zap.Int64("leaked_handles", r.live.Load()))
	return nil
}

// releaseTypeCache drops the owned type references. Lock held.
func (r *Runtime) releaseTypeCache() {
	refs := []capi.ObjRef{
		r.types.intType, r.types.floatType, r.types.tupleType, r.types.listType,
		r.types.dictType, r.types.strType, r.types.bytesType, r.types.setType,
		r.types.frozensetType, r.types.compileFn, r.types.parseFn,
		r.types.expressionClass, r.types.exprStmtClass, r.types.moduleTypeClass,
		r.types.sysModules, r.types.pidClass,
	}
	for _, ref := range refs {
		if ref != 0 {
			r.api.DecRef(ref)
		}
	}
	r.types = typeCache{}
}

// RegisterConsumer makes c addressable from evaluated code under name.
// PIDFor(name) builds the matching PID value. Registering an existing name
// replaces the previous consumer.
func (r *Runtime) RegisterConsumer(name string, c Consumer) {
	r.names.register(name, c)
}

// DeregisterConsumer removes a consumer registration.
func (r *Runtime) DeregisterConsumer(name string) {
	r.names.deregister(name)
}

// PIDFor returns the PID value addressing the consumer registered under
// name.
func (r *Runtime) PIDFor(name string) PID {
	return PID{Data: []byte(name)}
}

// JanitorDecref queues a raw interpreter reference for retirement without
// going through an Object handle. Intended for callers that received a
// reference through the capi layer directly. No-op after Close.
func (r *Runtime) JanitorDecref(ref capi.ObjRef) {
	r.janitor.decref(ref)
}

// LiveObjects reports the number of unreleased object handles.
func (r *Runtime) LiveObjects() int64 {
	return r.live.Load()
}

// ThreadBindings reports how many interpreter thread states exist. Never
// exceeds the scheduler pool size plus the initial thread.
func (r *Runtime) ThreadBindings() int {
	return r.gil.bindingCount()
}
