package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// EvalOptions configures one evaluation.
type EvalOptions struct {
	// Globals are bindings planted in the evaluation's globals before the
	// code runs. Values are encoded with the standard mapping; *Object
	// values are passed through.
	Globals map[string]any

	// Stdout and Stderr receive output written by the evaluated code. Nil
	// devices drop their stream.
	Stdout pythonx.Device
	Stderr pythonx.Device
}

// EvalResult is the outcome of a successful evaluation.
type EvalResult struct {
	// Value is the trailing expression's value, or nil when the source does
	// not end in an expression statement.
	Value *Object

	// Globals holds the evaluation's resulting bindings: the planted ones
	// plus everything the code defined, keyed by name. Dunder entries and
	// bookkeeping are excluded. Thread the map into the next call's
	// EvalOptions to carry state across evaluations.
	Globals map[string]*Object
}

// Release drops the result's object handles, value and globals both.
func (res *EvalResult) Release() {
	if res == nil {
		return
	}
	res.Value.Release()
	for _, o := range res.Globals {
		o.Release()
	}
}

// Eval compiles and runs source. The code executes against a fresh __main__
// module, so evaluations only share state through the returned globals. The
// context is checked before the evaluation starts; a running evaluation
// cannot be interrupted.
func (r *Runtime) Eval(ctx context.Context, source string, opts EvalOptions) (*EvalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.ready(); err != nil {
		return nil, err
	}

	var (
		result *EvalResult
		err    error
	)
	ok := r.sched.run(func(tid capi.ThreadID) {
		result, err = r.evalOnWorker(tid, source, opts)
	})
	if !ok {
		return nil, errors.Wrap(errors.PhaseEval, errors.KindClosed, nil, "runtime is closed")
	}
	return result, err
}

func (r *Runtime) evalOnWorker(tid capi.ThreadID, source string, opts EvalOptions) (*EvalResult, error) {
	code, err := r.lookupCompiled(tid, source)
	if err != nil {
		return nil, err
	}

	// Device registrations outlive the evaluation: interpreter threads
	// spawned by the code may keep writing after this call returns, and
	// those writes still belong to the devices the caller supplied. The
	// table releases everything at Close.
	tok := callToken{
		callID:    r.callSeq.Add(1),
		originTID: tid,
		stdout:    r.devices.register(opts.Stdout),
		stderr:    r.devices.register(opts.Stderr),
	}

	guard := r.gil.lock(tid)
	defer guard.unlock()

	globals, moduleRef, err := r.freshGlobals(tok)
	if err != nil {
		return nil, err
	}
	defer r.api.DecRef(moduleRef)

	snapshot := r.api.DictCopy(globals)
	if snapshot == 0 {
		return nil, r.fetchPyErr(errors.PhaseEval)
	}
	defer r.api.DecRef(snapshot)

	for name, value := range opts.Globals {
		ref, encErr := r.encode(value, []string{name})
		if encErr != nil {
			return nil, encErr
		}
		set := r.api.DictSetItemString(globals, name, ref)
		r.api.DecRef(ref)
		if set != 0 {
			return nil, r.fetchPyErr(errors.PhaseEval)
		}
	}

	bodyResult := r.api.EvalEvalCode(code.body, globals, globals)
	if bodyResult == 0 {
		return nil, r.fetchPyErr(errors.PhaseEval)
	}
	r.api.DecRef(bodyResult)

	result := &EvalResult{}
	if code.last != 0 {
		valueRef := r.api.EvalEvalCode(code.last, globals, globals)
		if valueRef == 0 {
			return nil, r.fetchPyErr(errors.PhaseEval)
		}
		result.Value = r.newObject(valueRef)
	}

	resultGlobals, err := r.collectGlobals(globals, snapshot)
	if err != nil {
		result.Release()
		return nil, err
	}
	result.Globals = resultGlobals

	r.logger.Debug("evaluation finished",
		zap.Uint64("call_id", tok.callID), zap.Int("globals", len(result.Globals)))
	return result, nil
}

// freshGlobals builds a new __main__ module with builtins and the call
// context token planted, registers it in sys.modules, and returns its
// globals dict (borrowed from the module) plus the module reference.
//
// Registration replaces any previous evaluation's module. Concurrent
// evaluations therefore race on the sys.modules entry; each evaluation
// executes against its own dict regardless, so the race only affects code
// that introspects sys.modules["__main__"] while another evaluation runs.
func (r *Runtime) freshGlobals(tok callToken) (globals, moduleRef capi.ObjRef, err error) {
	nameRef := r.api.UnicodeFromString("__main__")
	if nameRef == 0 {
		return 0, 0, r.fetchPyErr(errors.PhaseEval)
	}
	defer r.api.DecRef(nameRef)

	args := r.api.TuplePack(nameRef)
	if args == 0 {
		return 0, 0, r.fetchPyErr(errors.PhaseEval)
	}
	defer r.api.DecRef(args)

	moduleRef = r.api.Call(r.types.moduleTypeClass, args, 0)
	if moduleRef == 0 {
		return 0, 0, r.fetchPyErr(errors.PhaseEval)
	}

	fail := func() (capi.ObjRef, capi.ObjRef, error) {
		e := r.fetchPyErr(errors.PhaseEval)
		r.api.DecRef(moduleRef)
		return 0, 0, e
	}

	globals = r.api.ModuleGetDict(moduleRef)
	if globals == 0 {
		return fail()
	}

	if r.api.DictSetItemString(r.types.sysModules, "__main__", moduleRef) != 0 {
		return fail()
	}

	builtins := r.api.EvalGetBuiltins()
	if builtins == 0 {
		return fail()
	}
	if r.api.DictSetItemString(globals, "__builtins__", builtins) != 0 {
		return fail()
	}

	tokenRef := r.api.BytesFromSlice(tok.encode())
	if tokenRef == 0 {
		return fail()
	}
	set := r.api.DictSetItemString(globals, capi.EvalTokenGlobal, tokenRef)
	r.api.DecRef(tokenRef)
	if set != 0 {
		return fail()
	}

	return globals, moduleRef, nil
}

// collectGlobals diffs the dict against the pre-execution snapshot and
// returns the string-named entries the evaluation added. Lock held.
func (r *Runtime) collectGlobals(globals, snapshot capi.ObjRef) (map[string]*Object, error) {
	out := make(map[string]*Object)
	pos := 0
	for {
		key, value, more := r.api.DictNext(globals, &pos)
		if !more {
			break
		}
		if r.api.DictGetItem(snapshot, key) != 0 {
			continue
		}
		name, ok := r.api.UnicodeAsString(key)
		if !ok {
			// non-string key, skip
			r.clearPending()
			continue
		}
		r.api.IncRef(value)
		out[name] = r.newObject(value)
	}
	return out, nil
}
