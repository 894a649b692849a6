package fakepy

import (
	"strings"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/capi"
)

// bootstrap creates the singletons, type objects, builtins dict and standard
// modules. Called from InitializeEx.
func (in *Interp) bootstrap() {
	in.mu.Lock()

	immortal := func(obj *object) capi.ObjRef {
		obj.immortal = true
		ref := in.allocLocked(obj)
		return ref
	}

	in.none = immortal(&object{kind: kindNone})
	in.trueRef = immortal(&object{kind: kindBool, b: true})
	in.falseRef = immortal(&object{kind: kindBool, b: false})

	typeNames := []string{
		"int", "float", "tuple", "list", "dict", "str", "bytes", "set",
		"frozenset", "bool", "NoneType", "module", "code",
		"Module", "Expr", "Expression", "Assign",
		"NameError", "TypeError", "ValueError", "ZeroDivisionError",
		"SyntaxError", "AttributeError", "RuntimeError",
	}
	for _, name := range typeNames {
		in.typeRefs[name] = immortal(&object{kind: kindType, s: name})
	}

	builtinFns := map[string]builtinFn{
		"compile":            builtinCompile,
		"print":              builtinPrint,
		"len":                builtinLen,
		"spawn_write":        builtinSpawnWrite,
		"send_tagged_object": builtinSendTagged,
	}

	builtins := &object{kind: kindDict, immortal: true}
	addEntry := func(name string, value capi.ObjRef) {
		key := in.allocLocked(&object{kind: kindStr, s: name, immortal: true})
		builtins.pairs = append(builtins.pairs, pair{key: key, value: value})
	}
	for _, name := range []string{
		"int", "float", "tuple", "list", "dict", "str", "bytes", "set",
		"frozenset", "bool",
	} {
		addEntry(name, in.typeRefs[name])
	}
	for name, fn := range builtinFns {
		addEntry(name, immortal(&object{kind: kindBuiltin, s: name, fn: fn}))
	}
	in.builtins = immortal(builtins)

	module := func(name string, attrs map[string]capi.ObjRef) capi.ObjRef {
		ref := immortal(&object{kind: kindModule, s: name, attrs: attrs})
		in.modules[name] = ref
		return ref
	}

	module("ast", map[string]capi.ObjRef{
		"parse":      immortal(&object{kind: kindBuiltin, s: "parse", fn: builtinParse}),
		"Module":     in.typeRefs["Module"],
		"Expr":       in.typeRefs["Expr"],
		"Expression": in.typeRefs["Expression"],
		"Assign":     in.typeRefs["Assign"],
	})
	module("types", map[string]capi.ObjRef{
		"ModuleType": immortal(&object{kind: kindType, s: "ModuleType"}),
	})
	module("traceback", map[string]capi.ObjRef{
		"format_exception": immortal(&object{
			kind: kindBuiltin, s: "format_exception", fn: builtinFormatException,
		}),
	})

	in.sysModules = immortal(&object{kind: kindDict})
	module("sys", map[string]capi.ObjRef{
		"modules": in.sysModules,
		"path":    immortal(&object{kind: kindList}),
	})
	module("os", map[string]capi.ObjRef{
		"environ": immortal(&object{kind: kindDict}),
	})

	in.mu.Unlock()
}

// installPythonxModule defines the guest-facing pythonx module. Runs when
// host hooks are installed, like the artifact's bootstrap does.
func (in *Interp) installPythonxModule() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.modules["pythonx"]; ok {
		return
	}

	pidClass := &object{kind: kindType, s: "PID", immortal: true}
	pidRef := in.allocLocked(pidClass)
	in.typeRefs["PID"] = pidRef

	sendRef := in.allocLocked(&object{
		kind: kindBuiltin, s: "send_tagged_object",
		fn: builtinSendTagged, immortal: true,
	})

	mod := &object{kind: kindModule, s: "pythonx", immortal: true, attrs: map[string]capi.ObjRef{
		"PID":                pidRef,
		"send_tagged_object": sendRef,
	}}
	in.modules["pythonx"] = in.allocLocked(mod)
}

// tokenFromGlobals reads the call context token an evaluation planted.
func (in *Interp) tokenFromGlobals(ctx *evalCtx) []byte {
	if ctx == nil || ctx.globals == 0 {
		return nil
	}
	g := in.get(ctx.globals)
	if g == nil {
		return nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, p := range g.pairs {
		key := in.objects[p.key]
		if key != nil && key.kind == kindStr && key.s == capi.EvalTokenGlobal {
			if v := in.objects[p.value]; v != nil && v.kind == kindBytes {
				return v.bytes
			}
		}
	}
	return nil
}

func (in *Interp) writeOutput(ctx *evalCtx, tid capi.ThreadID, stream pythonx.Stream, text string) {
	token := in.tokenFromGlobals(ctx)

	in.hooksMu.RLock()
	hook := in.hooks.WriteOutput
	in.hooksMu.RUnlock()
	if hook != nil {
		hook(tid, token, stream, text)
	}
}

// builtinPrint renders its arguments like print does and routes the line to
// the stdout hook.
func builtinPrint(in *Interp, ctx *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, in.strValue(arg))
	}
	text := strings.Join(parts, " ") + "\n"
	in.writeOutput(ctx, capi.ThreadID(in.currentTID.Load()), pythonx.Stdout, text)

	in.incref(in.none)
	return in.none, nil
}

func builtinLen(in *Interp, _ *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	if len(args) != 1 {
		return 0, raise("TypeError", "len() takes exactly one argument")
	}
	obj := in.get(args[0])
	if obj == nil {
		return 0, raise("TypeError", "object has no len()")
	}
	var n int
	switch obj.kind {
	case kindStr:
		n = len(obj.s)
	case kindBytes:
		n = len(obj.bytes)
	case kindTuple, kindList, kindSet, kindFrozenset:
		n = len(obj.items)
	case kindDict:
		n = len(obj.pairs)
	default:
		return 0, raise("TypeError", "object has no len()")
	}
	return in.newInt64(int64(n)), nil
}

// builtinSpawnWrite writes its argument to stdout from a detached thread, so
// the hook observes a thread id the scheduler does not own.
func builtinSpawnWrite(in *Interp, ctx *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	if len(args) != 1 {
		return 0, raise("TypeError", "spawn_write() takes exactly one argument")
	}
	text := in.strValue(args[0])
	token := in.tokenFromGlobals(ctx)

	in.hooksMu.RLock()
	hook := in.hooks.WriteOutput
	in.hooksMu.RUnlock()

	in.detached.Add(1)
	go func() {
		defer in.detached.Done()
		if hook != nil {
			hook(detachedTID(), token, pythonx.Stdout, text)
		}
	}()

	in.incref(in.none)
	return in.none, nil
}

// builtinSendTagged delivers (pid, tag, obj) through the send hook. The
// object reference is borrowed for the duration of the hook.
func builtinSendTagged(in *Interp, ctx *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	if len(args) != 3 {
		return 0, raise("TypeError", "send_tagged_object() takes exactly three arguments")
	}

	pidObj := in.get(args[0])
	if pidObj == nil || pidObj.kind != kindInstance || in.typeName(pidObj.class) != "PID" {
		return 0, raise("TypeError", "pid must be a pythonx.PID")
	}
	dataRef := pidObj.attrs["data"]
	data := in.get(dataRef)
	if data == nil || data.kind != kindBytes {
		return 0, raise("TypeError", "PID payload must be bytes")
	}

	tag := in.strValue(args[1])
	token := in.tokenFromGlobals(ctx)

	in.hooksMu.RLock()
	hook := in.hooks.SendTagged
	in.hooksMu.RUnlock()
	if hook != nil {
		hook(capi.ThreadID(in.currentTID.Load()), token, data.bytes, tag, args[2])
	}

	in.incref(in.none)
	return in.none, nil
}

// builtinFormatException renders the two-line traceback tests match against.
func builtinFormatException(in *Interp, _ *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	if len(args) != 3 {
		return 0, raise("TypeError", "format_exception() takes exactly three arguments")
	}
	typeName := in.typeName(args[0])
	message := in.strValue(args[1])

	lines := []capi.ObjRef{
		in.alloc(&object{kind: kindStr, s: "Traceback (most recent call last):\n"}),
		in.alloc(&object{kind: kindStr, s: typeName + ": " + message + "\n"}),
	}
	return in.alloc(&object{kind: kindList, items: lines}), nil
}
