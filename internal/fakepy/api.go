package fakepy

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/livebook-dev/pythonx/capi"
)

var _ capi.API = (*Interp)(nil)

var detachedCounter atomic.Uint64

// detachedTID produces thread ids outside the scheduler's range, standing in
// for interpreter-spawned threads.
func detachedTID() capi.ThreadID {
	return capi.ThreadID(1<<40 + detachedCounter.Add(1))
}

// Lifecycle

func (in *Interp) SetPythonHome(path string)  { in.pythonHome = path }
func (in *Interp) SetProgramName(path string) { in.programName = path }

// InitializeEx brings the heap up. The calling thread holds the global lock
// afterward, matching interpreter startup semantics.
func (in *Interp) InitializeEx(bool) {
	if in.initialized.Swap(true) {
		return
	}
	in.bootstrap()
	in.gilMu.Lock()
	in.currentTS.Store(1)
	in.nextTS.Store(1)
}

func (in *Interp) InterpreterState() capi.InterpState {
	if !in.initialized.Load() {
		return 0
	}
	return 1
}

func (in *Interp) ThreadStateNew(capi.InterpState) capi.ThreadState {
	return capi.ThreadState(in.nextTS.Add(1))
}

func (in *Interp) EvalRestoreThread(ts capi.ThreadState, tid capi.ThreadID) {
	in.gilMu.Lock()
	in.currentTS.Store(uint64(ts))
	in.currentTID.Store(uint64(tid))
}

func (in *Interp) EvalSaveThread() capi.ThreadState {
	ts := capi.ThreadState(in.currentTS.Load())
	in.currentTS.Store(0)
	in.currentTID.Store(0)
	in.gilMu.Unlock()
	return ts
}

// Reference counting

func (in *Interp) IncRef(obj capi.ObjRef) { in.incref(obj) }
func (in *Interp) DecRef(obj capi.ObjRef) { in.decref(obj) }

// Constructors

func (in *Interp) NoneNew() capi.ObjRef {
	in.incref(in.none)
	return in.none
}

func (in *Interp) BoolFromInt(v int) capi.ObjRef {
	ref := in.falseRef
	if v != 0 {
		ref = in.trueRef
	}
	in.incref(ref)
	return ref
}

func (in *Interp) newInt64(v int64) capi.ObjRef {
	return in.alloc(&object{kind: kindInt, i: big.NewInt(v)})
}

func (in *Interp) newStr(s string) capi.ObjRef {
	return in.alloc(&object{kind: kindStr, s: s})
}

func (in *Interp) LongFromInt64(v int64) capi.ObjRef { return in.newInt64(v) }

func (in *Interp) LongFromString(s string, base int) capi.ObjRef {
	if base == 0 {
		base = 10
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), base)
	if !ok {
		in.setPending(raise("ValueError", fmt.Sprintf("invalid literal for int(): %q", s)))
		return 0
	}
	return in.alloc(&object{kind: kindInt, i: v})
}

func (in *Interp) FloatFromFloat64(v float64) capi.ObjRef {
	return in.alloc(&object{kind: kindFloat, f: v})
}

func (in *Interp) BytesFromSlice(b []byte) capi.ObjRef {
	cp := make([]byte, len(b))
	copy(cp, b)
	return in.alloc(&object{kind: kindBytes, bytes: cp})
}

func (in *Interp) UnicodeFromString(s string) capi.ObjRef { return in.newStr(s) }

func (in *Interp) DictNew() capi.ObjRef { return in.alloc(&object{kind: kindDict}) }

func (in *Interp) TupleNew(size int) capi.ObjRef {
	return in.alloc(&object{kind: kindTuple, items: make([]capi.ObjRef, size)})
}

func (in *Interp) TuplePack(items ...capi.ObjRef) capi.ObjRef {
	cp := make([]capi.ObjRef, len(items))
	for i, item := range items {
		in.incref(item)
		cp[i] = item
	}
	return in.alloc(&object{kind: kindTuple, items: cp})
}

func (in *Interp) ListNew(size int) capi.ObjRef {
	return in.alloc(&object{kind: kindList, items: make([]capi.ObjRef, size)})
}

func (in *Interp) SetNew() capi.ObjRef { return in.alloc(&object{kind: kindSet}) }

// Container operations

func (in *Interp) DictSetItem(d, key, value capi.ObjRef) int {
	dict := in.get(d)
	if dict == nil || dict.kind != kindDict {
		in.setPending(raise("TypeError", "object is not a dict"))
		return -1
	}

	in.mu.Lock()
	for i, p := range dict.pairs {
		if in.equalLocked(p.key, key) {
			old := p.value
			obj := in.objects[value]
			if obj != nil && !obj.immortal {
				obj.refs++
			}
			dict.pairs[i].value = value
			in.mu.Unlock()
			in.decref(old)
			return 0
		}
	}
	for _, ref := range []capi.ObjRef{key, value} {
		if obj := in.objects[ref]; obj != nil && !obj.immortal {
			obj.refs++
		}
	}
	dict.pairs = append(dict.pairs, pair{key: key, value: value})
	in.mu.Unlock()
	return 0
}

func (in *Interp) DictSetItemString(d capi.ObjRef, key string, value capi.ObjRef) int {
	keyRef := in.newStr(key)
	res := in.DictSetItem(d, keyRef, value)
	in.decref(keyRef)
	return res
}

func (in *Interp) DictGetItem(d, key capi.ObjRef) capi.ObjRef {
	dict := in.get(d)
	if dict == nil || dict.kind != kindDict {
		return 0
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, p := range dict.pairs {
		if in.equalLocked(p.key, key) {
			return p.value
		}
	}
	return 0
}

func (in *Interp) DictGetItemString(d capi.ObjRef, key string) capi.ObjRef {
	dict := in.get(d)
	if dict == nil || dict.kind != kindDict {
		return 0
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, p := range dict.pairs {
		if k := in.objects[p.key]; k != nil && k.kind == kindStr && k.s == key {
			return p.value
		}
	}
	return 0
}

func (in *Interp) DictCopy(d capi.ObjRef) capi.ObjRef {
	dict := in.get(d)
	if dict == nil || dict.kind != kindDict {
		in.setPending(raise("TypeError", "object is not a dict"))
		return 0
	}

	in.mu.Lock()
	cp := make([]pair, len(dict.pairs))
	copy(cp, dict.pairs)
	for _, p := range cp {
		for _, ref := range []capi.ObjRef{p.key, p.value} {
			if obj := in.objects[ref]; obj != nil && !obj.immortal {
				obj.refs++
			}
		}
	}
	out := in.allocLocked(&object{kind: kindDict, pairs: cp})
	in.mu.Unlock()
	return out
}

func (in *Interp) DictSize(d capi.ObjRef) int {
	dict := in.get(d)
	if dict == nil || dict.kind != kindDict {
		return -1
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(dict.pairs)
}

func (in *Interp) DictNext(d capi.ObjRef, pos *int) (capi.ObjRef, capi.ObjRef, bool) {
	dict := in.get(d)
	if dict == nil || dict.kind != kindDict {
		return 0, 0, false
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if *pos >= len(dict.pairs) {
		return 0, 0, false
	}
	p := dict.pairs[*pos]
	*pos++
	return p.key, p.value, true
}

func (in *Interp) TupleSetItem(t capi.ObjRef, index int, value capi.ObjRef) int {
	tup := in.get(t)
	if tup == nil || tup.kind != kindTuple || index < 0 || index >= len(tup.items) {
		in.decref(value)
		in.setPending(raise("TypeError", "tuple assignment out of range"))
		return -1
	}

	in.mu.Lock()
	old := tup.items[index]
	tup.items[index] = value // steals the reference
	in.mu.Unlock()
	if old != 0 {
		in.decref(old)
	}
	return 0
}

func (in *Interp) TupleGetItem(t capi.ObjRef, index int) capi.ObjRef {
	tup := in.get(t)
	if tup == nil || tup.kind != kindTuple || index < 0 || index >= len(tup.items) {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return tup.items[index]
}

func (in *Interp) TupleSize(t capi.ObjRef) int {
	tup := in.get(t)
	if tup == nil || tup.kind != kindTuple {
		return -1
	}
	return len(tup.items)
}

func (in *Interp) ListSetItem(l capi.ObjRef, index int, value capi.ObjRef) int {
	list := in.get(l)
	if list == nil || list.kind != kindList || index < 0 || index >= len(list.items) {
		in.decref(value)
		in.setPending(raise("TypeError", "list assignment out of range"))
		return -1
	}

	in.mu.Lock()
	old := list.items[index]
	list.items[index] = value // steals the reference
	in.mu.Unlock()
	if old != 0 {
		in.decref(old)
	}
	return 0
}

func (in *Interp) ListGetItem(l capi.ObjRef, index int) capi.ObjRef {
	list := in.get(l)
	if list == nil || list.kind != kindList || index < 0 || index >= len(list.items) {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return list.items[index]
}

func (in *Interp) ListAppend(l, value capi.ObjRef) int {
	list := in.get(l)
	if list == nil || list.kind != kindList {
		return -1
	}
	in.incref(value)
	in.mu.Lock()
	list.items = append(list.items, value)
	in.mu.Unlock()
	return 0
}

func (in *Interp) ListSize(l capi.ObjRef) int {
	list := in.get(l)
	if list == nil || list.kind != kindList {
		return -1
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(list.items)
}

func (in *Interp) SetAdd(s, value capi.ObjRef) int {
	set := in.get(s)
	if set == nil || (set.kind != kindSet && set.kind != kindFrozenset) {
		return -1
	}

	in.mu.Lock()
	for _, item := range set.items {
		if in.equalLocked(item, value) {
			in.mu.Unlock()
			return 0
		}
	}
	if obj := in.objects[value]; obj != nil && !obj.immortal {
		obj.refs++
	}
	set.items = append(set.items, value)
	in.mu.Unlock()
	return 0
}

func (in *Interp) SetSize(s capi.ObjRef) int {
	set := in.get(s)
	if set == nil || (set.kind != kindSet && set.kind != kindFrozenset) {
		return -1
	}
	return len(set.items)
}

// Accessors

func (in *Interp) LongAsInt64AndOverflow(obj capi.ObjRef) (int64, int) {
	o := in.get(obj)
	if o == nil || (o.kind != kindInt && o.kind != kindBool) {
		return -1, 0
	}
	if o.kind == kindBool {
		if o.b {
			return 1, 0
		}
		return 0, 0
	}
	if o.i.IsInt64() {
		return o.i.Int64(), 0
	}
	if o.i.Sign() > 0 {
		return -1, 1
	}
	return -1, -1
}

func (in *Interp) FloatAsFloat64(obj capi.ObjRef) float64 {
	o := in.get(obj)
	if o == nil {
		return -1
	}
	switch o.kind {
	case kindFloat:
		return o.f
	case kindInt:
		f, _ := new(big.Float).SetInt(o.i).Float64()
		return f
	}
	return -1
}

func (in *Interp) UnicodeAsString(obj capi.ObjRef) (string, bool) {
	o := in.get(obj)
	if o == nil || o.kind != kindStr {
		return "", false
	}
	return o.s, true
}

func (in *Interp) BytesAsSlice(obj capi.ObjRef) ([]byte, bool) {
	o := in.get(obj)
	if o == nil || o.kind != kindBytes {
		return nil, false
	}
	cp := make([]byte, len(o.bytes))
	copy(cp, o.bytes)
	return cp, true
}

// Identity and type checks

func (in *Interp) IsNone(obj capi.ObjRef) int {
	if obj == in.none {
		return 1
	}
	return 0
}

func (in *Interp) IsTrue(obj capi.ObjRef) int {
	if obj == in.trueRef {
		return 1
	}
	return 0
}

func (in *Interp) IsFalse(obj capi.ObjRef) int {
	if obj == in.falseRef {
		return 1
	}
	return 0
}

func (in *Interp) IsInstance(obj, typ capi.ObjRef) int {
	o := in.get(obj)
	t := in.get(typ)
	if o == nil || t == nil || t.kind != kindType {
		return -1
	}

	switch t.s {
	case "int":
		// bool is a subclass of int
		if o.kind == kindInt || o.kind == kindBool {
			return 1
		}
	case "bool":
		if o.kind == kindBool {
			return 1
		}
	case "float":
		if o.kind == kindFloat {
			return 1
		}
	case "str":
		if o.kind == kindStr {
			return 1
		}
	case "bytes":
		if o.kind == kindBytes {
			return 1
		}
	case "tuple":
		if o.kind == kindTuple {
			return 1
		}
	case "list":
		if o.kind == kindList {
			return 1
		}
	case "dict":
		if o.kind == kindDict {
			return 1
		}
	case "set":
		if o.kind == kindSet {
			return 1
		}
	case "frozenset":
		if o.kind == kindFrozenset {
			return 1
		}
	default:
		if o.kind == kindInstance && o.class == typ {
			return 1
		}
	}
	return 0
}

// Object protocol

func (in *Interp) GetAttrString(obj capi.ObjRef, name string) capi.ObjRef {
	o := in.get(obj)
	if o == nil {
		in.setPending(raise("AttributeError", "no attribute "+name))
		return 0
	}

	switch o.kind {
	case kindType:
		if name == "__name__" {
			return in.newStr(o.s)
		}
	case kindModule, kindInstance:
		in.mu.Lock()
		ref, ok := o.attrs[name]
		if ok {
			if a := in.objects[ref]; a != nil && !a.immortal {
				a.refs++
			}
		}
		in.mu.Unlock()
		if ok {
			return ref
		}
	case kindList:
		if name == "pop" {
			in.incref(obj)
			return in.alloc(&object{kind: kindBoundMethod, s: "pop", recv: obj})
		}
	}

	in.setPending(raise("AttributeError",
		fmt.Sprintf("%s object has no attribute %q", in.typeNameOfObj(o), name)))
	return 0
}

func (in *Interp) SetAttrString(obj capi.ObjRef, name string, value capi.ObjRef) int {
	o := in.get(obj)
	if o == nil || (o.kind != kindInstance && o.kind != kindModule) {
		in.setPending(raise("AttributeError", "cannot set attribute "+name))
		return -1
	}

	in.incref(value)
	in.mu.Lock()
	if o.attrs == nil {
		o.attrs = make(map[string]capi.ObjRef)
	}
	old, had := o.attrs[name]
	o.attrs[name] = value
	in.mu.Unlock()
	if had {
		in.decref(old)
	}
	return 0
}

func (in *Interp) SetItem(obj, key, value capi.ObjRef) int {
	o := in.get(obj)
	if o == nil || o.kind != kindDict {
		in.setPending(raise("TypeError", "object does not support item assignment"))
		return -1
	}
	return in.DictSetItem(obj, key, value)
}

func (in *Interp) Call(callable, args, kwargs capi.ObjRef) capi.ObjRef {
	var items []capi.ObjRef
	if args != 0 {
		tup := in.get(args)
		if tup == nil || tup.kind != kindTuple {
			in.setPending(raise("TypeError", "argument list must be a tuple"))
			return 0
		}
		items = tup.items
	}
	_ = kwargs
	return in.callRef(nil, callable, items)
}

func (in *Interp) CallNoArgs(callable capi.ObjRef) capi.ObjRef {
	return in.callRef(nil, callable, nil)
}

// callRef dispatches a call. ctx carries the evaluation context when the
// call originates from evaluated code.
func (in *Interp) callRef(ctx *evalCtx, callable capi.ObjRef, args []capi.ObjRef) capi.ObjRef {
	c := in.get(callable)
	if c == nil {
		in.setPending(raise("TypeError", "object is not callable"))
		return 0
	}

	switch c.kind {
	case kindBuiltin:
		out, err := c.fn(in, ctx, args)
		if err != nil {
			in.setPending(err)
			return 0
		}
		return out
	case kindType:
		return in.construct(c, callable, args)
	case kindBoundMethod:
		return in.callBoundMethod(c, args)
	}

	in.setPending(raise("TypeError",
		fmt.Sprintf("%s object is not callable", in.typeNameOfObj(c))))
	return 0
}

// construct instantiates a fake type.
func (in *Interp) construct(t *object, typeRef capi.ObjRef, args []capi.ObjRef) capi.ObjRef {
	switch t.s {
	case "ModuleType":
		if len(args) != 1 {
			in.setPending(raise("TypeError", "ModuleType() takes one argument"))
			return 0
		}
		name, ok := in.UnicodeAsString(args[0])
		if !ok {
			in.setPending(raise("TypeError", "module name must be str"))
			return 0
		}

		dictRef := in.DictNew()
		in.DictSetItemString(dictRef, "__name__", args[0])
		noneRef := in.NoneNew()
		in.DictSetItemString(dictRef, "__doc__", noneRef)
		in.decref(noneRef)

		mod := in.alloc(&object{kind: kindModule, s: name, attrs: map[string]capi.ObjRef{
			"__dict__": dictRef,
		}})
		return mod
	case "Expression":
		if len(args) != 1 {
			in.setPending(raise("TypeError", "Expression() takes one argument"))
			return 0
		}
		body := in.get(args[0])
		if body == nil {
			in.setPending(raise("TypeError", "Expression body missing"))
			return 0
		}
		in.incref(args[0])
		in.incref(typeRef)
		return in.alloc(&object{
			kind:  kindInstance,
			class: typeRef,
			attrs: map[string]capi.ObjRef{"body": args[0]},
			node:  body.node,
		})
	case "PID":
		if len(args) != 1 {
			in.setPending(raise("TypeError", "PID() takes one argument"))
			return 0
		}
		in.incref(args[0])
		in.incref(typeRef)
		return in.alloc(&object{
			kind:  kindInstance,
			class: typeRef,
			attrs: map[string]capi.ObjRef{"data": args[0]},
		})
	default:
		// exception types and other one-argument constructors
		message := ""
		if len(args) > 0 {
			message = in.strValue(args[0])
		}
		in.incref(typeRef)
		return in.alloc(&object{kind: kindInstance, class: typeRef, s: message})
	}
}

func (in *Interp) callBoundMethod(m *object, args []capi.ObjRef) capi.ObjRef {
	recv := in.get(m.recv)
	if recv == nil {
		in.setPending(raise("TypeError", "bound method receiver is gone"))
		return 0
	}

	switch {
	case m.s == "pop" && recv.kind == kindList:
		if len(args) != 0 {
			in.setPending(raise("TypeError", "pop() takes no arguments"))
			return 0
		}
		in.mu.Lock()
		n := len(recv.items)
		if n == 0 {
			in.mu.Unlock()
			in.setPending(raise("IndexError", "pop from empty list"))
			return 0
		}
		// ownership of the popped reference transfers to the caller
		last := recv.items[n-1]
		recv.items = recv.items[:n-1]
		in.mu.Unlock()
		return last
	}

	in.setPending(raise("TypeError", "unsupported method "+m.s))
	return 0
}

func (in *Interp) GetIter(obj capi.ObjRef) capi.ObjRef {
	o := in.get(obj)
	if o == nil {
		in.setPending(raise("TypeError", "object is not iterable"))
		return 0
	}
	switch o.kind {
	case kindTuple, kindList, kindSet, kindFrozenset:
		in.mu.Lock()
		items := make([]capi.ObjRef, len(o.items))
		copy(items, o.items)
		for _, item := range items {
			if itemObj := in.objects[item]; itemObj != nil && !itemObj.immortal {
				itemObj.refs++
			}
		}
		out := in.allocLocked(&object{kind: kindIter, items: items})
		in.mu.Unlock()
		return out
	}
	in.setPending(raise("TypeError",
		fmt.Sprintf("%s object is not iterable", in.typeNameOfObj(o))))
	return 0
}

func (in *Interp) IterNext(it capi.ObjRef) capi.ObjRef {
	o := in.get(it)
	if o == nil || o.kind != kindIter {
		in.setPending(raise("TypeError", "object is not an iterator"))
		return 0
	}

	in.mu.Lock()
	if o.pos >= len(o.items) {
		in.mu.Unlock()
		return 0 // exhausted, no error pending
	}
	item := o.items[o.pos]
	o.pos++
	if itemObj := in.objects[item]; itemObj != nil && !itemObj.immortal {
		itemObj.refs++
	}
	in.mu.Unlock()
	return item
}

func (in *Interp) Repr(obj capi.ObjRef) capi.ObjRef {
	return in.newStr(in.reprValue(obj))
}

func (in *Interp) Str(obj capi.ObjRef) capi.ObjRef {
	return in.newStr(in.strValue(obj))
}

func (in *Interp) ImportModule(name string) capi.ObjRef {
	in.mu.Lock()
	ref, ok := in.modules[name]
	in.mu.Unlock()
	if !ok {
		in.setPending(raise("ModuleNotFoundError", "No module named "+strconv.Quote(name)))
		return 0
	}
	in.incref(ref)
	return ref
}

func (in *Interp) ModuleGetDict(mod capi.ObjRef) capi.ObjRef {
	o := in.get(mod)
	if o == nil || o.kind != kindModule {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return o.attrs["__dict__"]
}

func (in *Interp) EvalGetBuiltins() capi.ObjRef { return in.builtins }

func (in *Interp) EvalEvalCode(code, globals, locals capi.ObjRef) capi.ObjRef {
	_ = locals
	c := in.get(code)
	if c == nil || c.kind != kindCode {
		in.setPending(raise("TypeError", "code object expected"))
		return 0
	}

	ctx := &evalCtx{globals: globals}
	if c.code.expr != nil {
		out, err := in.evalExpr(ctx, c.code.expr)
		if err != nil {
			in.setPending(err)
			return 0
		}
		return out
	}

	if err := in.execStmts(ctx, c.code.stmts); err != nil {
		in.setPending(err)
		return 0
	}
	in.incref(in.none)
	return in.none
}

// Error indicator

func (in *Interp) ErrOccurred() capi.ObjRef {
	p := in.peekPending()
	if p == nil {
		return 0
	}
	return in.exceptionType(p.typeName)
}

func (in *Interp) ErrFetch() (capi.ObjRef, capi.ObjRef, capi.ObjRef) {
	p := in.takePending()
	if p == nil {
		return 0, 0, 0
	}

	typeRef := in.exceptionType(p.typeName)
	in.incref(typeRef)
	value := in.alloc(&object{kind: kindInstance, class: typeRef, s: p.message})
	return typeRef, value, 0
}

// exceptionType resolves a type object for name, registering unknown names
// on the fly so every raise has a type.
func (in *Interp) exceptionType(name string) capi.ObjRef {
	in.mu.Lock()
	defer in.mu.Unlock()
	if ref, ok := in.typeRefs[name]; ok {
		return ref
	}
	ref := in.allocLocked(&object{kind: kindType, s: name, immortal: true})
	in.typeRefs[name] = ref
	return ref
}

// Host hooks

func (in *Interp) InstallHostHooks(hooks capi.HostHooks) error {
	in.hooksMu.Lock()
	in.hooks = hooks
	in.hooksMu.Unlock()
	in.installPythonxModule()
	return nil
}

// Rendering

func (in *Interp) typeName(typ capi.ObjRef) string {
	t := in.get(typ)
	if t == nil || t.kind != kindType {
		return ""
	}
	return t.s
}

func (in *Interp) typeNameOfObj(o *object) string {
	switch o.kind {
	case kindNone:
		return "NoneType"
	case kindBool:
		return "bool"
	case kindInt:
		return "int"
	case kindFloat:
		return "float"
	case kindStr:
		return "str"
	case kindBytes:
		return "bytes"
	case kindTuple:
		return "tuple"
	case kindList:
		return "list"
	case kindDict:
		return "dict"
	case kindSet:
		return "set"
	case kindFrozenset:
		return "frozenset"
	case kindModule:
		return "module"
	case kindType:
		return "type"
	case kindInstance:
		return in.typeName(o.class)
	default:
		return "object"
	}
}

func (in *Interp) strValue(ref capi.ObjRef) string {
	o := in.get(ref)
	if o == nil {
		return "<dead object>"
	}
	if o.kind == kindStr {
		return o.s
	}
	return in.render(o, false)
}

func (in *Interp) reprValue(ref capi.ObjRef) string {
	o := in.get(ref)
	if o == nil {
		return "<dead object>"
	}
	return in.render(o, true)
}

func (in *Interp) render(o *object, quote bool) string {
	switch o.kind {
	case kindNone:
		return "None"
	case kindBool:
		if o.b {
			return "True"
		}
		return "False"
	case kindInt:
		return o.i.String()
	case kindFloat:
		s := strconv.FormatFloat(o.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case kindStr:
		if quote {
			return "'" + o.s + "'"
		}
		return o.s
	case kindBytes:
		return "b'" + string(o.bytes) + "'"
	case kindTuple:
		return "(" + in.renderItems(o.items) + ")"
	case kindList:
		return "[" + in.renderItems(o.items) + "]"
	case kindSet:
		if len(o.items) == 0 {
			return "set()"
		}
		return "{" + in.renderItems(o.items) + "}"
	case kindFrozenset:
		return "frozenset({" + in.renderItems(o.items) + "})"
	case kindDict:
		parts := make([]string, 0, len(o.pairs))
		for _, p := range o.pairs {
			parts = append(parts, in.reprValue(p.key)+": "+in.reprValue(p.value))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case kindModule:
		return "<module '" + o.s + "'>"
	case kindType:
		return "<class '" + o.s + "'>"
	case kindInstance:
		if o.s != "" {
			return o.s
		}
		return "<" + in.typeNameOfObj(o) + " object>"
	default:
		return "<" + in.typeNameOfObj(o) + " object>"
	}
}

func (in *Interp) renderItems(items []capi.ObjRef) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, in.reprValue(item))
	}
	return strings.Join(parts, ", ")
}

// equalLocked compares two refs by value for scalar kinds, by identity
// otherwise. Heap mutex held.
func (in *Interp) equalLocked(a, b capi.ObjRef) bool {
	if a == b {
		return true
	}
	oa := in.objects[a]
	ob := in.objects[b]
	if oa == nil || ob == nil || oa.kind != ob.kind {
		return false
	}
	switch oa.kind {
	case kindStr:
		return oa.s == ob.s
	case kindInt:
		return oa.i.Cmp(ob.i) == 0
	case kindFloat:
		return oa.f == ob.f
	case kindBytes:
		return string(oa.bytes) == string(ob.bytes)
	}
	return false
}
