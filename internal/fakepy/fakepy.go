// Package fakepy is an in-memory interpreter backend for tests. It
// implements the same ABI surface as the loaded artifact: a refcounted
// object heap, a global lock with per-thread states, the ast/compile/eval
// object protocol for a small statement language, and host hooks for output
// and tagged sends.
//
// The language subset covers what bridge tests exercise: assignments,
// int/float/string/bytes/bool/None literals, big integers, tuple, list,
// dict and set displays, names, arithmetic, and calls to a handful of
// builtins (print, len, spawn_write, send_tagged_object).
package fakepy

import (
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/livebook-dev/pythonx/capi"
)

type kind int

const (
	kindNone kind = iota
	kindBool
	kindInt
	kindFloat
	kindStr
	kindBytes
	kindTuple
	kindList
	kindDict
	kindSet
	kindFrozenset
	kindModule
	kindType
	kindBuiltin
	kindBoundMethod
	kindCode
	kindInstance
	kindIter
)

type pair struct {
	key   capi.ObjRef
	value capi.ObjRef
}

type builtinFn func(in *Interp, ctx *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised)

type object struct {
	refs     int64
	immortal bool
	kind     kind

	b     bool
	i     *big.Int
	f     float64
	s     string // str payload, type name, method name, module name
	bytes []byte
	items []capi.ObjRef // tuple, list, set elements
	pairs []pair        // dict entries in insertion order
	attrs map[string]capi.ObjRef
	class capi.ObjRef // instance's type
	recv  capi.ObjRef // bound method receiver
	fn    builtinFn
	code  *codeObject
	node  any // parser node carried by syntax tree objects
	pos   int // iterator position
}

type codeObject struct {
	stmts []*stmtNode
	expr  *exprNode // eval mode
}

// Interp is the fake interpreter. One instance backs one runtime.
type Interp struct {
	mu      sync.Mutex
	objects map[capi.ObjRef]*object
	nextRef uint64

	gilMu      sync.Mutex
	currentTID atomic.Uint64
	currentTS  atomic.Uint64
	nextTS     atomic.Uint64

	hooksMu sync.RWMutex
	hooks   capi.HostHooks

	pendingMu sync.Mutex
	pending   *raised

	initialized  atomic.Bool
	compileCount atomic.Int64
	detached     sync.WaitGroup

	// singletons and well-known objects, created at initialization
	none, trueRef, falseRef capi.ObjRef
	builtins                capi.ObjRef
	modules                 map[string]capi.ObjRef
	sysModules              capi.ObjRef
	typeRefs                map[string]capi.ObjRef

	pythonHome  string
	programName string
}

// New creates an uninitialized interpreter. InitializeEx brings it up.
func New() *Interp {
	return &Interp{
		objects:  make(map[capi.ObjRef]*object),
		modules:  make(map[string]capi.ObjRef),
		typeRefs: make(map[string]capi.ObjRef),
	}
}

// alloc stores obj with one reference and returns its handle.
func (in *Interp) alloc(obj *object) capi.ObjRef {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.allocLocked(obj)
}

func (in *Interp) allocLocked(obj *object) capi.ObjRef {
	in.nextRef++
	ref := capi.ObjRef(in.nextRef)
	obj.refs = 1
	in.objects[ref] = obj
	return ref
}

func (in *Interp) get(ref capi.ObjRef) *object {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.objects[ref]
}

// incref and decref mirror the interpreter's reference counting. Dropping
// the last reference releases the object's children.
func (in *Interp) incref(ref capi.ObjRef) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if obj := in.objects[ref]; obj != nil && !obj.immortal {
		obj.refs++
	}
}

func (in *Interp) decref(ref capi.ObjRef) {
	in.mu.Lock()
	var children []capi.ObjRef
	obj := in.objects[ref]
	if obj != nil && !obj.immortal {
		obj.refs--
		if obj.refs <= 0 {
			delete(in.objects, ref)
			children = append(children, obj.items...)
			for _, p := range obj.pairs {
				children = append(children, p.key, p.value)
			}
			for _, a := range obj.attrs {
				children = append(children, a)
			}
			if obj.class != 0 {
				children = append(children, obj.class)
			}
			if obj.recv != 0 {
				children = append(children, obj.recv)
			}
		}
	}
	in.mu.Unlock()

	for _, c := range children {
		in.decref(c)
	}
}

// Refcount reports ref's reference count, or -1 for a dead handle.
// Immortal objects report -2.
func (in *Interp) Refcount(ref capi.ObjRef) int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	obj := in.objects[ref]
	if obj == nil {
		return -1
	}
	if obj.immortal {
		return -2
	}
	return obj.refs
}

// LiveMortal counts heap objects that are not immortal.
func (in *Interp) LiveMortal() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, obj := range in.objects {
		if !obj.immortal {
			n++
		}
	}
	return n
}

// LiveObjects counts all heap objects.
func (in *Interp) LiveObjects() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.objects)
}

// CompileCount reports how many times code was compiled.
func (in *Interp) CompileCount() int64 {
	return in.compileCount.Load()
}

// WaitThreads blocks until all detached helper threads spawned by evaluated
// code have finished.
func (in *Interp) WaitThreads() {
	in.detached.Wait()
}

// raised is an in-flight exception.
type raised struct {
	typeName string
	message  string
}

func raise(typeName, message string) *raised {
	return &raised{typeName: typeName, message: message}
}

// setPending records raised as the pending exception.
func (in *Interp) setPending(r *raised) {
	in.pendingMu.Lock()
	in.pending = r
	in.pendingMu.Unlock()
}

func (in *Interp) takePending() *raised {
	in.pendingMu.Lock()
	defer in.pendingMu.Unlock()
	p := in.pending
	in.pending = nil
	return p
}

func (in *Interp) peekPending() *raised {
	in.pendingMu.Lock()
	defer in.pendingMu.Unlock()
	return in.pending
}
