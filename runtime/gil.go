package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// gilState manages the interpreter's global lock through per-thread state
// bindings. Each scheduler thread gets one persistent thread state, created
// on first use and kept for the life of the runtime. Restoring a thread
// state blocks until the global lock is free; saving it releases the lock.
//
// The bindings map has its own mutex, taken only around map access, never
// while waiting for the global lock.
type gilState struct {
	api    capi.API
	interp capi.InterpState

	// holder is the thread id currently inside the global lock, 0 when the
	// lock is free. A thread re-locking on its own id gets a nested guard
	// instead of deadlocking on the interpreter, which happens when a job
	// runs inline on a worker that already holds the lock.
	holder atomic.Uint64

	mu       sync.Mutex
	bindings map[capi.ThreadID]capi.ThreadState
}

func newGILState(api capi.API, interp capi.InterpState) *gilState {
	return &gilState{
		api:      api,
		interp:   interp,
		bindings: make(map[capi.ThreadID]capi.ThreadState),
	}
}

// lock acquires the global lock on behalf of tid and returns a guard.
// Blocks until the lock is free. A tid that already holds the lock gets a
// nested guard whose unlock is a no-op.
func (g *gilState) lock(tid capi.ThreadID) gilGuard {
	if g.holder.Load() == uint64(tid) {
		return gilGuard{g: g, nested: true}
	}

	g.mu.Lock()
	ts, ok := g.bindings[tid]
	if !ok {
		// Creating a thread state does not require the global lock.
		ts = g.api.ThreadStateNew(g.interp)
		if ts == 0 {
			g.mu.Unlock()
			// Continuing without a consistent lock state would corrupt
			// every later interpreter call.
			panic(errors.NotInitialized(errors.PhaseRuntime, "interpreter thread state"))
		}
		g.bindings[tid] = ts
	}
	g.mu.Unlock()

	g.api.EvalRestoreThread(ts, tid)
	g.holder.Store(uint64(tid))
	return gilGuard{g: g}
}

// adopt records a thread state the interpreter bound elsewhere, such as the
// state the initial thread holds right after interpreter startup.
func (g *gilState) adopt(tid capi.ThreadID, ts capi.ThreadState) {
	g.mu.Lock()
	g.bindings[tid] = ts
	g.mu.Unlock()
}

// bindingCount reports how many thread states exist.
func (g *gilState) bindingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bindings)
}

// gilGuard is an acquired global lock. unlock releases it exactly once.
// Nested guards belong to an enclosing acquisition and release nothing.
type gilGuard struct {
	g        *gilState
	nested   bool
	released bool
}

func (gg *gilGuard) unlock() {
	if gg.released || gg.nested {
		return
	}
	gg.released = true
	gg.g.holder.Store(0)
	gg.g.api.EvalSaveThread()
}
