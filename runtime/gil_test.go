package runtime

import (
	"testing"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/internal/fakepy"
)

type zeroThreadStateAPI struct {
	capi.API
}

func (zeroThreadStateAPI) ThreadStateNew(capi.InterpState) capi.ThreadState { return 0 }

func TestLockPanicsWhenThreadStateAllocationFails(t *testing.T) {
	g := newGILState(zeroThreadStateAPI{fakepy.New()}, 1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on thread state allocation failure")
		}
	}()
	g.lock(77)
}

func TestLockNestedOnHoldingThread(t *testing.T) {
	in := fakepy.New()
	in.InitializeEx(false)
	g := newGILState(in, in.InterpreterState())
	g.adopt(1, in.EvalSaveThread())

	outer := g.lock(1)
	inner := g.lock(1)
	if !inner.nested {
		t.Fatal("relock on the holding thread must be nested")
	}
	inner.unlock()
	if g.holder.Load() != 1 {
		t.Error("nested unlock must not release the lock")
	}
	outer.unlock()
	if g.holder.Load() != 0 {
		t.Error("outer unlock must release the lock")
	}

	if n := g.bindingCount(); n != 1 {
		t.Errorf("expected 1 binding, got %d", n)
	}
}
