package runtime

import (
	gort "runtime"
	"sync/atomic"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// Object is a handle to an interpreter object. It owns one interpreter
// reference, taken when the handle is created and retired when the handle is
// released.
//
// Release hands the reference to the janitor instead of touching the
// interpreter directly, so it is safe to call from any goroutine, including
// finalizers, and never blocks on the global lock. Calling Release more than
// once is a no-op; the garbage collector releases handles that were never
// released explicitly.
type Object struct {
	rt       *Runtime
	ref      capi.ObjRef
	released atomic.Bool
}

// newObject wraps ref, which must already carry the reference the handle
// will own.
func (r *Runtime) newObject(ref capi.ObjRef) *Object {
	o := &Object{rt: r, ref: ref}
	r.live.Add(1)
	gort.SetFinalizer(o, (*Object).Release)
	return o
}

// Release retires the handle's interpreter reference. Safe to call from any
// goroutine and more than once.
func (o *Object) Release() {
	if o == nil || o.released.Swap(true) {
		return
	}
	gort.SetFinalizer(o, nil)
	o.rt.live.Add(-1)
	o.rt.janitor.decref(o.ref)
}

// ref0 returns the underlying reference, or an error if the handle was
// released or belongs to a different runtime.
func (o *Object) ref0(r *Runtime) (capi.ObjRef, error) {
	if o == nil {
		return 0, errors.NilPointer(errors.PhaseRuntime, nil, "*runtime.Object")
	}
	if o.rt != r {
		return 0, errors.InvalidInput(errors.PhaseRuntime, "object belongs to a different runtime")
	}
	if o.released.Load() {
		return 0, errors.Released(errors.PhaseRuntime, "object handle")
	}
	return o.ref, nil
}

// Repr returns the object's repr() string.
func (o *Object) Repr() (string, error) {
	return o.stringify(func(api capi.API, ref capi.ObjRef) capi.ObjRef {
		return api.Repr(ref)
	})
}

// Str returns the object's str() string.
func (o *Object) Str() (string, error) {
	return o.stringify(func(api capi.API, ref capi.ObjRef) capi.ObjRef {
		return api.Str(ref)
	})
}

func (o *Object) stringify(fn func(capi.API, capi.ObjRef) capi.ObjRef) (string, error) {
	if o == nil {
		return "", errors.NilPointer(errors.PhaseRuntime, nil, "*runtime.Object")
	}

	var (
		s   string
		err error
	)
	ok := o.rt.sched.run(func(tid capi.ThreadID) {
		ref, refErr := o.ref0(o.rt)
		if refErr != nil {
			err = refErr
			return
		}

		guard := o.rt.gil.lock(tid)
		defer guard.unlock()

		strRef := fn(o.rt.api, ref)
		if strRef == 0 {
			err = o.rt.fetchPyErr(errors.PhaseRuntime)
			return
		}
		defer o.rt.api.DecRef(strRef)

		v, uok := o.rt.api.UnicodeAsString(strRef)
		if !uok {
			err = errors.InvalidData(errors.PhaseRuntime, nil, "stringification produced no text")
			return
		}
		s = v
	})
	if !ok {
		return "", errors.Wrap(errors.PhaseRuntime, errors.KindClosed, nil, "runtime is closed")
	}
	return s, err
}

// String implements fmt.Stringer using repr(), with a fallback marker when
// the handle is unusable.
func (o *Object) String() string {
	s, err := o.Repr()
	if err != nil {
		return "<pythonx.Object unavailable>"
	}
	return s
}
