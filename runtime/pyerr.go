package runtime

import (
	"fmt"
	"strings"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// PyErr is a raised interpreter exception. The exception triple is captured
// under the global lock at the point of failure; the rendered strings are
// cached so Error works without touching the interpreter again.
//
// Type, Value and Traceback stay alive until the PyErr's handles are
// released, so callers can pass the exception value back into later
// evaluations.
type PyErr struct {
	TypeName  string
	Message   string
	Traceback string

	Type            *Object
	Value           *Object
	TracebackObject *Object

	phase errors.Phase
}

// Error implements the error interface.
func (e *PyErr) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] python exception %s", e.phase, e.TypeName)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Release drops the exception's object handles. Safe to call more than once.
func (e *PyErr) Release() {
	e.Type.Release()
	e.Value.Release()
	e.TracebackObject.Release()
}

// fetchPyErr captures the pending exception into a PyErr. Must be called
// with the global lock held. When no exception is pending, a generic
// invalid-data error is returned so a nil interpreter result never maps to a
// nil error.
func (r *Runtime) fetchPyErr(phase errors.Phase) error {
	if r.api.ErrOccurred() == 0 {
		return errors.InvalidData(phase, nil, "interpreter reported failure without exception")
	}

	typ, value, tb := r.api.ErrFetch()

	e := &PyErr{phase: phase}
	e.TypeName = r.typeNameOf(typ)
	e.Message = r.strOf(value)
	e.Traceback = r.formatTraceback(typ, value, tb)

	if typ != 0 {
		e.Type = r.newObject(typ)
	}
	if value != 0 {
		e.Value = r.newObject(value)
	}
	if tb != 0 {
		e.TracebackObject = r.newObject(tb)
	}
	return e
}

// typeNameOf reads the __name__ of an exception type. Lock held.
func (r *Runtime) typeNameOf(typ capi.ObjRef) string {
	if typ == 0 {
		return "UnknownError"
	}
	nameRef := r.api.GetAttrString(typ, "__name__")
	if nameRef == 0 {
		r.clearPending()
		return "UnknownError"
	}
	defer r.api.DecRef(nameRef)

	name, ok := r.api.UnicodeAsString(nameRef)
	if !ok {
		return "UnknownError"
	}
	return name
}

// strOf renders str(obj), swallowing secondary failures. Lock held.
func (r *Runtime) strOf(obj capi.ObjRef) string {
	if obj == 0 {
		return ""
	}
	strRef := r.api.Str(obj)
	if strRef == 0 {
		r.clearPending()
		return ""
	}
	defer r.api.DecRef(strRef)

	s, ok := r.api.UnicodeAsString(strRef)
	if !ok {
		return ""
	}
	return s
}

// formatTraceback renders the exception the way the interpreter would print
// it, via traceback.format_exception. Failures fall back to an empty string;
// the exception itself is already captured. Lock held.
func (r *Runtime) formatTraceback(typ, value, tb capi.ObjRef) string {
	if typ == 0 || value == 0 {
		return ""
	}

	mod := r.api.ImportModule("traceback")
	if mod == 0 {
		r.clearPending()
		return ""
	}
	defer r.api.DecRef(mod)

	formatFn := r.api.GetAttrString(mod, "format_exception")
	if formatFn == 0 {
		r.clearPending()
		return ""
	}
	defer r.api.DecRef(formatFn)

	tbArg := tb
	if tbArg == 0 {
		tbArg = r.api.NoneNew()
		defer r.api.DecRef(tbArg)
	}

	args := r.api.TuplePack(typ, value, tbArg)
	if args == 0 {
		r.clearPending()
		return ""
	}
	defer r.api.DecRef(args)

	lines := r.api.Call(formatFn, args, 0)
	if lines == 0 {
		r.clearPending()
		return ""
	}
	defer r.api.DecRef(lines)

	var b strings.Builder
	n := r.api.ListSize(lines)
	for i := 0; i < n; i++ {
		line := r.api.ListGetItem(lines, i)
		if line == 0 {
			continue
		}
		if s, ok := r.api.UnicodeAsString(line); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// clearPending discards a secondary exception raised while reporting the
// primary one. Lock held.
func (r *Runtime) clearPending() {
	if r.api.ErrOccurred() != 0 {
		typ, value, tb := r.api.ErrFetch()
		if typ != 0 {
			r.api.DecRef(typ)
		}
		if value != 0 {
			r.api.DecRef(value)
		}
		if tb != 0 {
			r.api.DecRef(tb)
		}
	}
}
