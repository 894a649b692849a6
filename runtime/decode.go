package runtime

import (
	"math/big"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// DecodeOnce converts the top level of obj into a Go value, leaving nested
// values as *Object handles. Scalars come back as Go scalars; containers
// come back as Tuple, []any (lists), Map or Set holding handles; anything
// without a mapping comes back as a retained *Object.
//
// Integers that fit int64 decode as int64, larger ones as *big.Int.
func (r *Runtime) DecodeOnce(o *Object) (any, error) {
	var (
		out any
		err error
	)
	ok := r.sched.run(func(tid capi.ThreadID) {
		ref, refErr := o.ref0(r)
		if refErr != nil {
			err = refErr
			return
		}

		guard := r.gil.lock(tid)
		defer guard.unlock()
		out, err = r.decodeOnce(ref)
	})
	if !ok {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindClosed, nil, "runtime is closed")
	}
	return out, err
}

// Decode converts obj into a native Go value recursively. Dicts decode into
// map[any]any; a key that decodes to an unhashable Go value is an error.
// Objects with no mapping stay as retained *Object handles.
func (r *Runtime) Decode(o *Object) (any, error) {
	var (
		out any
		err error
	)
	ok := r.sched.run(func(tid capi.ThreadID) {
		ref, refErr := o.ref0(r)
		if refErr != nil {
			err = refErr
			return
		}

		guard := r.gil.lock(tid)
		defer guard.unlock()
		out, err = r.decodeFull(ref, nil)
	})
	if !ok {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindClosed, nil, "runtime is closed")
	}
	return out, err
}

// decodeOnce is the shallow decoder. Lock held. Checks run in a fixed order;
// bool is a subclass of int, so the singleton checks come first.
func (r *Runtime) decodeOnce(ref capi.ObjRef) (any, error) {
	switch {
	case r.api.IsNone(ref) == 1:
		return nil, nil
	case r.api.IsTrue(ref) == 1:
		return true, nil
	case r.api.IsFalse(ref) == 1:
		return false, nil
	}

	if r.isInstance(ref, r.types.intType) {
		return r.decodeInt(ref)
	}
	if r.isInstance(ref, r.types.floatType) {
		return r.api.FloatAsFloat64(ref), nil
	}
	if r.isInstance(ref, r.types.tupleType) {
		n := r.api.TupleSize(ref)
		out := make(Tuple, 0, n)
		for i := 0; i < n; i++ {
			item := r.api.TupleGetItem(ref, i)
			if item == 0 {
				return nil, r.fetchPyErr(errors.PhaseDecode)
			}
			r.api.IncRef(item)
			out = append(out, r.newObject(item))
		}
		return out, nil
	}
	if r.isInstance(ref, r.types.listType) {
		n := r.api.ListSize(ref)
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			item := r.api.ListGetItem(ref, i)
			if item == 0 {
				return nil, r.fetchPyErr(errors.PhaseDecode)
			}
			r.api.IncRef(item)
			out = append(out, r.newObject(item))
		}
		return out, nil
	}
	if r.isInstance(ref, r.types.dictType) {
		out := make(Map, 0, r.api.DictSize(ref))
		pos := 0
		for {
			key, value, more := r.api.DictNext(ref, &pos)
			if !more {
				break
			}
			r.api.IncRef(key)
			r.api.IncRef(value)
			out = append(out, MapItem{Key: r.newObject(key), Value: r.newObject(value)})
		}
		return out, nil
	}
	if r.isInstance(ref, r.types.strType) {
		s, ok := r.api.UnicodeAsString(ref)
		if !ok {
			return nil, r.fetchPyErr(errors.PhaseDecode)
		}
		return s, nil
	}
	if r.isInstance(ref, r.types.bytesType) {
		b, ok := r.api.BytesAsSlice(ref)
		if !ok {
			return nil, r.fetchPyErr(errors.PhaseDecode)
		}
		return b, nil
	}
	if r.isInstance(ref, r.types.setType) || r.isInstance(ref, r.types.frozensetType) {
		return r.decodeSet(ref)
	}
	if r.types.pidClass != 0 && r.isInstance(ref, r.types.pidClass) {
		return r.decodePID(ref)
	}

	r.api.IncRef(ref)
	return r.newObject(ref), nil
}

func (r *Runtime) isInstance(ref, typ capi.ObjRef) bool {
	if typ == 0 {
		return false
	}
	res := r.api.IsInstance(ref, typ)
	if res == -1 {
		r.clearPending()
		return false
	}
	return res == 1
}

// decodeInt reads an int, promoting values outside the int64 range to
// *big.Int through their decimal text.
func (r *Runtime) decodeInt(ref capi.ObjRef) (any, error) {
	v, overflow := r.api.LongAsInt64AndOverflow(ref)
	if overflow == 0 {
		return v, nil
	}

	text := r.strOf(ref)
	if text == "" {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "big integer has no text form")
	}
	b, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "big integer text did not parse")
	}
	return b, nil
}

func (r *Runtime) decodeSet(ref capi.ObjRef) (any, error) {
	iter := r.api.GetIter(ref)
	if iter == 0 {
		return nil, r.fetchPyErr(errors.PhaseDecode)
	}
	defer r.api.DecRef(iter)

	out := make(Set, 0, r.api.SetSize(ref))
	for {
		item := r.api.IterNext(iter)
		if item == 0 {
			if r.api.ErrOccurred() != 0 {
				return nil, r.fetchPyErr(errors.PhaseDecode)
			}
			break
		}
		out = append(out, r.newObject(item))
	}
	return out, nil
}

func (r *Runtime) decodePID(ref capi.ObjRef) (any, error) {
	data := r.api.GetAttrString(ref, "data")
	if data == 0 {
		return nil, r.fetchPyErr(errors.PhaseDecode)
	}
	defer r.api.DecRef(data)

	b, ok := r.api.BytesAsSlice(data)
	if !ok {
		return nil, r.fetchPyErr(errors.PhaseDecode)
	}
	return PID{Data: b}, nil
}

// decodeFull is the recursive decoder. Lock held.
func (r *Runtime) decodeFull(ref capi.ObjRef, path []string) (any, error) {
	shallow, err := r.decodeOnce(ref)
	if err != nil {
		return nil, err
	}

	switch t := shallow.(type) {
	case Tuple:
		out := make(Tuple, len(t))
		for i, item := range t {
			out[i], err = r.decodeChild(item.(*Object), path)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i], err = r.decodeChild(item.(*Object), path)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case Set:
		out := make(Set, len(t))
		for i, item := range t {
			out[i], err = r.decodeChild(item.(*Object), path)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case Map:
		out := make(map[any]any, len(t))
		for _, item := range t {
			key, kerr := r.decodeChild(item.Key, path)
			if kerr != nil {
				return nil, kerr
			}
			if !hashable(key) {
				return nil, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
					Path(path...).
					Detail("dict key decodes to an unhashable Go value").
					Build()
			}
			value, verr := r.decodeChild(item.Value, path)
			if verr != nil {
				return nil, verr
			}
			out[key] = value
		}
		return out, nil
	default:
		return shallow, nil
	}
}

// decodeChild recurses into a handle produced by the shallow pass and
// releases it; the decoded value replaces it. Opaque children come back as
// their own fresh handle.
func (r *Runtime) decodeChild(o *Object, path []string) (any, error) {
	defer o.Release()
	return r.decodeFull(o.ref, path)
}

// hashable reports whether v can be a Go map key. Pointer kinds hash by
// identity.
func hashable(v any) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string, *big.Int, *Object:
		return true
	default:
		return false
	}
}
