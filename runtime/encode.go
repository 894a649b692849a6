package runtime

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// encode converts a Go value into a new interpreter reference. Must be
// called with the global lock held. The caller owns the returned reference.
func (r *Runtime) encode(v any, path []string) (capi.ObjRef, error) {
	switch t := v.(type) {
	case nil:
		return r.checked(r.api.NoneNew(), errors.PhaseEncode, path)
	case bool:
		i := 0
		if t {
			i = 1
		}
		return r.checked(r.api.BoolFromInt(i), errors.PhaseEncode, path)
	case int:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case int8:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case int16:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case int32:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case int64:
		return r.checked(r.api.LongFromInt64(t), errors.PhaseEncode, path)
	case uint:
		return r.encodeUint64(uint64(t), path)
	case uint8:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case uint16:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case uint32:
		return r.checked(r.api.LongFromInt64(int64(t)), errors.PhaseEncode, path)
	case uint64:
		return r.encodeUint64(t, path)
	case float32:
		return r.checked(r.api.FloatFromFloat64(float64(t)), errors.PhaseEncode, path)
	case float64:
		return r.checked(r.api.FloatFromFloat64(t), errors.PhaseEncode, path)
	case string:
		return r.checked(r.api.UnicodeFromString(t), errors.PhaseEncode, path)
	case []byte:
		return r.checked(r.api.BytesFromSlice(t), errors.PhaseEncode, path)
	case *big.Int:
		if t == nil {
			return 0, errors.NilPointer(errors.PhaseEncode, path, "*big.Int")
		}
		return r.checked(r.api.LongFromString(t.String(), 10), errors.PhaseEncode, path)
	case Tuple:
		return r.encodeTuple(t, path)
	case Set:
		return r.encodeSet(t, path)
	case PID:
		return r.encodePID(t, path)
	case *Object:
		ref, err := t.ref0(r)
		if err != nil {
			return 0, err
		}
		r.api.IncRef(ref)
		return ref, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return r.encodeList(rv, path)
	case reflect.Map:
		return r.encodeMap(rv, path)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return 0, errors.NilPointer(errors.PhaseEncode, path, rv.Type().String())
		}
		return r.encode(rv.Elem().Interface(), path)
	}

	return 0, errors.New(errors.PhaseEncode, errors.KindUnsupported).
		Path(path...).
		GoType(fmt.Sprintf("%T", v)).
		Detail("no interpreter representation").
		Build()
}

// encodeUint64 builds an int from an unsigned value, routing through decimal
// text when it exceeds the signed range.
func (r *Runtime) encodeUint64(v uint64, path []string) (capi.ObjRef, error) {
	if v <= math.MaxInt64 {
		return r.checked(r.api.LongFromInt64(int64(v)), errors.PhaseEncode, path)
	}
	return r.checked(r.api.LongFromString(strconv.FormatUint(v, 10), 10), errors.PhaseEncode, path)
}

func (r *Runtime) encodeTuple(t Tuple, path []string) (capi.ObjRef, error) {
	tuple := r.api.TupleNew(len(t))
	if tuple == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}
	for i, item := range t {
		ref, err := r.encode(item, append(path, strconv.Itoa(i)))
		if err != nil {
			r.api.DecRef(tuple)
			return 0, err
		}
		// TupleSetItem steals the reference
		if r.api.TupleSetItem(tuple, i, ref) != 0 {
			r.api.DecRef(tuple)
			return 0, r.fetchPyErr(errors.PhaseEncode)
		}
	}
	return tuple, nil
}

func (r *Runtime) encodeSet(s Set, path []string) (capi.ObjRef, error) {
	set := r.api.SetNew()
	if set == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}
	for i, item := range s {
		ref, err := r.encode(item, append(path, strconv.Itoa(i)))
		if err != nil {
			r.api.DecRef(set)
			return 0, err
		}
		ok := r.api.SetAdd(set, ref)
		r.api.DecRef(ref)
		if ok != 0 {
			r.api.DecRef(set)
			return 0, r.fetchPyErr(errors.PhaseEncode)
		}
	}
	return set, nil
}

func (r *Runtime) encodeList(rv reflect.Value, path []string) (capi.ObjRef, error) {
	n := rv.Len()
	list := r.api.ListNew(n)
	if list == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}
	for i := 0; i < n; i++ {
		ref, err := r.encode(rv.Index(i).Interface(), append(path, strconv.Itoa(i)))
		if err != nil {
			r.api.DecRef(list)
			return 0, err
		}
		// ListSetItem steals the reference
		if r.api.ListSetItem(list, i, ref) != 0 {
			r.api.DecRef(list)
			return 0, r.fetchPyErr(errors.PhaseEncode)
		}
	}
	return list, nil
}

func (r *Runtime) encodeMap(rv reflect.Value, path []string) (capi.ObjRef, error) {
	dict := r.api.DictNew()
	if dict == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}

	iter := rv.MapRange()
	for iter.Next() {
		keyPath := append(path, fmt.Sprint(iter.Key().Interface()))

		keyRef, err := r.encode(iter.Key().Interface(), keyPath)
		if err != nil {
			r.api.DecRef(dict)
			return 0, err
		}
		valRef, err := r.encode(iter.Value().Interface(), keyPath)
		if err != nil {
			r.api.DecRef(keyRef)
			r.api.DecRef(dict)
			return 0, err
		}

		ok := r.api.DictSetItem(dict, keyRef, valRef)
		r.api.DecRef(keyRef)
		r.api.DecRef(valRef)
		if ok != 0 {
			r.api.DecRef(dict)
			return 0, r.fetchPyErr(errors.PhaseEncode)
		}
	}
	return dict, nil
}

// encodePID builds a pythonx.PID instance around the consumer address.
func (r *Runtime) encodePID(p PID, path []string) (capi.ObjRef, error) {
	data := r.api.BytesFromSlice(p.Data)
	if data == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}
	defer r.api.DecRef(data)

	args := r.api.TuplePack(data)
	if args == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}
	defer r.api.DecRef(args)

	pid := r.api.Call(r.types.pidClass, args, 0)
	if pid == 0 {
		return 0, r.fetchPyErr(errors.PhaseEncode)
	}
	return pid, nil
}

// checked maps a zero reference from a constructor to the pending exception.
func (r *Runtime) checked(ref capi.ObjRef, phase errors.Phase, _ []string) (capi.ObjRef, error) {
	if ref == 0 {
		return 0, r.fetchPyErr(phase)
	}
	return ref, nil
}
