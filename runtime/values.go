package runtime

// Tagged value kinds used on both sides of the marshaller. Plain Go slices
// encode as lists and plain maps as dicts; these types cover the Python
// shapes that have no unambiguous Go counterpart.

// Tuple encodes as a Python tuple. Decoding a tuple produces a Tuple whose
// elements are *Object handles.
type Tuple []any

// Set encodes as a Python set. Decoding a set or frozenset produces a Set
// whose elements are *Object handles.
type Set []any

// MapItem is one dict entry in iteration order.
type MapItem struct {
	Key   *Object
	Value *Object
}

// Map is the shallow decoding of a dict: its entries in iteration order,
// with keys and values as handles. Python keys are not restricted to
// hashable Go map keys, so dicts do not decode into Go maps directly.
type Map []MapItem

// PID addresses a consumer registered on the runtime. Evaluated code
// receives PIDs as pythonx.PID instances and can pass them to
// pythonx.send_tagged_object.
type PID struct {
	Data []byte
}
