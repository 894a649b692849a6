package runtime

import (
	"math/big"
	"reflect"
	"testing"
)

func evalDecoded(t *testing.T, rt *Runtime, source string) any {
	t.Helper()
	result := evalSource(t, rt, source, EvalOptions{})
	defer result.Release()
	return decodedValue(t, rt, result)
}

func TestDecodeScalars(t *testing.T) {
	rt, _ := newTestRuntime(t)

	cases := []struct {
		source string
		want   any
	}{
		{"None", nil},
		{"True", true},
		{"False", false},
		{"7", int64(7)},
		{"-7", int64(-7)},
		{"2.5", 2.5},
		{"'hi'", "hi"},
	}
	for _, tc := range cases {
		if got := evalDecoded(t, rt, tc.source); got != tc.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", tc.source, tc.want, tc.want, got, got)
		}
	}
}

func TestDecodeBytes(t *testing.T) {
	rt, _ := newTestRuntime(t)

	got := evalDecoded(t, rt, "b'abc'")
	b, ok := got.([]byte)
	if !ok || string(b) != "abc" {
		t.Errorf("expected []byte abc, got %v (%T)", got, got)
	}
}

func TestDecodeIntBoundary(t *testing.T) {
	rt, _ := newTestRuntime(t)

	if got := evalDecoded(t, rt, "9223372036854775807"); got != int64(9223372036854775807) {
		t.Errorf("max int64 must decode as int64, got %v (%T)", got, got)
	}

	got := evalDecoded(t, rt, "9223372036854775808")
	b, ok := got.(*big.Int)
	if !ok {
		t.Fatalf("expected *big.Int, got %v (%T)", got, got)
	}
	want := new(big.Int).Add(big.NewInt(9223372036854775807), big.NewInt(1))
	if b.Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestDecodeContainers(t *testing.T) {
	rt, _ := newTestRuntime(t)

	got := evalDecoded(t, rt, "(1, 'a', [2, 3])")
	tup, ok := got.(Tuple)
	if !ok {
		t.Fatalf("expected Tuple, got %T", got)
	}
	want := Tuple{int64(1), "a", []any{int64(2), int64(3)}}
	if !reflect.DeepEqual(got, any(want)) {
		t.Errorf("expected %v, got %v", want, tup)
	}
}

func TestDecodeDict(t *testing.T) {
	rt, _ := newTestRuntime(t)

	got := evalDecoded(t, rt, "{'a': 1, 'b': (2, 3)}")
	m, ok := got.(map[any]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	want := map[any]any{"a": int64(1), "b": Tuple{int64(2), int64(3)}}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("expected %v, got %v", want, m)
	}
}

func TestDecodeSet(t *testing.T) {
	rt, _ := newTestRuntime(t)

	got := evalDecoded(t, rt, "{1, 2}")
	set, ok := got.(Set)
	if !ok {
		t.Fatalf("expected Set, got %T", got)
	}
	seen := map[int64]bool{}
	for _, item := range set {
		v, isInt := item.(int64)
		if !isInt {
			t.Fatalf("expected int64 element, got %T", item)
		}
		seen[v] = true
	}
	if len(seen) != 2 || !seen[1] || !seen[2] {
		t.Errorf("expected elements {1 2}, got %v", set)
	}
}

func TestDecodeOnceShallow(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "(1, [2])", EvalOptions{})
	defer result.Release()

	got, err := rt.DecodeOnce(result.Value)
	if err != nil {
		t.Fatalf("decode once: %v", err)
	}
	tup, ok := got.(Tuple)
	if !ok || len(tup) != 2 {
		t.Fatalf("expected two-element Tuple, got %v (%T)", got, got)
	}
	for i, item := range tup {
		o, isObj := item.(*Object)
		if !isObj {
			t.Fatalf("element %d: expected *Object handle, got %T", i, item)
		}
		o.Release()
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	rt, _ := newTestRuntime(t)

	inputs := map[string]any{
		"n":   int64(7),
		"f":   2.5,
		"s":   "text",
		"b":   true,
		"big": new(big.Int).Lsh(big.NewInt(1), 80),
		"t":   Tuple{int64(1), int64(2)},
		"l":   []any{"x", "y"},
		"m":   map[string]any{"k": int64(9)},
	}

	result := evalSource(t, rt, "(n, f, s, b, big, t, l, m)", EvalOptions{Globals: inputs})
	defer result.Release()

	got := decodedValue(t, rt, result)
	tup, ok := got.(Tuple)
	if !ok || len(tup) != 8 {
		t.Fatalf("expected eight-element Tuple, got %v", got)
	}
	if tup[0] != int64(7) || tup[1] != 2.5 || tup[2] != "text" || tup[3] != true {
		t.Errorf("scalar round trip failed: %v", tup[:4])
	}
	if b, isBig := tup[4].(*big.Int); !isBig || b.Cmp(inputs["big"].(*big.Int)) != 0 {
		t.Errorf("big int round trip failed: %v", tup[4])
	}
	if !reflect.DeepEqual(tup[5], Tuple{int64(1), int64(2)}) {
		t.Errorf("tuple round trip failed: %v", tup[5])
	}
	if !reflect.DeepEqual(tup[6], []any{"x", "y"}) {
		t.Errorf("list round trip failed: %v", tup[6])
	}
	if !reflect.DeepEqual(tup[7], map[any]any{"k": int64(9)}) {
		t.Errorf("dict round trip failed: %v", tup[7])
	}
}
