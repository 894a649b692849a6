package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pyerrors "github.com/livebook-dev/pythonx/errors"
)

func TestObjectRepr(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "(1, 2)", EvalOptions{})
	defer result.Release()

	repr, err := result.Value.Repr()
	if err != nil {
		t.Fatalf("repr: %v", err)
	}
	if repr != "(1, 2)" {
		t.Errorf("expected (1, 2), got %q", repr)
	}
	if s := result.Value.String(); s != repr {
		t.Errorf("String() must match Repr(), got %q", s)
	}
}

func TestObjectReleaseIdempotent(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "[1, 2, 3]", EvalOptions{})
	obj := result.Value
	result.Globals = nil

	before := rt.LiveObjects()
	obj.Release()
	obj.Release()
	if got := rt.LiveObjects(); got != before-1 {
		t.Errorf("double release must retire one handle, live %d -> %d", before, got)
	}
}

func TestObjectUseAfterRelease(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "'gone'", EvalOptions{})
	result.Release()

	_, err := result.Value.Repr()
	if err == nil {
		t.Fatal("expected error on released handle")
	}
	var perr *pyerrors.Error
	if !errors.As(err, &perr) || perr.Kind != pyerrors.KindReleased {
		t.Errorf("expected released error, got %v", err)
	}

	if _, err := rt.Decode(result.Value); err == nil {
		t.Error("decode of released handle must fail")
	}
}

func TestObjectReleaseRetiresHeapObjects(t *testing.T) {
	rt, in := newTestRuntime(t)

	// warm the compile cache so the second pass allocates only result objects
	warm := evalSource(t, rt, "[1.5, 'x', (2.5, 3.5)]", EvalOptions{})
	warm.Release()

	require.Eventually(t, func() bool {
		return rt.LiveObjects() == 0
	}, time.Second, 5*time.Millisecond, "handles still live")

	settle := func() int {
		var n int
		require.Eventually(t, func() bool {
			m := in.LiveMortal()
			if m != n {
				n = m
				return false
			}
			return true
		}, time.Second, 10*time.Millisecond, "heap did not settle")
		return n
	}
	baseline := settle()

	second := evalSource(t, rt, "[1.5, 'x', (2.5, 3.5)]", EvalOptions{})
	second.Release()

	require.Eventually(t, func() bool {
		return in.LiveMortal() == baseline
	}, time.Second, 5*time.Millisecond,
		"evaluation leaked heap objects: %d -> %d", baseline, in.LiveMortal())
}
