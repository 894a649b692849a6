package runtime

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/internal/fakepy"
	pyerrors "github.com/livebook-dev/pythonx/errors"
)

func newTestRuntime(t *testing.T) (*Runtime, *fakepy.Interp) {
	t.Helper()

	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 2})
	if err != nil {
		t.Fatalf("runtime init: %v", err)
	}
	t.Cleanup(func() {
		rt.Close(context.Background())
	})
	return rt, in
}

func evalSource(t *testing.T, rt *Runtime, source string, opts EvalOptions) *EvalResult {
	t.Helper()
	result, err := rt.Eval(context.Background(), source, opts)
	if err != nil {
		t.Fatalf("eval %q: %v", source, err)
	}
	return result
}

func decodedValue(t *testing.T, rt *Runtime, result *EvalResult) any {
	t.Helper()
	if result.Value == nil {
		t.Fatal("expected a value")
	}
	v, err := rt.Decode(result.Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestEvalTrailingExpression(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "x = 1\nx + 1", EvalOptions{})
	defer result.Release()

	if got := decodedValue(t, rt, result); got != int64(2) {
		t.Errorf("expected 2, got %v (%T)", got, got)
	}
	if _, ok := result.Globals["x"]; !ok {
		t.Error("expected binding for x")
	}
}

func TestEvalStatementOnly(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "x = 1", EvalOptions{})
	defer result.Release()

	if result.Value != nil {
		t.Error("statement-only source must not produce a value")
	}
	if _, ok := result.Globals["x"]; !ok {
		t.Error("expected binding for x")
	}
}

func TestEvalExpressionOnly(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "1 + 1", EvalOptions{})
	defer result.Release()

	if got := decodedValue(t, rt, result); got != int64(2) {
		t.Errorf("expected 2, got %v", got)
	}
	if len(result.Globals) != 0 {
		t.Errorf("expected no bindings, got %v", result.Globals)
	}
}

func TestEvalUndefinedName(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := rt.Eval(context.Background(), "y + 1", EvalOptions{})
	if err == nil {
		t.Fatal("expected error")
	}

	var pyErr *PyErr
	if !errors.As(err, &pyErr) {
		t.Fatalf("expected *PyErr, got %T: %v", err, err)
	}
	if pyErr.TypeName != "NameError" {
		t.Errorf("expected NameError, got %s", pyErr.TypeName)
	}
	if !strings.Contains(pyErr.Message, "name 'y' is not defined") {
		t.Errorf("unexpected message: %s", pyErr.Message)
	}
	if pyErr.Traceback == "" {
		t.Error("expected a formatted traceback")
	}
}

func TestEvalSyntaxError(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := rt.Eval(context.Background(), "x = = 1", EvalOptions{})
	if err == nil {
		t.Fatal("expected error")
	}

	var pyErr *PyErr
	if !errors.As(err, &pyErr) {
		t.Fatalf("expected *PyErr, got %T", err)
	}
	if pyErr.TypeName != "SyntaxError" {
		t.Errorf("expected SyntaxError, got %s", pyErr.TypeName)
	}
}

func TestEvalCarriedGlobals(t *testing.T) {
	rt, _ := newTestRuntime(t)

	first := evalSource(t, rt, "x = 20", EvalOptions{})
	defer first.Release()

	carried := make(map[string]any, len(first.Globals))
	for name, obj := range first.Globals {
		carried[name] = obj
	}

	second := evalSource(t, rt, "x * 2 + 2", EvalOptions{Globals: carried})
	defer second.Release()

	if got := decodedValue(t, rt, second); got != int64(42) {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestEvalEncodedGlobals(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "n + 1", EvalOptions{
		Globals: map[string]any{"n": 41},
	})
	defer result.Release()

	if got := decodedValue(t, rt, result); got != int64(42) {
		t.Errorf("expected 42, got %v", got)
	}

	// planted bindings come back in the result globals
	if _, ok := result.Globals["n"]; !ok {
		t.Error("expected planted binding n in result globals")
	}
}

func TestEvalCompileCache(t *testing.T) {
	rt, in := newTestRuntime(t)

	first := evalSource(t, rt, "1 + 2", EvalOptions{})
	first.Release()
	compiles := in.CompileCount()
	if compiles == 0 {
		t.Fatal("expected at least one compilation")
	}

	second := evalSource(t, rt, "1 + 2", EvalOptions{})
	second.Release()
	if in.CompileCount() != compiles {
		t.Errorf("expected cached compilation, count went %d -> %d", compiles, in.CompileCount())
	}

	third := evalSource(t, rt, "1 + 3", EvalOptions{})
	third.Release()
	if in.CompileCount() == compiles {
		t.Error("different source must compile anew")
	}
}

type bufferDevice struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (d *bufferDevice) WriteOutput(_ pythonx.Stream, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.b.WriteString(text)
}

func (d *bufferDevice) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.b.String()
}

func TestEvalOutput(t *testing.T) {
	rt, _ := newTestRuntime(t)

	out := &bufferDevice{}
	result := evalSource(t, rt, "print('hello')", EvalOptions{Stdout: out})
	defer result.Release()

	if got := out.String(); got != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", got)
	}
}

func TestEvalAfterClose(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 1})
	if err != nil {
		t.Fatalf("runtime init: %v", err)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = rt.Eval(context.Background(), "1", EvalOptions{})
	if err == nil {
		t.Fatal("expected error after close")
	}
	var perr *pyerrors.Error
	if !errors.As(err, &perr) || perr.Kind != pyerrors.KindClosed {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestEvalCanceledContext(t *testing.T) {
	rt, _ := newTestRuntime(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rt.Eval(ctx, "1", EvalOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
