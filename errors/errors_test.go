package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseEncode,
				Kind:   KindTypeMismatch,
				Path:   []string{"globals", "x"},
				GoType: "chan int",
				PyType: "object",
				Detail: "cannot convert",
			},
			contains: []string{"[encode]", "type_mismatch", "globals.x", "chan int", "object", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOverflow,
			},
			contains: []string{"[decode]", "overflow"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindInvalidData,
				Detail: "compile module",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[load]", "invalid_data", "compile module", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q missing %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := New(PhaseEval, KindNotInitialized).Detail("interpreter not initialized").Build()

	if !errors.Is(err, &Error{Phase: PhaseEval, Kind: KindNotInitialized}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseInit, Kind: KindNotInitialized}) {
		t.Error("expected mismatch on different phase")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseLoad, KindInvalidData, cause, "instantiate")

	if !errors.Is(err, cause) {
		t.Error("expected unwrap to reach the cause")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseCompile, KindInvalidInput).
		Path("source").
		Detail("empty source with %d bindings", 3).
		Build()

	if err.Phase != PhaseCompile || err.Kind != KindInvalidInput {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if err.Detail != "empty source with 3 bindings" {
		t.Errorf("unexpected detail: %q", err.Detail)
	}
}

func TestMissingSymbolsError(t *testing.T) {
	err := NewMissingSymbolsError("/opt/python/python312.wasm", []string{
		"PyEval_SaveThread",
		"PyThreadState_New",
	})

	msg := err.Error()
	for _, s := range []string{"python312.wasm", "2 symbol(s)", "PyEval_SaveThread", "PyThreadState_New"} {
		if !strings.Contains(msg, s) {
			t.Errorf("error message %q missing %q", msg, s)
		}
	}

	if !errors.Is(err, &MissingSymbolsError{}) {
		t.Error("expected Is to match by type")
	}
}
