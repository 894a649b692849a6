package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pyerrors "github.com/livebook-dev/pythonx/errors"
)

func TestCallGateReentersOnOwner(t *testing.T) {
	var g callGate

	acquired := g.lock()
	if !acquired {
		t.Fatal("first lock must acquire")
	}

	// A host hook fired mid-call lands here: same goroutine, gate held.
	nested := g.lock()
	if nested {
		t.Fatal("relock on the owning goroutine must not acquire")
	}
	g.unlock(nested)

	// Still held: another goroutine must wait until the owner releases.
	blocked := make(chan bool, 1)
	go func() {
		held := g.lock()
		g.unlock(held)
		blocked <- held
	}()

	select {
	case <-blocked:
		t.Fatal("gate admitted a second goroutine while held")
	case <-time.After(20 * time.Millisecond):
	}

	g.unlock(acquired)
	select {
	case held := <-blocked:
		if !held {
			t.Error("second goroutine must acquire after release")
		}
	case <-time.After(time.Second):
		t.Fatal("gate never admitted the waiting goroutine")
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.wasm"), nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	var perr *pyerrors.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if perr.Phase != pyerrors.PhaseLoad {
		t.Errorf("expected load phase, got %s", perr.Phase)
	}
}

func TestOpenInvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wasm")
	if err := os.WriteFile(path, []byte("ELF not wasm"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(context.Background(), path, nil)
	if err == nil {
		t.Fatal("expected error for invalid artifact")
	}
	if !strings.Contains(err.Error(), "not a wasm interpreter artifact") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestOpenBytesTruncatedModule(t *testing.T) {
	// Valid magic, garbage body: compilation must fail cleanly.
	data := append([]byte{0x00, 0x61, 0x73, 0x6d}, 0xff, 0xff, 0xff)
	_, err := OpenBytes(context.Background(), "truncated.wasm", data, nil)
	if err == nil {
		t.Fatal("expected error for truncated module")
	}

	var perr *pyerrors.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if perr.Phase != pyerrors.PhaseLoad {
		t.Errorf("expected load phase, got %s", perr.Phase)
	}
}
