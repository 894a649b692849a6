package pythonx

import (
	"strings"
	"testing"
)

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("x = 1"))
	b := ContentHash([]byte("x = 1"))
	c := ContentHash([]byte("x = 2"))

	if a != b {
		t.Error("identical source must hash identically")
	}
	if a == c {
		t.Error("different source must hash differently")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex characters, got %d", len(a))
	}
}

func TestStreamString(t *testing.T) {
	if Stdout.String() != "stdout" || Stderr.String() != "stderr" {
		t.Errorf("unexpected stream names: %s, %s", Stdout, Stderr)
	}
}

func TestWriterDevice(t *testing.T) {
	var b strings.Builder
	d := WriterDevice(&b)

	d.WriteOutput(Stdout, "one ")
	d.WriteOutput(Stderr, "two")
	if b.String() != "one two" {
		t.Errorf("expected %q, got %q", "one two", b.String())
	}
}
