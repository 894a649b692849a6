package pythonx

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// Stream tags an output event with its destination.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Device consumes output produced by evaluated code. Writes are delivered
// asynchronously, possibly after the evaluation that produced them has
// returned, and must not block for long.
type Device interface {
	WriteOutput(stream Stream, text string)
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(stream Stream, text string)

func (f DeviceFunc) WriteOutput(stream Stream, text string) { f(stream, text) }

// WriterDevice adapts an io.Writer to a Device. Write errors are ignored;
// dropping output must never fail an evaluation.
func WriterDevice(w io.Writer) Device {
	return DeviceFunc(func(_ Stream, text string) {
		_, _ = io.WriteString(w, text)
	})
}

// ContentHash returns the cache key for a piece of source text. Callers that
// evaluate the same source repeatedly should compute it once and reuse it.
func ContentHash(source []byte) string {
	sum := md5.Sum(source)
	return hex.EncodeToString(sum[:])
}
