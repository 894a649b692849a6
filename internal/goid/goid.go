// Package goid exposes the current goroutine's id. The runtime prints it in
// the stack trace header and nowhere else, so it is parsed from there. Used
// for reentrancy checks only, never to key shared state across goroutines.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// ID returns the calling goroutine's id. Ids start at 1, so 0 is safe as a
// "no goroutine" sentinel.
func ID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], prefix)
	i := bytes.IndexByte(s, ' ')
	if i <= 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(s[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
