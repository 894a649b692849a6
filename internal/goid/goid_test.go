package goid

import (
	"sync"
	"testing"
)

func TestIDStable(t *testing.T) {
	a := ID()
	b := ID()
	if a == 0 {
		t.Fatal("expected a nonzero id")
	}
	if a != b {
		t.Errorf("id changed within one goroutine: %d then %d", a, b)
	}
}

func TestIDDistinct(t *testing.T) {
	main := ID()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[uint64]bool)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ID()
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 8 {
		t.Errorf("expected 8 distinct ids, got %d", len(ids))
	}
	if ids[main] {
		t.Error("spawned goroutine reported the spawner's id")
	}
	if ids[0] {
		t.Error("id parsing failed in a spawned goroutine")
	}
}
