package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/internal/fakepy"
)

func TestInitAndClose(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 2})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}
}

func TestInitNilBackend(t *testing.T) {
	if _, err := NewWithAPI(nil, Config{}); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestConcurrentEvals(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 3})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })

	const n = 20
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := rt.Eval(context.Background(), fmt.Sprintf("x = %d\nx * 2", i), EvalOptions{})
			if err != nil {
				errs[i] = err
				return
			}
			defer result.Release()
			results[i], errs[i] = rt.Decode(result.Value)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("eval %d: %v", i, errs[i])
			continue
		}
		if results[i] != int64(i*2) {
			t.Errorf("eval %d: expected %d, got %v", i, i*2, results[i])
		}
	}

	if got := rt.ThreadBindings(); got > 3 {
		t.Errorf("thread bindings must stay within the pool, got %d", got)
	}
}

func TestWorkersDefault(t *testing.T) {
	cfg := Config{}
	if n := cfg.workers(); n < 1 || n > 8 {
		t.Errorf("default worker count out of range: %d", n)
	}

	cfg.Workers = 16
	if n := cfg.workers(); n != 16 {
		t.Errorf("explicit worker count must win, got %d", n)
	}
}

func TestConfigEnvironment(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{
		Workers:  1,
		SysPaths: []string{"/opt/pylib", "/srv/app"},
		Env:      map[string]string{"PYTHONHASHSEED": "0"},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })

	ok := rt.sched.run(func(tid capi.ThreadID) {
		guard := rt.gil.lock(tid)
		defer guard.unlock()

		sys := rt.api.ImportModule("sys")
		defer rt.api.DecRef(sys)
		path := rt.api.GetAttrString(sys, "path")
		defer rt.api.DecRef(path)
		if n := rt.api.ListSize(path); n != 2 {
			t.Errorf("expected 2 sys.path entries, got %d", n)
		}

		osMod := rt.api.ImportModule("os")
		defer rt.api.DecRef(osMod)
		environ := rt.api.GetAttrString(osMod, "environ")
		defer rt.api.DecRef(environ)
		if got := rt.api.DictGetItemString(environ, "PYTHONHASHSEED"); got == 0 {
			t.Error("expected PYTHONHASHSEED in os.environ")
		}
	})
	if !ok {
		t.Fatal("scheduler refused the job")
	}
}

func TestCloseDuringCacheMissEvals(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 2})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	// Distinct sources force compilation, which holds the cache mutex while
	// acquiring the global lock. Close must not take them in the other
	// order; a racing shutdown would wedge both sides.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, evalErr := rt.Eval(context.Background(), fmt.Sprintf("v%d = %d", i, i), EvalOptions{})
			if evalErr == nil {
				result.Release()
			}
		}(i)
	}

	closeDone := make(chan struct{})
	go func() {
		if closeErr := rt.Close(context.Background()); closeErr != nil {
			t.Errorf("close: %v", closeErr)
		}
		close(closeDone)
	}()
	evalsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(evalsDone)
	}()

	select {
	case <-closeDone:
	case <-time.After(5 * time.Second):
		t.Fatal("close wedged against in-flight compilations")
	}
	select {
	case <-evalsDone:
	case <-time.After(5 * time.Second):
		t.Fatal("evaluations wedged against close")
	}
}

func TestSendToJanitorReleases(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 1})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })

	// the janitor's consumer absorbs sends addressed to it
	result, err := rt.Eval(context.Background(), "send_tagged_object(p, 'orphan', [1, 2])", EvalOptions{
		Globals: map[string]any{"p": rt.PIDFor(JanitorName)},
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	result.Release()

	second, err := rt.Eval(context.Background(), "1", EvalOptions{})
	if err != nil {
		t.Fatalf("eval after orphan send: %v", err)
	}
	second.Release()
}
