package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/livebook-dev/pythonx/capi"
)

// JanitorName is the well-known name the janitor registers under.
const JanitorName = "pythonx.janitor"

// janitor retires interpreter references dropped away from the global lock
// and forwards deliveries that arrive from threads the scheduler does not
// own. It batches pending references and retires each batch in a single
// scheduler job under the global lock.
//
// After close, dropped references are discarded with a diagnostic: the
// interpreter is going away with them, leaking nothing, but a drop after
// close usually means handles outlived the runtime.
type janitor struct {
	rt     *Runtime
	logger *zap.Logger

	mu      sync.Mutex
	pending []capi.ObjRef
	wake    chan struct{}
	closed  bool

	forward chan func()
	done    chan struct{}
}

func newJanitor(rt *Runtime, logger *zap.Logger) *janitor {
	j := &janitor{
		rt:      rt,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		forward: make(chan func(), 64),
		done:    make(chan struct{}),
	}
	go j.loop()
	return j
}

// decref queues a reference for retirement.
func (j *janitor) decref(ref capi.ObjRef) {
	if ref == 0 {
		return
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		j.logger.Debug("reference dropped after janitor shutdown",
			zap.Uint64("ref", uint64(ref)))
		return
	}
	j.pending = append(j.pending, ref)
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// dispatch runs fn on the janitor goroutine. Used for deliveries originating
// on detached interpreter threads, so the delivery happens off that thread.
func (j *janitor) dispatch(fn func()) {
	select {
	case j.forward <- fn:
	case <-j.done:
		j.logger.Debug("delivery dropped after janitor shutdown")
	}
}

func (j *janitor) loop() {
	for {
		select {
		case <-j.done:
			return
		case fn := <-j.forward:
			fn()
		case <-j.wake:
			j.flush()
		}
	}
}

// flush retires all pending references in one job.
func (j *janitor) flush() {
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ok := j.rt.sched.run(func(tid capi.ThreadID) {
		guard := j.rt.gil.lock(tid)
		defer guard.unlock()
		for _, ref := range batch {
			j.rt.api.DecRef(ref)
		}
	})
	if !ok {
		j.logger.Debug("reference batch dropped, scheduler closed",
			zap.Int("count", len(batch)))
	}
}

// close flushes remaining references and stops the worker. Called before the
// scheduler shuts down.
func (j *janitor) close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	j.flush()
}
