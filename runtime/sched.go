package runtime

import (
	gort "runtime"
	"sync"
	"sync/atomic"

	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/internal/goid"
)

// workerTIDs count up from 1; ids at or above detachedTIDBase mark threads
// the scheduler does not own, such as interpreter-spawned threads reported
// through host hooks.
const detachedTIDBase = 1 << 32

var tidCounter atomic.Uint64

func nextWorkerTID() capi.ThreadID {
	return capi.ThreadID(tidCounter.Add(1))
}

var detachedTIDCounter atomic.Uint64

func nextDetachedTID() capi.ThreadID {
	return capi.ThreadID(detachedTIDBase + detachedTIDCounter.Add(1))
}

type schedJob struct {
	fn   func(tid capi.ThreadID)
	done chan struct{}
}

// scheduler is a fixed pool of OS-locked worker goroutines. Interpreter
// entry points run as jobs on the pool so the thread identity seen by the
// interpreter is stable and bounded: at most pool-size thread state bindings
// ever exist.
type scheduler struct {
	jobs    chan schedJob
	wg      sync.WaitGroup
	workers int
	closed  atomic.Bool

	// pool maps worker goroutine ids to their thread ids. Jobs submitted
	// from a worker run inline on it; queueing them would wait on the very
	// worker that is submitting.
	pool sync.Map
}

func newScheduler(workers int) *scheduler {
	if workers < 1 {
		workers = 1
	}

	s := &scheduler{
		jobs:    make(chan schedJob),
		workers: workers,
	}

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *scheduler) worker() {
	defer s.wg.Done()

	// The interpreter keys its thread states by thread identity, so the
	// goroutine must not migrate between OS threads.
	gort.LockOSThread()
	defer gort.UnlockOSThread()

	tid := nextWorkerTID()
	s.pool.Store(goid.ID(), tid)
	defer s.pool.Delete(goid.ID())

	for job := range s.jobs {
		job.fn(tid)
		close(job.done)
	}
}

// run executes fn on a pool worker and waits for it to finish. Calls made
// from a pool worker itself run inline with that worker's thread id. Returns
// false if the scheduler is closed.
func (s *scheduler) run(fn func(tid capi.ThreadID)) (ok bool) {
	if s.closed.Load() {
		return false
	}

	if tid, nested := s.pool.Load(goid.ID()); nested {
		fn(tid.(capi.ThreadID))
		return true
	}

	// Submitting can race close; a send on the closed jobs channel panics
	// and is reported as a refused job.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	job := schedJob{fn: fn, done: make(chan struct{})}
	s.jobs <- job
	<-job.done
	return true
}

// close stops the pool and waits for in-flight jobs.
func (s *scheduler) close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.jobs)
	s.wg.Wait()
}
