// Package bgfree implements the background lazy-free worker from eviction
// spec §5/§6: when lazyfree-lazy-eviction is on, the eviction loop hands
// off a value's destructor to this worker instead of freeing it inline, so
// a large eviction storm never stalls the main event loop. Grounded in the
// teacher's goroutine-plus-channel style for background work
// (cacheServer/server/server.go's exportStats/InterServerCommunications).
package bgfree

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Job frees one value's memory and reports the bytes it reclaimed. The
// eviction loop's own freed-bytes counter undercounts lazy deletes
// (spec §9's Open Question); jobs exist so the allocator's real used-bytes
// counter is the only thing callers need to trust.
type Job func() uint64

// Worker is a small fixed-size pool of goroutines draining a job queue.
// PendingJobs is read from the eviction loop's backstop (spec §4.6 step 9)
// without any additional synchronization beyond the atomic counter, per
// spec §5's "only shared state is the allocator's used-bytes counter"
// guidance generalized to the pending-job count.
type Worker struct {
	jobs    chan Job
	pending atomic.Int64
	logger  *zap.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New starts n goroutines consuming from an unbounded-ish job queue
// (buffered generously so Enqueue from the main loop never blocks on a
// slow destructor).
func New(n int, logger *zap.Logger) *Worker {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		jobs:   make(chan Job, 4096),
		logger: logger.Named("bgfree"),
		stop:   make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			freed := job()
			w.pending.Add(-1)
			w.logger.Debug("freed value", zap.Uint64("bytes", freed))
		}
	}
}

// Enqueue submits job for background execution. It returns false only if
// the worker has been stopped. The parameter is the unnamed func() uint64
// type rather than Job so *Worker satisfies eviction.BackgroundFreer's
// Enqueue signature exactly -- a named parameter type there would make
// the method sets distinct even though the underlying types match.
func (w *Worker) Enqueue(job func() uint64) bool {
	select {
	case <-w.stop:
		return false
	default:
	}
	w.pending.Add(1)
	select {
	case w.jobs <- job:
		return true
	case <-w.stop:
		w.pending.Add(-1)
		return false
	}
}

// PendingJobs satisfies eviction.BackgroundFreer: the number of
// destructors submitted but not yet run, consulted by the eviction loop's
// step 9 backstop.
func (w *Worker) PendingJobs() int {
	return int(w.pending.Load())
}

// Stop signals every worker goroutine to exit and waits for them; the job
// channel itself is left open. Queued-but-not-yet-run jobs are dropped;
// callers that need every job to run should wait for PendingJobs() == 0
// before calling Stop.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}
