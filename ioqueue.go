package ioqueue

import (
	"fmt"
	"sync"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Queue runs a Scheduler behind a fixed pool of workers.
//
// All exported methods are safe for concurrent use.
type Queue[T any] struct {
	src   OpSource[T]
	sched *Scheduler[T]
	opts  Options

	mu       sync.Mutex
	serving  bool
	shutdown bool

	wg            sync.WaitGroup
	activeWorkers atomic.Int32
	exited        chan struct{} // closed when the last worker exits
}

// New creates a queue that pulls ops from src. Workers are not started
// until Serve.
func New[T any](src OpSource[T], opts Options) *Queue[T] {
	opts.FillDefaults()
	return &Queue[T]{
		src:    src,
		sched:  NewScheduler[T](opts),
		opts:   opts,
		exited: make(chan struct{}),
	}
}

// OpenStream registers stream id at the given priority.
func (q *Queue[T]) OpenStream(prio Priority, id StreamID) error {
	q.mu.Lock()
	down := q.shutdown
	q.mu.Unlock()
	if down {
		return misuse(fmt.Errorf("%w: open stream %d after shutdown", ErrBadState, id))
	}
	if err := q.sched.AddStream(prio, id); err != nil {
		return err
	}
	lg.FromContext(q.opts.Ctx).Info("stream opened",
		lg.Int("stream", int(id)),
		lg.Int("priority", int(prio)),
	)
	return nil
}

// CloseStream closes stream id and blocks until every op already admitted
// for it has completed. Once it returns no further completions will be
// reported for id, and the id may be reused.
func (q *Queue[T]) CloseStream(id StreamID) error {
	q.mu.Lock()
	down := q.shutdown
	q.mu.Unlock()
	if down {
		return misuse(fmt.Errorf("%w: close stream %d after shutdown", ErrBadState, id))
	}
	drained, err := q.sched.CloseStream(id)
	if err != nil {
		return err
	}
	<-drained
	return nil
}

// Serve starts numWorkers workers. It may be called once.
func (q *Queue[T]) Serve(numWorkers int) error {
	if numWorkers < 1 || numWorkers > MaxWorkers {
		return fmt.Errorf("%w: %d workers, want 1..%d", ErrInvalidArgument, numWorkers, MaxWorkers)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown || q.serving {
		return misuse(fmt.Errorf("%w: serve after serve or shutdown", ErrBadState))
	}
	q.serving = true

	q.activeWorkers.Store(int32(numWorkers))
	for i := 0; i < numWorkers; i++ {
		w := newWorker(q, i)
		q.wg.Add(1)
		go w.run()
	}
	lg.FromContext(q.opts.Ctx).Info("queue serving",
		lg.Int("workers", numWorkers),
		lg.Int("max_issues", q.sched.MaxIssues()),
	)
	return nil
}

// Shutdown stops the queue gracefully: it cancels the op source, closes
// every stream, waits for all admitted ops to complete and joins the
// workers. Calling it twice returns ErrBadState, or panics in debug builds.
//
// The order matters. Draining before cancelling the source could wait
// forever on a worker blocked in Acquire.
func (q *Queue[T]) Shutdown() error {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		lg.FromContext(q.opts.Ctx).Error("queue shutdown called twice")
		return misuse(fmt.Errorf("%w: already shut down", ErrBadState))
	}
	q.shutdown = true
	serving := q.serving
	q.mu.Unlock()

	logger := lg.FromContext(q.opts.Ctx)
	logger.Info("queue shutting down", lg.Any("stats", q.sched.Stats()))

	q.src.CancelAcquire()
	q.sched.CloseAll()
	q.sched.WaitUntilDrained()

	if serving {
		<-q.exited
	}
	q.wg.Wait()

	logger.Info("queue stopped")
	return nil
}

// AsyncCompleteOp reports the completion of an op whose Issue returned
// ErrPending. It may be called from any goroutine. A worker releases the
// op later.
func (q *Queue[T]) AsyncCompleteOp(op *Op[T], status error) {
	q.sched.CompleteOp(op, status, true)
	if w, ok := q.src.(Waker); ok {
		w.Wake()
	}
}

// Stats returns a snapshot of the scheduler counters.
func (q *Queue[T]) Stats() Stats { return q.sched.Stats() }

// ActiveWorkers returns the number of workers that have not exited yet.
func (q *Queue[T]) ActiveWorkers() int32 { return q.activeWorkers.Load() }

func (q *Queue[T]) workerExited() {
	if q.activeWorkers.Add(-1) == 0 {
		close(q.exited)
	}
	q.wg.Done()
}
