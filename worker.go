package ioqueue

import (
	"errors"
	"fmt"
	"runtime"

	lg "github.com/Andrej220/go-utils/zlog"
)

// worker is one goroutine, locked to its own OS thread, that turns ops
// supplied by the OpSource into issued and completed work.
type worker[T any] struct {
	id int
	q  *Queue[T]

	// canceled is set once Acquire has returned ErrCanceled. It is only
	// touched by the worker's own goroutine.
	canceled bool

	ops       []*Op[T]
	completed []*Op[T]
}

func newWorker[T any](q *Queue[T], id int) *worker[T] {
	return &worker[T]{
		id:        id,
		q:         q,
		ops:       make([]*Op[T], q.opts.BatchSize),
		completed: make([]*Op[T], completedBatch),
	}
}

func (w *worker[T]) run() {
	defer w.q.workerExited()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger := lg.FromContext(w.q.opts.Ctx).With(lg.Int("worker", w.id))

	if w.q.opts.PinWorkers {
		cpu := w.id % runtime.NumCPU()
		if err := PinToCPU(cpu); err != nil {
			logger.Warn("failed to pin worker", lg.Int("cpu", cpu), lg.Any("error", err))
		}
	}

	if err := w.loop(); err != nil {
		logger.Error("worker stopped", lg.Any("error", err))
		w.q.src.Fatal(err)
		return
	}
	logger.Info("worker exited")
}

func (w *worker[T]) loop() error {
	for {
		w.releaseCompleted()

		if !w.canceled {
			if err := w.acquire(); err != nil {
				return err
			}
		}

		if err := w.issueLoop(); err != nil {
			return err
		}

		if w.canceled && !w.q.sched.waitForWork() {
			w.releaseCompleted()
			return nil
		}
	}
}

// releaseCompleted hands async completions back to the source until none
// remain.
func (w *worker[T]) releaseCompleted() {
	for {
		n := w.q.sched.GetCompletedOps(w.completed)
		if n == 0 {
			return
		}
		for i := 0; i < n; i++ {
			w.release(w.completed[i])
			w.completed[i] = nil
		}
	}
}

// acquire pulls a batch from the source and admits it. Ops the scheduler
// refused are released immediately; they never reach the issued state.
// Admitted ops may already be issued and completed by another worker, so
// only the rejected prefix of the batch is read after InsertOps.
func (w *worker[T]) acquire() error {
	n, err := w.q.src.Acquire(w.ops, true)
	if n > len(w.ops) {
		return fmt.Errorf("%w: acquire returned %d ops for a batch of %d", ErrFatal, n, len(w.ops))
	}
	if n > 0 {
		_, rejected := w.q.sched.InsertOps(w.ops[:n])
		for _, op := range w.ops[:rejected] {
			w.release(op)
		}
		clear(w.ops[:n])
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCanceled):
		w.canceled = true
		return nil
	default:
		return fmt.Errorf("%w: acquire: %w", ErrFatal, err)
	}
}

// issueLoop issues ready ops until none are left. Synchronous completions
// are completed and released inline.
func (w *worker[T]) issueLoop() error {
	for {
		op, err := w.q.sched.GetNextOp(true)
		switch {
		case err == nil:
		case errors.Is(err, ErrShouldWait), errors.Is(err, ErrUnavailable):
			return nil
		default:
			return err
		}

		status := w.q.src.Issue(op)
		if errors.Is(status, ErrPending) {
			continue
		}
		w.q.sched.CompleteOp(op, status, false)
		w.release(op)
	}
}

func (w *worker[T]) release(op *Op[T]) {
	w.q.src.Release(op)
	w.q.opts.Metrics.IncReleased()
}
