package ioqueue

// OpSource is the seam between the engine and whatever produces and
// executes ops (a block server, a file-backed device, a test fake).
//
// All methods are called from worker goroutines except CancelAcquire,
// which is called from Shutdown, and Fatal, which may be called from any
// goroutine that detects an invariant violation.
type OpSource[T any] interface {
	// Acquire fills ops with newly arrived work and returns how many
	// entries were written. With wait set it blocks until at least one op
	// is available or the source is cancelled.
	//
	// After CancelAcquire it must return ErrCanceled and never yield live
	// ops again.
	Acquire(ops []*Op[T], wait bool) (int, error)

	// Issue executes op. A nil or non-nil error other than ErrPending is
	// the op's synchronous completion status. ErrPending means completion
	// will be reported later through Queue.AsyncCompleteOp.
	Issue(op *Op[T]) error

	// Release hands op back to its producer once op.Result is final.
	// It is called exactly once per acquired op.
	Release(op *Op[T])

	// CancelAcquire unblocks any in-progress Acquire with ErrCanceled.
	CancelAcquire()

	// Fatal reports an unrecoverable engine error. The caller is expected
	// to tear the whole I/O path down.
	Fatal(err error)
}

// Waker is implemented by sources whose blocking Acquire can be woken
// without being cancelled. A woken Acquire returns (0, nil).
//
// When the source implements it, AsyncCompleteOp calls Wake so an idle
// worker comes back around and releases the completion promptly instead
// of waiting for the next op to arrive.
type Waker interface {
	Wake()
}
