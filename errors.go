package ioqueue

import "errors"

var (
	// ErrInvalidArgument is reported for unknown or closed streams,
	// out-of-range priorities and duplicate stream ids.
	ErrInvalidArgument = errors.New("ioqueue: invalid argument")

	// ErrShouldWait is returned by a non-blocking GetNextOp when every
	// issue slot is taken.
	ErrShouldWait = errors.New("ioqueue: should wait")

	// ErrUnavailable is returned by GetNextOp when no stream has ready ops.
	ErrUnavailable = errors.New("ioqueue: no ready ops")

	// ErrBadState marks lifecycle misuse: serving twice, using the queue
	// after Shutdown, or calling Shutdown twice.
	ErrBadState = errors.New("ioqueue: bad state")

	// ErrCanceled is returned by OpSource.Acquire once CancelAcquire has
	// been called.
	ErrCanceled = errors.New("ioqueue: acquire canceled")

	// ErrPending is returned by OpSource.Issue when the op will be
	// completed later through Queue.AsyncCompleteOp.
	ErrPending = errors.New("ioqueue: completion pending")

	// ErrFatal wraps unrecoverable failures reported to OpSource.Fatal.
	ErrFatal = errors.New("ioqueue: fatal")
)
