// Package ioqueue provides a stream-aware admission and dispatch engine
// for asynchronous block I/O.
//
// Design goals
//
// The package is designed around the following principles:
//
//   - Bound the number of operations in flight to the device
//   - Service clients by priority, fairly within a priority
//   - Never drop an operation: every op is released exactly once
//   - Shut down gracefully, draining admitted work instead of aborting it
//
// Architecture overview
//
// The engine is composed of three layers:
//
//   1. Streams
//      Each client opens a stream with a fixed priority (0..31). A stream
//      keeps its admitted ops in FIFO order, plus the set of its ops that
//      are currently issued.
//
//   2. Scheduling (Scheduler)
//      Streams with ready ops are linked, by id, into one of 32 priority
//      buckets. GetNextOp picks the highest non-empty bucket, takes the
//      stream at its head, issues that stream's oldest op and moves the
//      stream to the back of the bucket. Priority is a total order,
//      streams at the same priority are served round robin, and a single
//      stream is strictly FIFO.
//
//   3. Execution (Queue / workers)
//      A fixed pool of workers, each locked to its own OS thread, loops
//      over: release async completions, acquire new ops from the
//      OpSource, admit them, then issue ready ops until none are left or
//      no issue slot is free.
//
// Issue slots
//
// The scheduler holds MaxIssues permits. GetNextOp takes one before
// dispatching and CompleteOp gives it back, so the number of issued ops
// never exceeds MaxIssues regardless of how many workers run.
//
// Completion paths
//
// OpSource.Issue either returns the op's status, in which case the worker
// completes and releases it inline, or returns ErrPending. A pending op is
// completed later from any goroutine with Queue.AsyncCompleteOp and
// released by the next worker that drains the completion queue.
//
// Shutdown
//
// Shutdown cancels the op source first, then closes every stream, waits
// for all admitted ops to complete and finally joins the workers.
// CloseStream blocks the same way for a single stream, which is how a
// client makes sure no completion can arrive for an id it is about to
// reuse.
//
// CPU pinning
//
// On Linux, workers may optionally be pinned to specific CPUs with
// Options.PinWorkers.
package ioqueue
