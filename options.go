package ioqueue

import (
	"context"
)

const (
	// DefaultMaxIssues is the number of ops allowed in flight when
	// Options.MaxIssues is left at zero.
	DefaultMaxIssues = 1

	// DefaultBatchSize is how many ops a worker asks Acquire for at once.
	DefaultBatchSize = 16

	// MaxWorkers bounds the size of the worker pool started by Serve.
	MaxWorkers = 8

	// completedBatch is how many async completions a worker drains per
	// GetCompletedOps call.
	completedBatch = 8
)

// Options configure a Queue and its Scheduler.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type Options struct {
	// MaxIssues bounds how many ops may be issued and not yet completed.
	MaxIssues int

	// BatchSize is the capacity of the slice passed to OpSource.Acquire.
	BatchSize int

	// PinWorkers locks each worker to an OS thread and, on Linux, to a
	// single CPU (worker i runs on CPU i modulo the CPU count).
	PinWorkers bool

	// Ctx carries the logger used for lifecycle events.
	Ctx context.Context

	Metrics MetricsPolicy

	// OnInternalError, if set, receives engine invariant violations.
	OnInternalError func(error)
}

func (o *Options) FillDefaults() {
	if o.MaxIssues <= 0 {
		o.MaxIssues = DefaultMaxIssues
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Ctx == nil {
		o.Ctx = context.Background()
	}
	if o.Metrics == nil {
		o.Metrics = &NoopMetrics{}
	}
}
