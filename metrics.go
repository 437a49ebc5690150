package ioqueue

import (
	"sync/atomic"
)

// MetricsPolicy defines hooks used by the engine to report admission,
// dispatch and completion activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking.
type MetricsPolicy interface {
	// IncInserted counts an op admitted onto a stream.
	IncInserted()

	// IncRejected counts an op refused by InsertOps.
	IncRejected()

	// IncIssued counts an op moved to the issued state.
	IncIssued()

	// IncCompleted counts an op leaving the issued state.
	IncCompleted()

	// IncReleased counts an op handed back through OpSource.Release.
	IncReleased()
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	inserted atomic.Uint64
	rejected atomic.Uint64

	_ [48]byte // padding to avoid false sharing

	issued    atomic.Uint64
	completed atomic.Uint64
	released  atomic.Uint64
}

func (m *AtomicMetrics) Inserted() uint64  { return m.inserted.Load() }
func (m *AtomicMetrics) Rejected() uint64  { return m.rejected.Load() }
func (m *AtomicMetrics) Issued() uint64    { return m.issued.Load() }
func (m *AtomicMetrics) Completed() uint64 { return m.completed.Load() }
func (m *AtomicMetrics) Released() uint64  { return m.released.Load() }

func (m *AtomicMetrics) IncInserted()  { m.inserted.Add(1) }
func (m *AtomicMetrics) IncRejected()  { m.rejected.Add(1) }
func (m *AtomicMetrics) IncIssued()    { m.issued.Add(1) }
func (m *AtomicMetrics) IncCompleted() { m.completed.Add(1) }
func (m *AtomicMetrics) IncReleased()  { m.released.Add(1) }

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
type NoopMetrics struct{}

func (m *NoopMetrics) IncInserted()  {}
func (m *NoopMetrics) IncRejected()  {}
func (m *NoopMetrics) IncIssued()    {}
func (m *NoopMetrics) IncCompleted() {}
func (m *NoopMetrics) IncReleased()  {}
