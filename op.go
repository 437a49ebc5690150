package ioqueue

// StreamID identifies a client stream. Ids are assigned by the caller and
// must be unique among open streams.
type StreamID uint32

// Priority is a stream priority in the range [MinPriority, MaxPriority].
// Higher values are serviced first.
type Priority uint8

const (
	MinPriority Priority = 0
	MaxPriority Priority = 31

	// NumPriorities is the number of priority buckets kept by the scheduler.
	NumPriorities = int(MaxPriority) + 1
)

// Opcode is the semantic action of an op. The engine never interprets it.
type Opcode uint32

// Flags carries per-op hints. The scheduler does not act on them; they are
// passed through to the OpSource untouched.
type Flags uint32

// Op is a single unit of scheduled work.
//
// An Op is owned by the producer until it is returned by OpSource.Acquire.
// From then on it belongs to the engine until it is handed back through
// OpSource.Release, which happens exactly once per op.
//
// Result is only meaningful once the op reaches Release.
type Op[T any] struct {
	Opcode   Opcode
	Flags    Flags
	StreamID StreamID
	Result   error

	// Payload is opaque to the engine.
	Payload T
}
