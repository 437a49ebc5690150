package ioqueue

// stream is one client's ordered backlog of ops at a fixed priority.
//
// All fields are guarded by the owning Scheduler's mutex. A stream is
// linked into a priority bucket (by id) iff scheduled is true, and
// scheduled is true iff ready is non-empty.
type stream[T any] struct {
	id       StreamID
	priority Priority

	// closed streams admit no new ops; they are destroyed once both
	// ready and issued are empty.
	closed    bool
	scheduled bool

	ready  fifo[*Op[T]]
	issued map[*Op[T]]struct{}

	// drained is closed when the stream is destroyed.
	drained chan struct{}
}

func newStream[T any](id StreamID, prio Priority) *stream[T] {
	return &stream[T]{
		id:       id,
		priority: prio,
		issued:   make(map[*Op[T]]struct{}),
		drained:  make(chan struct{}),
	}
}

// idle reports whether the stream holds no ready or issued ops.
func (s *stream[T]) idle() bool {
	return s.ready.Len() == 0 && len(s.issued) == 0
}
