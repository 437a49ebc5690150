package ioqueue

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Ready     int
	Issued    int
	Streams   int
	Completed int
}

// Scheduler owns the streams and decides which op is issued next.
//
// Ordering is:
//   - across streams, strictly by priority (highest first)
//   - among streams at the same priority, round robin
//   - within a stream, FIFO in admission order
//
// The number of issued ops never exceeds MaxIssues. A single mutex guards
// every stream transition; the issue permits live outside it in a
// buffered channel so GetNextOp can block on them without holding the lock.
type Scheduler[T any] struct {
	mu sync.Mutex

	// changed is signalled when ops become ready, async completions are
	// queued, or the last stream goes away.
	changed *sync.Cond

	streams map[StreamID]*stream[T]

	// buckets[p] lists the ids of streams at priority p with ready ops.
	// Bit p of nonEmpty is set iff buckets[p] is non-empty.
	buckets  [NumPriorities]fifo[StreamID]
	nonEmpty uint32

	// permits holds one token per issued op.
	permits chan struct{}

	readyCount  int
	issuedCount int
	closing     bool

	// completed holds async completions waiting for a worker to release them.
	completed fifo[*Op[T]]

	ctx             context.Context
	metrics         MetricsPolicy
	onInternalError func(error)
}

// NewScheduler creates an empty scheduler. Only MaxIssues, Ctx, Metrics and
// OnInternalError are consulted.
func NewScheduler[T any](opts Options) *Scheduler[T] {
	opts.FillDefaults()
	s := &Scheduler[T]{
		streams:         make(map[StreamID]*stream[T]),
		permits:         make(chan struct{}, opts.MaxIssues),
		ctx:             opts.Ctx,
		metrics:         opts.Metrics,
		onInternalError: opts.OnInternalError,
	}
	s.changed = sync.NewCond(&s.mu)
	return s
}

// MaxIssues returns the size of the issue permit pool.
func (s *Scheduler[T]) MaxIssues() int { return cap(s.permits) }

// AddStream registers a new open stream.
func (s *Scheduler[T]) AddStream(prio Priority, id StreamID) error {
	if prio > MaxPriority {
		return fmt.Errorf("%w: priority %d exceeds %d", ErrInvalidArgument, prio, MaxPriority)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrBadState
	}
	if _, ok := s.streams[id]; ok {
		return fmt.Errorf("%w: stream %d already open", ErrInvalidArgument, id)
	}
	s.streams[id] = newStream[T](id, prio)
	return nil
}

// CloseStream marks the stream closed so no further ops are admitted for it.
//
// The returned channel is closed once the stream has no ready or issued
// ops and has been destroyed; for an idle stream that happens before
// CloseStream returns. Closing a stream that is already draining returns
// the same channel.
func (s *Scheduler[T]) CloseStream(id StreamID) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stream %d", ErrInvalidArgument, id)
	}
	st.closed = true
	if st.idle() {
		s.removeLocked(st)
	}
	return st.drained, nil
}

// InsertOps admits ops onto their streams. It returns the total number of
// ready ops afterwards and the number of rejected ops.
//
// An op whose stream is unknown or closed gets Result = ErrInvalidArgument
// and is left with the caller, who must release it. Rejected ops are moved
// to the front of ops, so ops[:rejected] is exactly the set to release.
// Admitted ops have Result reset to nil and belong to the scheduler as
// soon as the lock is dropped; the caller must not touch them again.
// InsertOps never fails as a whole.
func (s *Scheduler[T]) InsertOps(ops []*Op[T]) (ready, rejected int) {
	var inserted int

	s.mu.Lock()
	for i, op := range ops {
		st, ok := s.streams[op.StreamID]
		if !ok || st.closed {
			op.Result = ErrInvalidArgument
			// everything before i has been handled, so the swap keeps
			// admission order intact
			ops[i], ops[rejected] = ops[rejected], ops[i]
			rejected++
			continue
		}
		op.Result = nil
		st.ready.Push(op)
		s.readyCount++
		inserted++
		schedDbgIncInsert(st.priority)

		if !st.scheduled {
			st.scheduled = true
			s.buckets[st.priority].Push(st.id)
			s.nonEmpty |= 1 << st.priority
		}
	}
	ready = s.readyCount
	if inserted > 0 {
		s.changed.Broadcast()
	}
	s.mu.Unlock()

	for range inserted {
		s.metrics.IncInserted()
	}
	for range rejected {
		s.metrics.IncRejected()
	}
	return ready, rejected
}

// GetNextOp takes an issue permit and returns the next op to issue.
//
// With wait set it blocks until a permit is free; otherwise it returns
// ErrShouldWait when none is. If nothing is ready the permit is given
// back and ErrUnavailable is returned. Both are flow-control signals,
// not failures. Any other error means the scheduler state is corrupt.
func (s *Scheduler[T]) GetNextOp(wait bool) (*Op[T], error) {
	if wait {
		s.permits <- struct{}{}
	} else {
		select {
		case s.permits <- struct{}{}:
		default:
			schedDbgIncShouldWait()
			return nil, ErrShouldWait
		}
	}

	s.mu.Lock()
	if s.readyCount == 0 {
		s.mu.Unlock()
		<-s.permits
		schedDbgIncUnavailable()
		return nil, ErrUnavailable
	}
	op, err := s.dispatchLocked()
	s.mu.Unlock()

	if err != nil {
		<-s.permits
		s.reportInternalError(err)
		return nil, err
	}
	s.metrics.IncIssued()
	return op, nil
}

// dispatchLocked pops the head op of the head stream of the highest
// non-empty bucket and moves it to the issued state.
func (s *Scheduler[T]) dispatchLocked() (*Op[T], error) {
	if s.nonEmpty == 0 {
		return nil, fmt.Errorf("%w: %d ready ops but no scheduled stream", ErrFatal, s.readyCount)
	}
	prio := Priority(bits.Len32(s.nonEmpty) - 1)
	b := &s.buckets[prio]

	id, _ := b.Pop()
	st, ok := s.streams[id]
	if !ok || !st.scheduled {
		if b.Len() == 0 {
			s.nonEmpty &^= 1 << prio
		}
		return nil, fmt.Errorf("%w: bucket %d references unschedulable stream %d", ErrFatal, prio, id)
	}

	op, ok := st.ready.Pop()
	if !ok {
		st.scheduled = false
		if b.Len() == 0 {
			s.nonEmpty &^= 1 << prio
		}
		return nil, fmt.Errorf("%w: scheduled stream %d has no ready ops", ErrFatal, id)
	}
	st.issued[op] = struct{}{}
	s.readyCount--
	s.issuedCount++
	schedDbgIncIssue(prio)

	if st.ready.Len() == 0 {
		st.scheduled = false
	} else {
		// back of the line behind its peers
		b.Push(id)
		schedDbgIncRequeue(prio)
	}
	if b.Len() == 0 {
		s.nonEmpty &^= 1 << prio
	}
	return op, nil
}

// CompleteOp records status as the op's result, removes it from its
// stream's issued set and frees its issue permit.
//
// With async set the op is queued for a worker to release; otherwise the
// caller releases it. Completing the last op of a closed stream destroys
// the stream.
//
// Completing an op that was never issued is a programmer error: it is
// reported as an internal error, the status is still recorded, and an
// async op is still queued so it reaches Release.
func (s *Scheduler[T]) CompleteOp(op *Op[T], status error, async bool) {
	s.mu.Lock()
	op.Result = status

	var err error
	st, ok := s.streams[op.StreamID]
	if !ok {
		err = fmt.Errorf("%w: completed op for unknown stream %d", ErrFatal, op.StreamID)
	} else if _, issued := st.issued[op]; !issued {
		err = fmt.Errorf("%w: completed op not issued on stream %d", ErrFatal, op.StreamID)
	} else {
		delete(st.issued, op)
		s.issuedCount--
		if st.closed && st.idle() {
			s.removeLocked(st)
		}
	}
	if async {
		s.completed.Push(op)
		s.changed.Broadcast()
	}
	s.mu.Unlock()

	if err != nil {
		s.reportInternalError(err)
		return
	}
	<-s.permits
	s.metrics.IncCompleted()
}

// GetCompletedOps moves up to len(buf) async completions into buf and
// returns how many were written.
func (s *Scheduler[T]) GetCompletedOps(buf []*Op[T]) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(buf) {
		op, ok := s.completed.Pop()
		if !ok {
			break
		}
		buf[n] = op
		n++
	}
	return n
}

// CloseAll closes every stream and refuses new ones. Ready and issued ops
// are left alone and drain normally.
func (s *Scheduler[T]) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for _, st := range s.streams {
		st.closed = true
		if st.idle() {
			s.removeLocked(st)
		}
	}
}

// WaitUntilDrained blocks until every stream has been destroyed.
// It only terminates after CloseAll, once all ops have completed.
func (s *Scheduler[T]) WaitUntilDrained() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.streams) > 0 {
		s.changed.Wait()
	}
}

// waitForWork parks a worker whose op source is cancelled until there is
// something left for it to do. It returns false once all streams are gone
// and no async completion is waiting to be released.
func (s *Scheduler[T]) waitForWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.readyCount == 0 && s.completed.Len() == 0 && len(s.streams) > 0 {
		s.changed.Wait()
	}
	return s.readyCount > 0 || s.completed.Len() > 0
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Ready:     s.readyCount,
		Issued:    s.issuedCount,
		Streams:   len(s.streams),
		Completed: s.completed.Len(),
	}
}

func (s *Scheduler[T]) removeLocked(st *stream[T]) {
	delete(s.streams, st.id)
	close(st.drained)
	schedDbgIncStreamGone()
	lg.FromContext(s.ctx).Info("stream drained", lg.Int("stream", int(st.id)))
	if len(s.streams) == 0 {
		s.changed.Broadcast()
	}
}
