package ioqueue_test

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ioq "github.com/Andrej220/go-utils/ioqueue"
)

// fakeSource is an in-memory OpSource fed through a channel.
type fakeSource struct {
	in     chan *ioq.Op[int]
	batch  chan []*ioq.Op[int]
	cancel chan struct{}
	wake   chan struct{}
	once   sync.Once

	issue func(*ioq.Op[int]) error

	// beforeRelease, if set, runs at the start of every Release.
	beforeRelease func(*ioq.Op[int])

	// acquireErr, if set, is returned by every Acquire.
	acquireErr error

	mu       sync.Mutex
	released  map[*ioq.Op[int]]int
	fatalErrs []error
	relCount atomic.Int32
	fatals   atomic.Int32
}

func newFakeSource(issue func(*ioq.Op[int]) error) *fakeSource {
	if issue == nil {
		issue = func(*ioq.Op[int]) error { return nil }
	}
	return &fakeSource{
		in:       make(chan *ioq.Op[int], 1024),
		batch:    make(chan []*ioq.Op[int], 1),
		cancel:   make(chan struct{}),
		wake:     make(chan struct{}, 1),
		issue:    issue,
		released: make(map[*ioq.Op[int]]int),
	}
}

func (s *fakeSource) Acquire(ops []*ioq.Op[int], wait bool) (int, error) {
	if s.acquireErr != nil {
		return 0, s.acquireErr
	}
	select {
	case <-s.cancel:
		return 0, ioq.ErrCanceled
	default:
	}

	n := 0
	if wait {
		select {
		case op := <-s.in:
			ops[0] = op
			n = 1
		case b := <-s.batch:
			return copy(ops, b), nil
		case <-s.wake:
			return 0, nil
		case <-s.cancel:
			return 0, ioq.ErrCanceled
		}
	}
	for n < len(ops) {
		select {
		case op := <-s.in:
			ops[n] = op
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (s *fakeSource) Issue(op *ioq.Op[int]) error { return s.issue(op) }

func (s *fakeSource) Release(op *ioq.Op[int]) {
	if s.beforeRelease != nil {
		s.beforeRelease(op)
	}
	s.mu.Lock()
	s.released[op]++
	s.mu.Unlock()
	s.relCount.Add(1)
}

func (s *fakeSource) CancelAcquire() { s.once.Do(func() { close(s.cancel) }) }

func (s *fakeSource) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *fakeSource) Fatal(err error) {
	s.mu.Lock()
	s.fatalErrs = append(s.fatalErrs, err)
	s.mu.Unlock()
	s.fatals.Add(1)
}

func (s *fakeSource) submit(ops ...*ioq.Op[int]) {
	for _, op := range ops {
		s.in <- op
	}
}

// submitBatch hands ops to a single Acquire call.
func (s *fakeSource) submitBatch(ops ...*ioq.Op[int]) { s.batch <- ops }

// checkReleasedOnce fails unless every op was released exactly once.
func (s *fakeSource) checkReleasedOnce(t *testing.T, ops []*ioq.Op[int]) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range ops {
		if n := s.released[op]; n != 1 {
			t.Fatalf("op #%d released %d times; want 1", i, n)
		}
	}
}

func mkOps(id ioq.StreamID, n int) []*ioq.Op[int] {
	ops := make([]*ioq.Op[int], n)
	for i := range ops {
		ops[i] = &ioq.Op[int]{StreamID: id, Payload: i}
	}
	return ops
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
	}
	t.Fatal("condition not satisfied before timeout")
}
