package ioqueue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, maxIssues int) *Scheduler[int] {
	t.Helper()
	return NewScheduler[int](Options{MaxIssues: maxIssues})
}

func mkOps(id StreamID, payloads ...int) []*Op[int] {
	ops := make([]*Op[int], len(payloads))
	for i, p := range payloads {
		ops[i] = &Op[int]{StreamID: id, Payload: p}
	}
	return ops
}

// issueAndComplete dequeues n ops, completing each before taking the next
// so the single issue slot is always free.
func issueAndComplete(t *testing.T, s *Scheduler[int], n int) []*Op[int] {
	t.Helper()
	var got []*Op[int]
	for i := 0; i < n; i++ {
		op, err := s.GetNextOp(false)
		if err != nil {
			t.Fatalf("GetNextOp #%d: %v", i, err)
		}
		s.CompleteOp(op, nil, false)
		got = append(got, op)
	}
	return got
}

func TestSchedulerExampleScenario(t *testing.T) {
	s := newTestScheduler(t, 1)

	if err := s.AddStream(5, 1); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	op := &Op[int]{StreamID: 1}
	if ready, rejected := s.InsertOps([]*Op[int]{op}); ready != 1 || rejected != 0 {
		t.Fatalf("ready, rejected = %d, %d; want 1, 0", ready, rejected)
	}

	got, err := s.GetNextOp(true)
	if err != nil {
		t.Fatalf("GetNextOp: %v", err)
	}
	if got != op {
		t.Fatal("GetNextOp returned a different op")
	}
	if st := s.Stats(); st.Issued != 1 || st.Ready != 0 {
		t.Fatalf("stats = %+v; want issued=1 ready=0", st)
	}

	s.CompleteOp(op, nil, false)
	if st := s.Stats(); st.Issued != 0 {
		t.Fatalf("issued = %d; want 0", st.Issued)
	}

	drained, err := s.CloseStream(1)
	if err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
	select {
	case <-drained:
	default:
		t.Fatal("idle stream was not drained immediately")
	}
	if st := s.Stats(); st.Streams != 0 {
		t.Fatalf("streams = %d; want 0", st.Streams)
	}
}

func TestSchedulerPriorityOrdering(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(2, 1)
	_ = s.AddStream(30, 2)
	_ = s.AddStream(MaxPriority, 3)

	s.InsertOps(mkOps(1, 10, 11))
	s.InsertOps(mkOps(2, 20, 21))
	s.InsertOps(mkOps(3, 30))

	got := issueAndComplete(t, s, 5)
	want := []StreamID{3, 2, 2, 1, 1}
	for i, op := range got {
		if op.StreamID != want[i] {
			t.Fatalf("op #%d from stream %d; want %d", i, op.StreamID, want[i])
		}
	}
}

func TestSchedulerFifoWithinStream(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(7, 1)
	s.InsertOps(mkOps(1, 1, 2, 3))

	for i, op := range issueAndComplete(t, s, 3) {
		if op.Payload != i+1 {
			t.Fatalf("op #%d payload = %d; want %d", i, op.Payload, i+1)
		}
	}
}

func TestSchedulerRoundRobin(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(5, 'A')
	_ = s.AddStream(5, 'B')
	s.InsertOps(mkOps('A', 1, 2))
	s.InsertOps(mkOps('B', 1, 2))

	var order []StreamID
	for _, op := range issueAndComplete(t, s, 4) {
		order = append(order, op.StreamID)
	}
	want := []StreamID{'A', 'B', 'A', 'B'}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %c; want %c", order, want)
		}
	}
}

func TestSchedulerRoundRobinLateJoiner(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(5, 1)
	_ = s.AddStream(5, 2)
	s.InsertOps(mkOps(1, 1, 2, 3))

	first := issueAndComplete(t, s, 1)[0]
	if first.StreamID != 1 {
		t.Fatalf("first op from stream %d; want 1", first.StreamID)
	}
	// stream 2 joins behind stream 1, which was requeued at the tail
	s.InsertOps(mkOps(2, 1))

	var order []StreamID
	for _, op := range issueAndComplete(t, s, 3) {
		order = append(order, op.StreamID)
	}
	want := []StreamID{1, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v; want %v", order, want)
		}
	}
}

func TestSchedulerShouldWaitWhenSlotsFull(t *testing.T) {
	s := newTestScheduler(t, 2)
	_ = s.AddStream(1, 1)
	s.InsertOps(mkOps(1, 1, 2, 3))

	a, err := s.GetNextOp(false)
	if err != nil {
		t.Fatalf("first GetNextOp: %v", err)
	}
	if _, err := s.GetNextOp(false); err != nil {
		t.Fatalf("second GetNextOp: %v", err)
	}
	if _, err := s.GetNextOp(false); !errors.Is(err, ErrShouldWait) {
		t.Fatalf("third GetNextOp err = %v; want ErrShouldWait", err)
	}

	s.CompleteOp(a, nil, false)
	if _, err := s.GetNextOp(false); err != nil {
		t.Fatalf("GetNextOp after completion: %v", err)
	}
}

func TestSchedulerUnavailableReturnsPermit(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(1, 1)

	for i := 0; i < 3; i++ {
		if _, err := s.GetNextOp(false); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("GetNextOp on empty scheduler err = %v; want ErrUnavailable", err)
		}
	}

	s.InsertOps(mkOps(1, 1))
	if _, err := s.GetNextOp(false); err != nil {
		t.Fatalf("GetNextOp: %v; permit leaked on the unavailable path", err)
	}
}

func TestSchedulerAdmissionRejection(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(1, 1)
	_ = s.AddStream(1, 2)
	s.InsertOps(mkOps(2, 0))
	if _, err := s.CloseStream(2); err != nil {
		t.Fatalf("CloseStream: %v", err)
	}

	good := &Op[int]{StreamID: 1, Result: errors.New("stale")}
	unknown := &Op[int]{StreamID: 99}
	closed := &Op[int]{StreamID: 2}

	batch := []*Op[int]{unknown, good, closed}
	ready, rejected := s.InsertOps(batch)
	if ready != 2 || rejected != 2 {
		t.Fatalf("ready, rejected = %d, %d; want 2, 2", ready, rejected)
	}
	for _, op := range batch[:rejected] {
		if op == good {
			t.Fatal("admitted op placed in the rejected prefix")
		}
	}
	if !errors.Is(unknown.Result, ErrInvalidArgument) {
		t.Fatalf("unknown stream result = %v; want ErrInvalidArgument", unknown.Result)
	}
	if !errors.Is(closed.Result, ErrInvalidArgument) {
		t.Fatalf("closed stream result = %v; want ErrInvalidArgument", closed.Result)
	}
	if good.Result != nil {
		t.Fatalf("admitted op result = %v; want nil", good.Result)
	}

	for _, op := range issueAndComplete(t, s, 2) {
		if op == unknown || op == closed {
			t.Fatal("rejected op was dispatched")
		}
	}
	if _, err := s.GetNextOp(false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v; want ErrUnavailable", err)
	}
}

func TestSchedulerAddStreamValidation(t *testing.T) {
	s := newTestScheduler(t, 1)

	if err := s.AddStream(MaxPriority+1, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("priority 32 err = %v; want ErrInvalidArgument", err)
	}
	if err := s.AddStream(MaxPriority, 1); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if err := s.AddStream(0, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate id err = %v; want ErrInvalidArgument", err)
	}
	if _, err := s.CloseStream(42); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("close unknown err = %v; want ErrInvalidArgument", err)
	}

	s.CloseAll()
	if err := s.AddStream(0, 2); !errors.Is(err, ErrBadState) {
		t.Fatalf("AddStream after CloseAll err = %v; want ErrBadState", err)
	}
}

func TestSchedulerCloseStreamWaitsForIssued(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(3, 1)
	s.InsertOps(mkOps(1, 1, 2))

	op, err := s.GetNextOp(false)
	if err != nil {
		t.Fatalf("GetNextOp: %v", err)
	}
	drained, err := s.CloseStream(1)
	if err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
	again, err := s.CloseStream(1)
	if err != nil || again != drained {
		t.Fatalf("second CloseStream = (%v, %v); want same channel", again, err)
	}

	// the closed stream keeps draining its backlog
	s.CompleteOp(op, nil, false)
	assertOpen(t, drained)

	op, err = s.GetNextOp(false)
	if err != nil {
		t.Fatalf("GetNextOp on closed stream: %v", err)
	}
	assertOpen(t, drained)

	s.CompleteOp(op, nil, false)
	select {
	case <-drained:
	default:
		t.Fatal("stream not drained after last completion")
	}

	// the id is free again
	if err := s.AddStream(3, 1); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func assertOpen(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("stream drained too early")
	default:
	}
}

func TestSchedulerCloseAllWaitUntilDrained(t *testing.T) {
	s := newTestScheduler(t, 4)
	_ = s.AddStream(1, 1)
	_ = s.AddStream(2, 2)
	_ = s.AddStream(3, 3) // idle, removed by CloseAll
	s.InsertOps(mkOps(1, 1, 2))
	s.InsertOps(mkOps(2, 1))

	s.CloseAll()
	if st := s.Stats(); st.Streams != 2 {
		t.Fatalf("streams after CloseAll = %d; want 2", st.Streams)
	}

	done := make(chan struct{})
	go func() {
		s.WaitUntilDrained()
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
			t.Fatal("WaitUntilDrained returned with ops outstanding")
		default:
		}
		op, err := s.GetNextOp(false)
		if err != nil {
			t.Fatalf("GetNextOp: %v", err)
		}
		s.CompleteOp(op, nil, false)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntilDrained did not return")
	}
}

func TestSchedulerAsyncCompletionQueued(t *testing.T) {
	s := newTestScheduler(t, 1)
	_ = s.AddStream(1, 1)
	s.InsertOps(mkOps(1, 7))

	op, _ := s.GetNextOp(false)
	boom := errors.New("boom")
	s.CompleteOp(op, boom, true)

	buf := make([]*Op[int], 4)
	if n := s.GetCompletedOps(buf); n != 1 || buf[0] != op {
		t.Fatalf("GetCompletedOps = %d; want the completed op", n)
	}
	if !errors.Is(op.Result, boom) {
		t.Fatalf("result = %v; want %v", op.Result, boom)
	}
	if n := s.GetCompletedOps(buf); n != 0 {
		t.Fatalf("second GetCompletedOps = %d; want 0", n)
	}
}

func TestSchedulerCompleteUnknownOpReportsInternalError(t *testing.T) {
	var reported atomic.Int32
	s := NewScheduler[int](Options{
		MaxIssues:       1,
		OnInternalError: func(error) { reported.Add(1) },
	})

	stray := &Op[int]{StreamID: 9}
	s.CompleteOp(stray, ErrBadState, true)

	if reported.Load() != 1 {
		t.Fatalf("internal errors = %d; want 1", reported.Load())
	}
	if !errors.Is(stray.Result, ErrBadState) {
		t.Fatalf("result = %v; want status recorded", stray.Result)
	}
	buf := make([]*Op[int], 1)
	if n := s.GetCompletedOps(buf); n != 1 {
		t.Fatal("stray async op not queued for release")
	}

	// the permit pool is untouched
	_ = s.AddStream(1, 1)
	s.InsertOps(mkOps(1, 1))
	if _, err := s.GetNextOp(false); err != nil {
		t.Fatalf("GetNextOp: %v", err)
	}
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	const (
		maxIssues = 3
		streams   = 8
		perStream = 200
		consumers = 6
	)
	s := newTestScheduler(t, maxIssues)
	for id := StreamID(0); id < streams; id++ {
		_ = s.AddStream(Priority(id%4), id)
		payloads := make([]int, perStream)
		s.InsertOps(mkOps(id, payloads...))
	}

	var inflight, peak, done atomic.Int32
	var wg sync.WaitGroup
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				op, err := s.GetNextOp(true)
				if errors.Is(err, ErrUnavailable) {
					return
				}
				if err != nil {
					t.Errorf("GetNextOp: %v", err)
					return
				}
				n := inflight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				inflight.Add(-1)
				s.CompleteOp(op, nil, false)
				done.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := done.Load(); got != streams*perStream {
		t.Fatalf("completed %d ops; want %d", got, streams*perStream)
	}
	if p := peak.Load(); p > maxIssues {
		t.Fatalf("peak in flight = %d; want <= %d", p, maxIssues)
	}
	if st := s.Stats(); st.Issued != 0 || st.Ready != 0 {
		t.Fatalf("stats = %+v; want empty", st)
	}
}
