package ioqueue

const initialFifoCapacity = 8

// fifo is a growable circular buffer.
//
// It backs both a stream's ready queue and the per-priority bucket lists.
// The capacity is always a power of two so wrap-around is a mask.
// Not safe for concurrent use; callers hold the scheduler lock.
type fifo[E any] struct {
	buf  []E
	head int
	size int
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// Len returns the number of buffered elements.
func (q *fifo[E]) Len() int { return q.size }

// Push appends e at the tail, doubling the buffer when full.
func (q *fifo[E]) Push(e E) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)&(len(q.buf)-1)] = e
	q.size++
}

// Pop removes and returns the head element.
// If the queue is empty, Pop returns the zero value and false.
func (q *fifo[E]) Pop() (E, bool) {
	var zero E
	if q.size == 0 {
		return zero, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) & (len(q.buf) - 1)
	q.size--
	return e, true
}

func (q *fifo[E]) grow() {
	n := nextPow2(max(initialFifoCapacity, 2*len(q.buf)))
	buf := make([]E, n)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)&(len(q.buf)-1)]
	}
	q.buf = buf
	q.head = 0
}
