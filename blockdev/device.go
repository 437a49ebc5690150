// Package blockdev implements a file-backed block device that feeds an
// ioqueue.Queue.
//
// Clients submit reads, writes, flushes and trims tagged with a stream id.
// Submissions wait in a bounded channel until a queue worker acquires
// them; the queue decides issue order and the device performs the I/O with
// positional syscalls. In async mode each issued op runs on its own
// goroutine and reports back through Queue.AsyncCompleteOp, the way a
// driver's completion interrupt would.
package blockdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	lg "github.com/Andrej220/go-utils/zlog"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	ioq "github.com/Andrej220/go-utils/ioqueue"
)

const (
	OpRead ioq.Opcode = iota + 1
	OpWrite
	OpFlush
	OpTrim
)

// FlagFUA forces a data sync after a write before it completes.
const FlagFUA ioq.Flags = 1 << 0

const (
	DefaultBlockSize  = 4096
	DefaultQueueDepth = 256
)

var (
	ErrClosed        = errors.New("blockdev: device closed")
	ErrOutOfRange    = errors.New("blockdev: request out of range")
	ErrMisaligned    = errors.New("blockdev: request not block aligned")
	ErrUnknownOpcode = errors.New("blockdev: unknown opcode")
	ErrNotSupported  = errors.New("blockdev: operation not supported")
)

// Request is the payload carried by every op the device handles.
type Request struct {
	Offset int64

	// Buf is the data for reads and writes. It must not be touched by the
	// caller until the op completes.
	Buf []byte

	// Length is the byte count for trims.
	Length int64

	done chan error
}

// Options configure a Device.
type Options struct {
	Path string

	// Size, if larger than the current file, grows the file to Size bytes.
	Size int64

	BlockSize int

	// QueueDepth is the capacity of the submission channel.
	QueueDepth int

	// Async completes issued ops from a separate goroutine.
	Async bool

	Retry RetryPolicy

	// Ctx carries the logger.
	Ctx context.Context
}

func (o *Options) fillDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.Ctx == nil {
		o.Ctx = context.Background()
	}
	o.Retry.fillDefaults()
}

// Device is a file-backed block device. It implements
// ioqueue.OpSource[Request] and ioqueue.Waker.
type Device struct {
	fd   int
	size int64
	opts Options

	in     chan *ioq.Op[Request]
	cancel chan struct{}
	wake   chan struct{}

	cancelOnce sync.Once

	// mu orders submissions against cancellation: submitters hold it
	// shared, CancelAcquire takes it exclusively to fail leftovers.
	mu     sync.RWMutex
	closed bool

	queue   *ioq.Queue[Request]
	asyncWG sync.WaitGroup

	fatal     atomic.Pointer[error]
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the backing file.
func Open(opts Options) (*Device, error) {
	opts.fillDefaults()
	if opts.BlockSize&(opts.BlockSize-1) != 0 {
		return nil, fmt.Errorf("blockdev: block size %d is not a power of two", opts.BlockSize)
	}

	fd, err := unix.Open(opts.Path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", opts.Path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("blockdev: stat %s: %w", opts.Path, err)
	}
	size := st.Size
	if opts.Size > size {
		if err := unix.Ftruncate(fd, opts.Size); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("blockdev: grow %s: %w", opts.Path, err)
		}
		size = opts.Size
	}
	// only whole blocks are addressable
	size -= size % int64(opts.BlockSize)

	d := &Device{
		fd:     fd,
		size:   size,
		opts:   opts,
		in:     make(chan *ioq.Op[Request], opts.QueueDepth),
		cancel: make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	lg.FromContext(opts.Ctx).Info("block device opened",
		lg.String("path", opts.Path),
		lg.Int("block_size", opts.BlockSize),
		lg.Any("size", size),
	)
	return d, nil
}

// NewQueue creates the queue that schedules this device's ops.
func (d *Device) NewQueue(opts ioq.Options) *ioq.Queue[Request] {
	if opts.Ctx == nil {
		opts.Ctx = d.opts.Ctx
	}
	d.queue = ioq.New[Request](d, opts)
	return d.queue
}

// Size returns the addressable size in bytes.
func (d *Device) Size() int64 { return d.size }

// BlockSize returns the device block size in bytes.
func (d *Device) BlockSize() int { return d.opts.BlockSize }

// Err returns the error last reported through Fatal, if any.
func (d *Device) Err() error {
	if p := d.fatal.Load(); p != nil {
		return *p
	}
	return nil
}

// Submit queues an op on stream and returns a channel that receives its
// result once. It fails without queueing if the request is invalid, the
// device is closed, or ctx ends while the submission channel is full.
func (d *Device) Submit(ctx context.Context, stream ioq.StreamID, opcode ioq.Opcode, flags ioq.Flags, req Request) (<-chan error, error) {
	if err := d.validate(opcode, req); err != nil {
		return nil, err
	}
	req.done = make(chan error, 1)
	op := &ioq.Op[Request]{
		Opcode:   opcode,
		Flags:    flags,
		StreamID: stream,
		Payload:  req,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	select {
	case d.in <- op:
		return req.done, nil
	case <-d.cancel:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Device) do(ctx context.Context, stream ioq.StreamID, opcode ioq.Opcode, flags ioq.Flags, req Request) error {
	done, err := d.Submit(ctx, stream, opcode, flags, req)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read fills buf from offset off.
func (d *Device) Read(ctx context.Context, stream ioq.StreamID, off int64, buf []byte) error {
	return d.do(ctx, stream, OpRead, 0, Request{Offset: off, Buf: buf})
}

// Write stores buf at offset off.
func (d *Device) Write(ctx context.Context, stream ioq.StreamID, off int64, buf []byte, flags ioq.Flags) error {
	return d.do(ctx, stream, OpWrite, flags, Request{Offset: off, Buf: buf})
}

// Flush makes previously completed writes durable.
func (d *Device) Flush(ctx context.Context, stream ioq.StreamID) error {
	return d.do(ctx, stream, OpFlush, 0, Request{})
}

// Trim discards length bytes starting at off.
func (d *Device) Trim(ctx context.Context, stream ioq.StreamID, off, length int64) error {
	return d.do(ctx, stream, OpTrim, 0, Request{Offset: off, Length: length})
}

func (d *Device) validate(opcode ioq.Opcode, req Request) error {
	var length int64
	switch opcode {
	case OpFlush:
		return nil
	case OpRead, OpWrite:
		length = int64(len(req.Buf))
	case OpTrim:
		length = req.Length
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOpcode, opcode)
	}
	bs := int64(d.opts.BlockSize)
	if length <= 0 || req.Offset%bs != 0 || length%bs != 0 {
		return fmt.Errorf("%w: offset %d length %d", ErrMisaligned, req.Offset, length)
	}
	if req.Offset < 0 || length > d.size || req.Offset > d.size-length {
		return fmt.Errorf("%w: offset %d length %d size %d", ErrOutOfRange, req.Offset, length, d.size)
	}
	return nil
}

// Acquire implements ioqueue.OpSource.
func (d *Device) Acquire(ops []*ioq.Op[Request], wait bool) (int, error) {
	select {
	case <-d.cancel:
		return 0, ioq.ErrCanceled
	default:
	}

	n := 0
	if wait {
		select {
		case op := <-d.in:
			if d.canceled() {
				d.failLate(op)
				return 0, ioq.ErrCanceled
			}
			ops[0] = op
			n = 1
		case <-d.wake:
			return 0, nil
		case <-d.cancel:
			return 0, ioq.ErrCanceled
		}
	}
	for n < len(ops) && !d.canceled() {
		select {
		case op := <-d.in:
			ops[n] = op
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (d *Device) canceled() bool {
	select {
	case <-d.cancel:
		return true
	default:
		return false
	}
}

// failLate completes a submission that will never be acquired.
func (d *Device) failLate(op *ioq.Op[Request]) {
	op.Result = ErrClosed
	d.Release(op)
}

// Issue implements ioqueue.OpSource.
func (d *Device) Issue(op *ioq.Op[Request]) error {
	if !d.opts.Async || d.queue == nil {
		return d.execute(op)
	}
	d.asyncWG.Add(1)
	go func() {
		defer d.asyncWG.Done()
		d.queue.AsyncCompleteOp(op, d.execute(op))
	}()
	return ioq.ErrPending
}

// Release implements ioqueue.OpSource.
func (d *Device) Release(op *ioq.Op[Request]) {
	op.Payload.done <- op.Result
}

// Wake implements ioqueue.Waker.
func (d *Device) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// CancelAcquire implements ioqueue.OpSource. Submissions still waiting in
// the channel are failed with ErrClosed.
func (d *Device) CancelAcquire() {
	d.cancelOnce.Do(func() {
		close(d.cancel)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = true
		for {
			select {
			case op := <-d.in:
				d.failLate(op)
			default:
				return
			}
		}
	})
}

// Fatal implements ioqueue.OpSource.
func (d *Device) Fatal(err error) {
	d.fatal.Store(&err)
	lg.FromContext(d.opts.Ctx).Error("block device fatal error",
		lg.String("path", d.opts.Path),
		lg.Any("error", err),
	)
}

// Close stops accepting submissions, waits for async completions and
// closes the backing file. The queue should be shut down first.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.CancelAcquire()
		d.asyncWG.Wait()

		var err error
		err = multierr.Append(err, datasync(d.fd))
		err = multierr.Append(err, unix.Close(d.fd))
		d.closeErr = err
	})
	return d.closeErr
}

func (d *Device) execute(op *ioq.Op[Request]) error {
	req := &op.Payload
	switch op.Opcode {
	case OpRead:
		return d.pread(req.Buf, req.Offset)
	case OpWrite:
		if err := d.pwrite(req.Buf, req.Offset); err != nil {
			return err
		}
		if op.Flags&FlagFUA != 0 {
			return d.retry(func() error { return datasync(d.fd) })
		}
		return nil
	case OpFlush:
		return d.retry(func() error { return datasync(d.fd) })
	case OpTrim:
		return d.retry(func() error { return punchHole(d.fd, req.Offset, req.Length) })
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOpcode, op.Opcode)
	}
}

func (d *Device) pread(buf []byte, off int64) error {
	for done := 0; done < len(buf); {
		var n int
		err := d.retry(func() (err error) {
			n, err = unix.Pread(d.fd, buf[done:], off+int64(done))
			return err
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		done += n
	}
	return nil
}

func (d *Device) pwrite(buf []byte, off int64) error {
	for done := 0; done < len(buf); {
		var n int
		err := d.retry(func() (err error) {
			n, err = unix.Pwrite(d.fd, buf[done:], off+int64(done))
			return err
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		done += n
	}
	return nil
}

func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// the retry policy is exhausted.
func (d *Device) retry(fn func() error) error {
	pol := d.opts.Retry
	err := fn()
	if err == nil || !transient(err) || pol.Attempts <= 1 {
		return err
	}

	bo := boff.New(pol.Initial, pol.Max, time.Now().UnixNano())
	for attempt := 1; attempt < pol.Attempts; attempt++ {
		delay := bo.Next()
		lg.FromContext(d.opts.Ctx).Warn("transient I/O error; backing off",
			lg.Int("attempt", attempt),
			lg.String("sleep", delay.String()),
			lg.Any("error", err),
		)
		time.Sleep(delay)

		if err = fn(); err == nil || !transient(err) {
			return err
		}
	}
	return err
}
