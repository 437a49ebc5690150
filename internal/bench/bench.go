// Package bench drives a configured workload through a block device and
// its ioqueue, and reports per-stream throughput and latency.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	ioq "github.com/Andrej220/go-utils/ioqueue"
	"github.com/Andrej220/go-utils/ioqueue/blockdev"
	"github.com/Andrej220/go-utils/ioqueue/internal/config"
)

// StreamReport summarises one client stream.
type StreamReport struct {
	ID       ioq.StreamID
	Priority ioq.Priority
	Ops      int
	Errors   int
	Bytes    int64

	// Finished is when the stream's last op completed, relative to start.
	Finished time.Duration

	MeanLatency time.Duration
	MaxLatency  time.Duration
	P99Latency  time.Duration
}

// Report is the outcome of a run.
type Report struct {
	RunID   string
	Elapsed time.Duration
	Streams []StreamReport

	Inserted  uint64
	Rejected  uint64
	Issued    uint64
	Completed uint64
	Released  uint64
}

// TotalBytes returns the bytes moved by every stream.
func (r *Report) TotalBytes() int64 {
	var n int64
	for _, s := range r.Streams {
		n += s.Bytes
	}
	return n
}

// Run executes cfg. Cancelling ctx stops the clients early; admitted ops
// still drain before Run returns.
//
// The zlog logger attached to ctx is handed to the device and the queue,
// tagged with the run id.
func Run(ctx context.Context, cfg config.Config) (rep *Report, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bench: invalid config: %w", err)
	}
	runID := uuid.NewString()
	logger := lg.FromContext(ctx).With(lg.String("run_id", runID))
	logCtx := lg.Attach(context.WithoutCancel(ctx), logger)

	path := cfg.Device.Path
	if path == "" {
		f, err := os.CreateTemp("", "ioqueue-bench-*.img")
		if err != nil {
			return nil, err
		}
		path = f.Name()
		_ = f.Close()
		defer os.Remove(path)
	}

	dev, err := blockdev.Open(blockdev.Options{
		Path:      path,
		Size:      cfg.Device.SizeBytes,
		BlockSize: cfg.Device.BlockSize,
		Async:     cfg.Device.Async,
		Ctx:       logCtx,
		Retry: blockdev.RetryPolicy{
			Attempts: cfg.Retry.Attempts,
			Initial:  time.Duration(cfg.Retry.InitialMs) * time.Millisecond,
			Max:      time.Duration(cfg.Retry.MaxMs) * time.Millisecond,
		},
	})
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, dev.Close()) }()

	metrics := &ioq.AtomicMetrics{}
	q := dev.NewQueue(ioq.Options{
		MaxIssues:  cfg.Queue.MaxIssues,
		BatchSize:  cfg.Queue.BatchSize,
		PinWorkers: cfg.Queue.PinWorkers,
		Metrics:    metrics,
		OnInternalError: func(e error) {
			logger.Error("queue internal error", lg.Error("error", e))
		},
	})

	for _, s := range cfg.Streams {
		if err := q.OpenStream(ioq.Priority(s.Priority), ioq.StreamID(s.ID)); err != nil {
			return nil, multierr.Append(err, q.Shutdown())
		}
	}
	if err := q.Serve(cfg.Queue.Workers); err != nil {
		return nil, multierr.Append(err, q.Shutdown())
	}
	logger.Info("bench started",
		lg.String("device", path),
		lg.Int("streams", len(cfg.Streams)),
		lg.Int("workers", cfg.Queue.Workers),
		lg.Bool("async", cfg.Device.Async),
	)

	start := time.Now()
	reports := make([]StreamReport, len(cfg.Streams))
	var wg sync.WaitGroup
	for i, s := range cfg.Streams {
		wg.Add(1)
		go func(i int, s config.StreamConfig) {
			defer wg.Done()
			reports[i] = runStream(ctx, dev, q, s, start)
		}(i, s)
	}
	wg.Wait()

	if err := q.Shutdown(); err != nil {
		return nil, err
	}
	if err := dev.Err(); err != nil {
		return nil, fmt.Errorf("bench: device failed: %w", err)
	}

	rep = &Report{
		RunID:     runID,
		Elapsed:   time.Since(start),
		Streams:   reports,
		Inserted:  metrics.Inserted(),
		Rejected:  metrics.Rejected(),
		Issued:    metrics.Issued(),
		Completed: metrics.Completed(),
		Released:  metrics.Released(),
	}
	logger.Info("bench finished",
		lg.String("elapsed", rep.Elapsed.String()),
		lg.Any("bytes", rep.TotalBytes()),
	)
	return rep, nil
}

type sample struct {
	latency time.Duration
	bytes   int64
	err     error
}

// runStream keeps s.Depth ops outstanding on one stream until s.Ops have
// been submitted, then closes the stream.
func runStream(ctx context.Context, dev *blockdev.Device, q *ioq.Queue[blockdev.Request], s config.StreamConfig, start time.Time) StreamReport {
	id := ioq.StreamID(s.ID)
	rng := rand.New(rand.NewPCG(uint64(s.ID), uint64(s.Priority)))
	bs := int64(dev.BlockSize())
	span := dev.Size()/bs - int64(s.Blocks) + 1

	samples := make(chan sample, s.Depth)
	slots := make(chan struct{}, s.Depth)
	var wg sync.WaitGroup

	submit := func(n int) {
		opcode := blockdev.OpRead
		switch {
		case s.FlushEvery > 0 && n > 0 && n%s.FlushEvery == 0:
			opcode = blockdev.OpFlush
		case s.Mix == config.MixWrite, s.Mix == config.MixMixed && rng.IntN(2) == 0:
			opcode = blockdev.OpWrite
		}
		req := blockdev.Request{}
		if opcode != blockdev.OpFlush {
			req.Offset = rng.Int64N(span) * bs
			req.Buf = make([]byte, int64(s.Blocks)*bs)
			if opcode == blockdev.OpWrite {
				fill(req.Buf, byte(s.ID))
			}
		}

		t0 := time.Now()
		done, err := dev.Submit(ctx, id, opcode, 0, req)
		if err != nil {
			<-slots
			wg.Done()
			samples <- sample{err: err}
			return
		}
		go func() {
			defer wg.Done()
			err := <-done
			<-slots
			samples <- sample{latency: time.Since(t0), bytes: int64(len(req.Buf)), err: err}
		}()
	}

	var collected []sample
	var finished time.Duration
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for smp := range samples {
			collected = append(collected, smp)
			finished = time.Since(start)
		}
	}()

	for n := 0; n < s.Ops; n++ {
		if ctx.Err() != nil {
			break
		}
		slots <- struct{}{}
		wg.Add(1)
		submit(n)
	}
	wg.Wait()
	close(samples)
	<-collectDone

	if err := q.CloseStream(id); err != nil && !errors.Is(err, ioq.ErrBadState) {
		collected = append(collected, sample{err: err})
	}
	return summarize(s, collected, finished)
}

func summarize(s config.StreamConfig, samples []sample, finished time.Duration) StreamReport {
	r := StreamReport{
		ID:       ioq.StreamID(s.ID),
		Priority: ioq.Priority(s.Priority),
		Finished: finished,
	}
	lat := make([]time.Duration, 0, len(samples))
	var sum time.Duration
	for _, smp := range samples {
		if smp.err != nil {
			r.Errors++
			continue
		}
		r.Ops++
		r.Bytes += smp.bytes
		sum += smp.latency
		lat = append(lat, smp.latency)
		r.MaxLatency = max(r.MaxLatency, smp.latency)
	}
	if len(lat) > 0 {
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		r.MeanLatency = sum / time.Duration(len(lat))
		r.P99Latency = lat[int(float64(len(lat)-1)*0.99)]
	}
	return r
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
