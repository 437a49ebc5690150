//go:build !debug

package ioqueue_test

import (
	"errors"
	"testing"

	ioq "github.com/Andrej220/go-utils/ioqueue"
)

func TestLifecycleMisuse(t *testing.T) {
	q := ioq.New[int](newFakeSource(nil), ioq.Options{})
	_ = q.OpenStream(1, 1)

	if err := q.Serve(1); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if err := q.Serve(1); !errors.Is(err, ioq.ErrBadState) {
		t.Fatalf("second Serve err = %v; want ErrBadState", err)
	}
	if err := q.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := q.Shutdown(); !errors.Is(err, ioq.ErrBadState) {
		t.Fatalf("second Shutdown err = %v; want ErrBadState", err)
	}
	if err := q.OpenStream(1, 2); !errors.Is(err, ioq.ErrBadState) {
		t.Fatalf("OpenStream after Shutdown err = %v; want ErrBadState", err)
	}
	if err := q.CloseStream(1); !errors.Is(err, ioq.ErrBadState) {
		t.Fatalf("CloseStream after Shutdown err = %v; want ErrBadState", err)
	}
	if err := q.Serve(1); !errors.Is(err, ioq.ErrBadState) {
		t.Fatalf("Serve after Shutdown err = %v; want ErrBadState", err)
	}
}

func TestShutdownWithoutServe(t *testing.T) {
	q := ioq.New[int](newFakeSource(nil), ioq.Options{})
	_ = q.OpenStream(1, 1)

	if err := q.Shutdown(); err != nil {
		t.Fatalf("Shutdown without Serve: %v", err)
	}
	if got := q.Stats().Streams; got != 0 {
		t.Fatalf("streams = %d; want 0", got)
	}
}
