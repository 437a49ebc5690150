//go:build unix && !linux

package blockdev

import (
	"golang.org/x/sys/unix"
)

func datasync(fd int) error {
	return unix.Fsync(fd)
}

func punchHole(int, int64, int64) error {
	return ErrNotSupported
}
