//go:build linux

package blockdev

import (
	"errors"

	"golang.org/x/sys/unix"
)

func datasync(fd int) error {
	return unix.Fdatasync(fd)
}

// punchHole deallocates [off, off+length) while keeping the file size,
// so later reads of the range return zeroes.
func punchHole(fd int, off, length int64) error {
	err := unix.Fallocate(fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
	if errors.Is(err, unix.EOPNOTSUPP) {
		return ErrNotSupported
	}
	return err
}
