//go:build linux

package ioqueue

import (
	"golang.org/x/sys/unix"
)

// PinToCPU restricts the calling OS thread to cpu. Callers must have
// locked the goroutine to its thread first.
func PinToCPU(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
