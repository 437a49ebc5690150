//go:build !linux

package ioqueue

// PinToCPU is a no-op outside Linux; workers still run on dedicated
// OS threads.
func PinToCPU(int) error { return nil }
