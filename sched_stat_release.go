//go:build !debug

package ioqueue

func schedDbgIncInsert(Priority)  {}
func schedDbgIncIssue(Priority)   {}
func schedDbgIncRequeue(Priority) {}
func schedDbgIncShouldWait()      {}
func schedDbgIncUnavailable()     {}
func schedDbgIncStreamGone()      {}

// misuse returns err; release builds report lifecycle misuse as ErrBadState.
func misuse(err error) error { return err }

// SchedDumpStats is a no-op unless built with -tags debug.
func SchedDumpStats() {}
