//go:build debug

package ioqueue

import (
	"fmt"
	"sync/atomic"
)

type bucketDebug struct {
	inserts  atomic.Uint64
	issues   atomic.Uint64
	requeues atomic.Uint64
}

type schedulerDebug struct {
	shouldWait  atomic.Uint64
	unavailable atomic.Uint64
	streamsGone atomic.Uint64
}

var schedDbg struct {
	buckets [NumPriorities]bucketDebug
	sched   schedulerDebug
}

// misuse asserts against queue lifecycle misuse by panicking with err.
func misuse(err error) error {
	panic(err)
}

func schedDbgIncInsert(p Priority) {
	schedDbg.buckets[p].inserts.Add(1)
}
func schedDbgIncIssue(p Priority) {
	schedDbg.buckets[p].issues.Add(1)
}
func schedDbgIncRequeue(p Priority) {
	schedDbg.buckets[p].requeues.Add(1)
}
func schedDbgIncShouldWait() {
	schedDbg.sched.shouldWait.Add(1)
}
func schedDbgIncUnavailable() {
	schedDbg.sched.unavailable.Add(1)
}
func schedDbgIncStreamGone() {
	schedDbg.sched.streamsGone.Add(1)
}

// SchedDumpStats prints dispatch counters collected in debug builds.
func SchedDumpStats() {
	fmt.Printf(
		"sched: shouldWait=%d unavailable=%d streamsGone=%d\n",
		schedDbg.sched.shouldWait.Load(),
		schedDbg.sched.unavailable.Load(),
		schedDbg.sched.streamsGone.Load(),
	)

	for i := NumPriorities - 1; i >= 0; i-- {
		in := schedDbg.buckets[i].inserts.Load()
		is := schedDbg.buckets[i].issues.Load()
		rq := schedDbg.buckets[i].requeues.Load()
		if in|is|rq != 0 {
			fmt.Printf(
				"  bucket[%02d]: insert=%d issue=%d requeue=%d\n",
				i, in, is, rq,
			)
		}
	}
}
