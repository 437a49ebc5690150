package ioqueue

import (
	lg "github.com/Andrej220/go-utils/zlog"
)

// reportInternalError reports an engine invariant violation.
//
// Internal errors are never caused by a single op's I/O status; they mean
// the scheduler's bookkeeping disagrees with what a caller handed it.
// The error is logged and forwarded to Options.OnInternalError if set.
func (s *Scheduler[T]) reportInternalError(err error) {
	lg.FromContext(s.ctx).Error("ioqueue internal error", lg.Any("error", err))
	if s.onInternalError != nil {
		s.onInternalError(err)
	}
}
