// Package logging bridges a process-owned *zap.Logger into the zlog
// interface the engine and device log through.
package logging

import (
	"context"

	lg "github.com/Andrej220/go-utils/zlog"
	"go.uber.org/zap"
)

type zapLogger struct{ l *zap.Logger }

// FromZap wraps l so it can be attached with zlog.Attach. The level and
// encoding of l are kept as they are.
func FromZap(l *zap.Logger) lg.ZLogger {
	return zapLogger{l: l.WithOptions(zap.AddCallerSkip(1))}
}

func (z zapLogger) Debug(msg string, fields ...lg.Field) { z.l.Debug(msg, fields...) }
func (z zapLogger) Info(msg string, fields ...lg.Field)  { z.l.Info(msg, fields...) }
func (z zapLogger) Warn(msg string, fields ...lg.Field)  { z.l.Warn(msg, fields...) }
func (z zapLogger) Error(msg string, fields ...lg.Field) { z.l.Error(msg, fields...) }
func (z zapLogger) Sync() error                          { return z.l.Sync() }

func (z zapLogger) With(fields ...lg.Field) lg.ZLogger {
	return zapLogger{l: z.l.With(fields...)}
}

// Attach returns a copy of ctx carrying l for zlog.FromContext.
func Attach(ctx context.Context, l *zap.Logger) context.Context {
	return lg.Attach(ctx, FromZap(l))
}
