// Package dlog wraps go.uber.org/zap with the small, fixed set of fields
// tdbcore's components attach to every log line (collection id, transaction
// id, operator name). Structured warnings (IterationCapExceeded) and
// status-transition diagnostics call for leveled, queryable fields, and
// go.uber.org/zap is already a dependency elsewhere, so it fills that role
// here too.
package dlog

import (
	"sync"

	"go.uber.org/zap"
)

// Logger is a thin, construction-time-configured wrapper around
// *zap.Logger. The zero value is not usable; use New or Nop.
type Logger struct {
	z *zap.Logger
}

var (
	defaultOnce sync.Once
	defaultZap  *zap.Logger
)

// New builds a Logger at the given level ("debug", "info", "warn", "error").
// An empty level defaults to "info". Falls back to a Nop logger if the
// level string is invalid rather than failing component construction.
func New(level string) *Logger {
	cfg := zap.NewProductionConfig()
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return Nop()
	}
	z, err := cfg.Build()
	if err != nil {
		return Nop()
	}
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything, used by components
// constructed without an explicit logger (tests, the CLI's quiet mode).
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Default returns a process-wide info-level logger, built once.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultZap = New("info").z
	})
	return &Logger{z: defaultZap}
}

// With returns a child Logger carrying the given structured fields on
// every subsequent call.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries. Callers should defer it once at
// process shutdown; errors are deliberately ignored since most Sync
// failures on stderr/stdout (ENOTTY, EINVAL) are not actionable.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}
