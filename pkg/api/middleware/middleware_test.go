package middleware

import (
	"context"
	"sync"

	"github.com/docsieve/docsieve/pkg/logger"
)

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) all() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *recordingLogger) DebugContext(_ context.Context, msg string, args ...any) {
	l.record("debug", msg, args)
}

func (l *recordingLogger) InfoContext(_ context.Context, msg string, args ...any) {
	l.record("info", msg, args)
}

func (l *recordingLogger) WarnContext(_ context.Context, msg string, args ...any) {
	l.record("warn", msg, args)
}

func (l *recordingLogger) ErrorContext(_ context.Context, msg string, args ...any) {
	l.record("error", msg, args)
}

func (l *recordingLogger) With(args ...any) logger.Logger { return l }
func (l *recordingLogger) SetLevel(logger.Level)          {}
func (l *recordingLogger) Close() error                   { return nil }

// field extracts a key's value from a captured entry's key-value args.
func (e logEntry) field(key string) (any, bool) {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1], true
		}
	}
	return nil, false
}
