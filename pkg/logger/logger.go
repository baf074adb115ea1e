// Package logger provides structured logging on top of log/slog. Components
// receive a Logger and add their own fields with With; the Context variants
// attach the active trace and span IDs so log lines can be joined to traces.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Level is the minimum severity a logger emits.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string to a Level. Unknown strings fall back to
// info rather than failing startup over a typo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config controls how log records are produced.
type Config struct {
	// Level is the minimum severity to emit.
	Level Level

	// Format selects "json" or "text" output.
	Format string

	// Output is "stdout", "stderr" or a file path (opened for append).
	Output string
}

// Logger is the logging interface the rest of the system depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// Context variants additionally record trace_id and span_id when the
	// context carries an active span.
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a logger that includes the given fields on every record.
	With(args ...any) Logger

	// SetLevel changes the minimum severity at runtime. Derived loggers
	// share the level with their parent.
	SetLevel(level Level)

	// Close releases the output if the logger owns one (file outputs).
	Close() error
}

type slogLogger struct {
	sl    *slog.Logger
	level *slog.LevelVar
	out   io.Closer
}

// New builds a Logger from config. Unknown formats fall back to text and an
// unopenable output file falls back to stderr, so logging itself never takes
// the process down.
func New(cfg *Config) Logger {
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Level))

	w, closer := openOutput(cfg.Output)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &slogLogger{sl: slog.New(handler), level: level, out: closer}
}

func openOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stderr, nil
		}
		return f, f
	}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

func (l *slogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.sl.DebugContext(ctx, msg, withTrace(ctx, args)...)
}

func (l *slogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sl.InfoContext(ctx, msg, withTrace(ctx, args)...)
}

func (l *slogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.sl.WarnContext(ctx, msg, withTrace(ctx, args)...)
}

func (l *slogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sl.ErrorContext(ctx, msg, withTrace(ctx, args)...)
}

// withTrace appends trace correlation fields when the context carries a
// sampled or unsampled but valid span.
func withTrace(ctx context.Context, args []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return args
	}
	return append(args,
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}

func (l *slogLogger) With(args ...any) Logger {
	// Derived loggers share the level var but never own the output; only
	// the root logger closes a file.
	return &slogLogger{sl: l.sl.With(args...), level: l.level}
}

func (l *slogLogger) SetLevel(level Level) {
	l.level.Set(slogLevel(level))
}

func (l *slogLogger) Close() error {
	if l.out != nil {
		return l.out.Close()
	}
	return nil
}

var (
	globalMu sync.RWMutex
	global   Logger = New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"})
)

// SetGlobal replaces the process-wide logger used by components that are not
// handed one explicitly.
func SetGlobal(l Logger) {
	if l == nil {
		return
	}
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// Global returns the process-wide logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Package-level helpers log through the global logger.

func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
func Info(msg string, args ...any)  { Global().Info(msg, args...) }
func Warn(msg string, args ...any)  { Global().Warn(msg, args...) }
func Error(msg string, args ...any) { Global().Error(msg, args...) }
