// Package log is the stancemap logger. Every call takes the request or job
// context, so lines written while serving /api or while summarizing a room
// carry the trace id, request id and the fields added with WithContext.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is what handlers, the summarizer and the scheduler log through.
// Error takes the error first so its stack and links end up as fields.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	// App, Version and Commit are stamped on every line
	App     string
	Version string
	Commit  string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a stack attached, zero means error
	StacktraceLevel slog.Level
	// JsonFormat writes JSON lines for the log shipper, text otherwise
	JsonFormat bool

	// MaxErrorLinks caps the wrapped causes listed for one error
	MaxErrorLinks     int
	IncludeErrorLinks bool

	// Writer defaults to stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel maps the log-level flag to a slog level. Case and surrounding
// space are ignored, warning is accepted for warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q, want one of debug, info, warn, error", s)
	}
}
