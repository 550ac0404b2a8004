package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component tags every record with the subsystem that emitted it.
type Component string

const (
	ComponentDevice    Component = "device"
	ComponentBus       Component = "bus"
	ComponentControl   Component = "control"
	ComponentClass     Component = "class"
	ComponentEcho      Component = "echo"
	ComponentIndicator Component = "indicator"
	ComponentBoard     Component = "board"
	ComponentHAL       Component = "hal"
	ComponentHost      Component = "host"
	ComponentProf      Component = "prof"
)

// LogFormat selects the slog handler.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

// logLevel is shared by every logger built with nil options, so
// SetLogLevel takes effect without replacing the logger.
var (
	logLevel = new(slog.LevelVar)
	current  atomic.Pointer[slog.Logger]
)

func init() {
	logLevel.Set(slog.LevelWarn)
	current.Store(NewLogger(os.Stderr, LogFormatText, nil))
}

// Logger returns the logger behind LogDebug and friends.
func Logger() *slog.Logger { return current.Load() }

// SetLogger replaces the logger. A nil logger is ignored.
func SetLogger(l *slog.Logger) {
	if l != nil {
		current.Store(l)
	}
}

// SetLogFormat switches the stderr logger between text and JSON output.
func SetLogFormat(format LogFormat) {
	current.Store(NewLogger(os.Stderr, format, nil))
}

func SetLogLevel(level slog.Level) { logLevel.Set(level) }
func GetLogLevel() slog.Level      { return logLevel.Level() }

// NewLogger builds a logger writing to w. With nil opts it follows
// SetLogLevel.
func NewLogger(w io.Writer, format LogFormat, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Enabled reports whether the shared level admits level. The busy-poll
// loop checks it before building debug arguments.
func Enabled(level slog.Level) bool {
	return logLevel.Level() <= level
}

func logAt(level slog.Level, c Component, msg string, args []any) {
	l := current.Load()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, msg, append([]any{"component", string(c)}, args...)...)
}

func LogDebug(c Component, msg string, args ...any) { logAt(slog.LevelDebug, c, msg, args) }
func LogInfo(c Component, msg string, args ...any)  { logAt(slog.LevelInfo, c, msg, args) }
func LogWarn(c Component, msg string, args ...any)  { logAt(slog.LevelWarn, c, msg, args) }
func LogError(c Component, msg string, args ...any) { logAt(slog.LevelError, c, msg, args) }
