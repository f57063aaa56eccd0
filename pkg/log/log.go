package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var (
	DefaultLogger = slog.Default()
)

// Logger is an interface that provides methods for logging messages with different severity levels.
type Logger interface {
	// Debug logs a debug message with optional keys and values.
	Debug(msg string, keysAndValues ...any)
	// Info logs an informational message with optional keys and values.
	Info(msg string, keysAndValues ...any)
	// Warn logs a warning message with optional keys and values.
	Warn(msg string, keysAndValues ...any)
	// Error logs an error message with optional keys and values.
	Error(msg string, keysAndValues ...any)
}

// New returns a text logger writing to w at the named level
// (debug, info, warn or error).
func New(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "", "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
