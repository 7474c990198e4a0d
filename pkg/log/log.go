// Package log configures the process-wide structured logger shared by the
// cadenza binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the slog default: text to stderr at the given level.
// Unrecognized names, including the empty string, mean info.
func Setup(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule tags a logger with the owning component, the same module
// attribute the packages attach to their own loggers.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
