// Package logging builds the process logger and the per-component loggers
// derived from it.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ComponentKey is the attribute that names the subsystem a record came from.
const ComponentKey = "component"

// New returns a logger writing to stderr and, when logFile is set, appending
// to that file as well. format is "text" or "json" (the default). The logger
// also becomes the slog default. Callers must defer the returned cleanup.
func New(level, format, logFile string) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stderr
	cleanup := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stderr, f)
		cleanup = func() { _ = f.Close() }
	}

	logger := slog.New(newHandler(w, level, format))
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// Component tags every record from logger with the subsystem name. A nil
// logger falls back to the slog default.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(ComponentKey, name)
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
