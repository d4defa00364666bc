// Package logger configures the structured slog logger used by the
// HTTP surfaces. Pipeline components log through the standard log
// package; request-scoped logging goes through slog so access lines
// are machine-parseable.
package logger

import (
	"log/slog"
	"os"
)

// Init creates a JSON slog logger tagged with the service name and
// installs it as the process default.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a level name to its slog level, defaulting to Info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
