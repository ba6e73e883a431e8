// Package logger sets up structured JSON logging with log/slog.
// Packages log through the slog default with a "component" attribute.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init creates a JSON logger for service at the named level, writing to
// stdout, and installs it as the slog default.
func Init(service, level string) *slog.Logger {
	l := New(os.Stdout, service, ParseLevel(level))
	slog.SetDefault(l)
	return l
}

// New creates a JSON logger writing to w with the service name attached.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", service))
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a
// slog level. Anything else is info.
func ParseLevel(s string) slog.Level {
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
