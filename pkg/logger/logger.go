package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog.Logger on stdout whose records carry the service name and the
// deployment environment (APP_ENV).
func New(service, environment string, level slog.Level) *slog.Logger {
	return newLogger(os.Stdout, service, environment, level)
}

func newLogger(w io.Writer, service, environment string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	attrs := []any{"service", service}
	if environment != "" {
		attrs = append(attrs, "env", environment)
	}
	return slog.New(h).With(attrs...)
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
