// Package log provides a small factory for the coordinator's structured
// slog loggers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Attribute keys shared by every component so log lines can be joined on
// a connection or tunnel.
const (
	KeyConnID    = "conn_id"
	KeyUserID    = "user_id"
	KeySubdomain = "subdomain"
	KeyPort      = "port"
	KeyStep      = "step"
	KeyErr       = "err"
)

// New creates a [slog.Logger] that writes to stdout at the given level
// (one of "debug", "info", "warn", "error"; defaults to info). A format of
// "json" selects the JSON handler, anything else the text handler.
func New(level, format string) *slog.Logger {
	return NewWriter(os.Stdout, level, format)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to its slog value.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
