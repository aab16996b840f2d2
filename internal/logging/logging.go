// ABOUTME: slog logger construction and level parsing for errorlog binaries
// ABOUTME: Chooses between JSON output and the colorized text handler

package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel converts a string ("debug", "info", "warn", "error") to slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// New creates a logger writing to w. format "json" selects slog's JSON
// handler; anything else selects ColorHandler.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(NewColorHandler(w, level))
}
