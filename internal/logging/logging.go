package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a slog logger and sets it as the default.
// format is "json" or "text" (default); text output includes source locations.
// level is any slog level name ("debug", "info", "warn", "error"); unknown values mean debug.
func New(format, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, format, level)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		opts.AddSource = true
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a level name to a slog.Level, defaulting to debug.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelDebug
	}
	return l
}
