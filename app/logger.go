package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging contract shared by every package of the engine.
type Logger interface {
	Log(level, message string)
}

// SlogLogger adapts a slog.Logger to the Log(level, message) contract.
type SlogLogger struct {
	*slog.Logger
}

// NewLogger builds a text or JSON slog logger writing to w. A nil w means
// stderr. Unknown levels fall back to info.
func NewLogger(w io.Writer, format, level string) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{Logger: slog.New(handler)}
}

// NopLogger discards every message.
func NopLogger() *SlogLogger {
	return &SlogLogger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// Log implements Logger.
func (l *SlogLogger) Log(level, message string) {
	l.Logger.Log(context.Background(), parseLevel(level), message)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
