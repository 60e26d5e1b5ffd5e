// Package logger provides the process-wide slog logger and shared log attrs.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root logger. Level comes from LOG_LEVEL; the handler
// is JSON in production (GO_ENV=production) and text otherwise.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// Scope returns the standard attr identifying the subsystem a log line
// originates from.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error returns the standard attr for attaching an error to a log line.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
