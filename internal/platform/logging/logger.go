package logging

import (
	"log/slog"
	"os"

	"github.com/tanklink/tankbridge/internal/platform/correlation"
)

// Init initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func Init(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	handler = correlation.NewHandler(handler)

	slog.SetDefault(slog.New(handler))
}

// WithTank returns a logger with the tank_id field.
func WithTank(tankID string) *slog.Logger {
	return slog.Default().With("tank_id", tankID)
}

// WithSource returns a logger with the source_id field.
func WithSource(sourceID string) *slog.Logger {
	return slog.Default().With("source_id", sourceID)
}
