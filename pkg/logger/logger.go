// Package logger configures the process-wide slog logger and carries
// per-table attributes through a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type tableKey struct{}

// Setup installs the default logger writing to stdout.
func Setup(level string, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger for w. format is "json" or "text".
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithTable returns a context whose logger carries the table being drained.
func WithTable(ctx context.Context, table string) context.Context {
	return context.WithValue(ctx, tableKey{}, table)
}

// Table returns the table stored in ctx by WithTable, or "".
func Table(ctx context.Context) string {
	table, _ := ctx.Value(tableKey{}).(string)
	return table
}

// FromContext returns the default logger, annotated with the table stored in
// ctx if any.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if table, ok := ctx.Value(tableKey{}).(string); ok {
		logger = logger.With("table", table)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
