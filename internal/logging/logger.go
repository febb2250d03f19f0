// Package logging builds the structured logger shared by the access layer,
// the storage backend and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// ServiceName is attached to every record.
const ServiceName = "localservice"

// New returns a logger configured by cfg. Output is "stderr" (default),
// "stdout" or "discard"; format is "text" (default) or "json".
func New(cfg types.LoggingConfig, version string) *slog.Logger {
	return NewWithWriter(cfg, version, writer(cfg.Output))
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg types.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return slog.New(handler)
}

func writer(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout
	case "discard", "none":
		return io.Discard
	default:
		return os.Stderr
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to warn so that CLI output stays clean.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
