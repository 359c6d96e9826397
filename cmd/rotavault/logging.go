package main

import (
	"io"
	"log/slog"

	"github.com/ericfisherdev/rotavault/internal/config"
)

// newLogger builds the process logger. JSON suits log shippers; text is the
// default for terminals.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
