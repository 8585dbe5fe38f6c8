// Package logging builds the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger returns a text or JSON logger writing to w at the given level.
func Logger(w io.Writer, json bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Rotating returns a size-capped, self-rotating log file writer.
func Rotating(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
}
