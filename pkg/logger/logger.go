// Package logger builds the process-wide slog logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

type Options struct {
	AddSource bool
	Level     string
	// Format is json (default) or text.
	Format string
	// Output defaults to stdout.
	Output io.Writer
}

// New builds a logger from opt and installs it as the slog default.
// An unknown level or format falls back to info or json and is reported in the error.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, fmt.Errorf("logger options are required")
	}

	out := opt.Output
	if out == nil {
		out = os.Stdout
	}

	level, levelErr := ParseLevel(opt.Level)

	opts := &slog.HandlerOptions{
		AddSource: opt.AddSource,
		Level:     level,
	}

	var (
		handler   slog.Handler
		formatErr error
	)

	switch strings.ToLower(opt.Format) {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	case FormatJSON, "":
		handler = slog.NewJSONHandler(out, opts)
	default:
		formatErr = fmt.Errorf("unknown log format: %q", opt.Format)
		handler = slog.NewJSONHandler(out, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log, errors.Join(levelErr, formatErr)
}

// ParseLevel converts a string level to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}
