package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogging installs the process logger writing to stdout and returns it.
func InitLogging(level, format string) (*slog.Logger, error) {
	return NewLogger(os.Stdout, level, format)
}

// NewLogger builds a text or JSON logger at the given level and makes it the
// slog default.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}
