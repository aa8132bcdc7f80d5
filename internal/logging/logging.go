// Package logging wraps log/slog construction so components receive a
// configured logger via DI instead of reaching for a global.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger; components take it as a constructor arg
// and narrow scope with logger.With("component", ...).
type Logger = *slog.Logger

type Config struct {
	Level slog.Level
	JSON  bool
}

func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// NewNop discards everything; test use only.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
