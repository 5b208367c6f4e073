// Package logging builds the process logger: a JSON log file per run in the
// log directory, optionally mirrored as text on the console.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options configures New.
type Options struct {
	// Dir receives the log file; empty disables file logging.
	Dir string
	// Console mirrors records to Stderr as text.
	Console bool
	// Level is one of debug, info, warn, error (default info).
	Level string
	// Stderr is the console writer (default os.Stderr).
	Stderr io.Writer
	// Now stamps the log file name (default time.Now).
	Now func() time.Time
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", s)
	}
	return level, nil
}

// FileName returns the log file name for a start time.
func FileName(t time.Time) string {
	return "leapclean_" + t.Format("2006-01-02_150405") + ".log"
}

// New builds the logger. The returned close function flushes and closes the
// log file and is safe to call when no file was opened.
func New(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	closeFn := func() error { return nil }

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		path := filepath.Join(opts.Dir, FileName(now()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // path built from configured dir
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closeFn = f.Close
	}

	if opts.Console {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(w, handlerOpts))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.DiscardHandler), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(&fanout{handlers: handlers}), closeFn, nil
	}
}

// fanout sends every record to each handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanout{handlers: out}
}
