// Package repolog wires the repository's structured logging: a slog JSON
// handler over a rotating file, following the same rotate-don't-grow-forever
// posture the teacher's long-running daemon components take for their own
// log files.
package repolog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the default logger. A zero value logs JSON to stderr
// with no rotation, which is fine for short-lived test processes.
type Options struct {
	// Path, if non-empty, routes log output through a lumberjack rotator
	// instead of stderr.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// New builds a logger per Options. Call once per repository instance and
// thread the *slog.Logger through constructors rather than relying on a
// package-level default, so multiple repositories in one process (as in
// tests) don't interleave.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		w = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    nonZero(opts.MaxSizeMB, 10),
			MaxBackups: nonZero(opts.MaxBackups, 3),
			MaxAge:     nonZero(opts.MaxAgeDays, 28),
			Compress:   true,
		}
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(h)
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Discard is a logger that drops everything; useful as a constructor default
// so every component can always log to *something* without a nil check.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))
