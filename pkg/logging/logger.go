// Package logging provides the single structured logger threaded explicitly
// into every validator and into the signer — there is deliberately no
// package-level logger singleton, so that tests stay deterministic and so
// that a ceremony's log output is attributable to one *slog.Logger value
// built once in main.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config holds logging configuration, set from the CLI's --debug/--syslog
// flags (spec §6) rather than from the ceremony config file.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Syslog bool   // write to syslog instead of stdout
}

// NewLogger creates a configured slog.Logger based on the provided config,
// stamping every record with a "run_id" attribute so a single ceremony's
// output can be correlated across a log aggregator even when interleaved
// with other runs.
func NewLogger(cfg Config) (*slog.Logger, error) {
	w, err := outputWriter(cfg)
	if err != nil {
		return nil, err
	}
	base, err := NewLoggerWithWriter(cfg, w)
	if err != nil {
		return nil, err
	}
	return base.With(slog.String("run_id", uuid.NewString())), nil
}

// NewLoggerWithWriter creates a configured slog.Logger writing to the
// specified writer, without a run_id attribute. Used directly by tests.
func NewLoggerWithWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %q (supported: text, json)", cfg.Format)
	}

	return slog.New(handler), nil
}

// outputWriter picks stdout or a syslog writer. No third-party syslog
// client appears anywhere in the retrieval pack, so this uses the stdlib
// log/syslog writer directly (documented in SPEC_FULL.md).
func outputWriter(cfg Config) (io.Writer, error) {
	if !cfg.Syslog {
		return os.Stdout, nil
	}
	w, err := syslog.New(syslog.LOG_NOTICE|syslog.LOG_DAEMON, "ksrsign")
	if err != nil {
		return nil, fmt.Errorf("logging: connect to syslog: %w", err)
	}
	return w, nil
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) (slog.Level, error) {
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
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q (supported: debug, info, warn, error)", level)
	}
}
