// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"devsync/internal/config"
	"devsync/internal/metrics"
)

// ParseLevel maps debug|info|warn|error onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewHandler builds the handler described by cfg writing to w. Records at
// warn and above are counted in the log message metric.
func NewHandler(cfg config.LogConfig, w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		base = slog.NewTextHandler(w, opts)
	case "json":
		base = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return NewTeeHandler(base, slog.LevelWarn, countRecord), nil
}

// Setup installs the handler described by cfg, writing to stderr, as the
// default logger.
func Setup(cfg config.LogConfig) (*slog.Logger, error) {
	h, err := NewHandler(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

func countRecord(level slog.Level, _ string, _ string) {
	metrics.RecordLogMessage(strings.ToLower(level.String()))
}
