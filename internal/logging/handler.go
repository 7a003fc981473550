package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// RecordCallback is invoked for each log record at or above a TeeHandler's
// threshold.
// Parameters:
//   - level: severity level of the record
//   - msg: the log message text, including its bracket tag such as [WORKSPACE]
//   - group: the accumulated handler group name (dot-separated) or "".
//     NOTE: the name follows slog terminology. The metrics callback ignores
//     it and counts by level only, because group names are unbounded and
//     would explode the label set.
type RecordCallback func(level slog.Level, msg string, group string)

// TeeHandler wraps a base [slog.Handler] and tees records at or above minLevel
// to a callback. Every record is forwarded to the base handler regardless of
// level; only the callback is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback RecordCallback
	minLevel slog.Level
	group    string // accumulated dot-separated slog group name
}

// NewTeeHandler creates a TeeHandler that delegates to base and invokes
// callback for every record whose level is >= minLevel.
//
// Passing a nil callback is safe; the handler then only delegates to base.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback RecordCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Enabled reports whether the base handler is enabled for the given level.
// minLevel does not affect this; the base handler alone decides visibility,
// so a warn threshold never hides debug output configured on the base.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then invokes the callback
// if the record's level meets or exceeds minLevel.
//
// NOTE: the callback runs regardless of the base handler error. Counting a
// warning must not depend on stderr being writable, and a broken sink is
// exactly when the counter matters. The callback never sees the base error;
// it only observes the record.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// NOTE: stderr, not slog. Logging here would re-enter this
					// handler. The base handler result is still returned.
					fmt.Fprintf(os.Stderr, "[logging] callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(record.Level, record.Message, h.group)
		}()
	}

	// Returning the base error lets slog.Logger report it on stderr as its
	// internal fallback ("slog: <error>"), keeping sink failures visible.
	return err
}

// WithAttrs returns a TeeHandler whose base handler carries attrs. The
// callback, minLevel and accumulated group are preserved.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    h.group,
	}
}

// WithGroup returns a TeeHandler whose base handler is wrapped with the given
// group name. The name is appended to the accumulated group, separated by "."
// when a prefix already exists.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h // slog.Handler contract: empty group name returns the receiver.
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}

	return &TeeHandler{
		base:     h.base.WithGroup(name),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    newGroup,
	}
}
