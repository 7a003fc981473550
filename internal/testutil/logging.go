package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

// LogBuffer is a goroutine-safe sink for captured log output. Watcher and
// websocket goroutines log while tests read.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogBuffer redirects the default slog logger to an in-memory buffer and
// restores the original logger in t.Cleanup.
func CaptureLogBuffer(t *testing.T, level slog.Level) *LogBuffer {
	t.Helper()
	originalLogger := slog.Default()
	logBuf := &LogBuffer{}
	slog.SetDefault(slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() {
		slog.SetDefault(originalLogger)
	})
	return logBuf
}
