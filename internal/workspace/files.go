package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"devsync/internal/apperr"
	"devsync/internal/changebus"
	"devsync/internal/sandbox"
)

const (
	// MaxReadSize is the largest content ReadFile returns; longer files are truncated.
	MaxReadSize int64 = 1 << 20
	// MaxWriteSize bounds the content accepted by WriteFile.
	MaxWriteSize = 10 << 20
	// binarySniffSize is the number of bytes scanned to detect binary content.
	binarySniffSize = 8192
)

// FileContent is the content of one file read from disk.
type FileContent struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	LineCount int    `json:"lineCount"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
	Binary    bool   `json:"binary"`
}

// ReadFile returns the content of the file at virtualPath.
// Files exceeding MaxReadSize are truncated. Binary files are detected by
// scanning the first 8KB for NUL bytes and returned without content.
func (e *Engine) ReadFile(_ context.Context, virtualPath string) (FileContent, error) {
	p, err := e.sandbox.Resolve(virtualPath)
	if err != nil {
		return FileContent{}, err
	}
	if err := e.checkExcluded(p); err != nil {
		return FileContent{}, err
	}

	info, err := os.Stat(p.Real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileContent{}, fmt.Errorf("read %s: %w", p.Virtual, apperr.ErrNotFound)
		}
		return FileContent{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return FileContent{}, fmt.Errorf("path is a directory, not a file: %s: %w", p.Virtual, apperr.ErrInvalidInput)
	}

	result := FileContent{Path: p.Virtual, Size: info.Size()}

	f, err := os.Open(p.Real)
	if err != nil {
		return FileContent{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, min(int64(binarySniffSize), info.Size()))
	headN, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FileContent{}, fmt.Errorf("failed to read file head: %w", err)
	}
	head = head[:headN]
	if bytes.IndexByte(head, 0) >= 0 {
		result.Binary = true
		return result, nil
	}

	// One extra byte beyond the limit detects truncation.
	remainLimit := max(MaxReadSize-int64(headN), 0)
	remainder, err := io.ReadAll(io.LimitReader(f, remainLimit+1))
	if err != nil {
		return FileContent{}, fmt.Errorf("failed to read file: %w", err)
	}
	data := append(head, remainder...)
	if int64(len(data)) > MaxReadSize {
		data = data[:MaxReadSize]
		result.Truncated = true
	}

	result.Content = string(data)
	result.LineCount = strings.Count(result.Content, "\n") + 1
	return result, nil
}

// WriteFile replaces the content of the file at virtualPath, creating it and
// its parent directories when needed, and publishes a file-change event.
// Writes to the same path are serialized with each other and with repository
// mutations of that path.
func (e *Engine) WriteFile(_ context.Context, virtualPath, content string) error {
	if len(content) > MaxWriteSize {
		return fmt.Errorf("content exceeds %d bytes: %w", MaxWriteSize, apperr.ErrInvalidInput)
	}
	p, err := e.sandbox.Resolve(virtualPath)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("cannot write the workspace root: %w", apperr.ErrInvalidInput)
	}
	if err := e.checkExcluded(p); err != nil {
		return err
	}

	e.repoMu.RLock()
	defer e.repoMu.RUnlock()
	unlock := e.locks.Lock(p.Rel)
	defer unlock()

	if info, err := os.Stat(p.Real); err == nil && info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s: %w", p.Virtual, apperr.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(p.Real), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(p.Real, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	slog.Debug("[WORKSPACE] file written", "path", p.Virtual, "bytes", len(content))
	e.bus.Publish(changebus.FileChanged(p.Virtual))
	return nil
}

// checkExcluded rejects paths below an excluded directory and paths naming an
// existing excluded directory. A regular file that merely shares an excluded
// name, such as a script called build, is allowed.
func (e *Engine) checkExcluded(p sandbox.Path) error {
	if e.excluder.InExcludedDir(p.Rel) {
		return fmt.Errorf("path %s is inside an excluded directory: %w", p.Virtual, apperr.ErrInvalidInput)
	}
	if !e.excluder.IsExcludedDir(path.Base(p.Rel)) {
		return nil
	}
	if info, err := os.Lstat(p.Real); err == nil && info.IsDir() {
		return fmt.Errorf("path %s is an excluded directory: %w", p.Virtual, apperr.ErrInvalidInput)
	}
	return nil
}
