package git

import (
	"fmt"
	"path"
	"strings"

	"devsync/internal/apperr"
)

// ValidateRelPath validates a workspace-relative, slash-separated path before
// it is handed to git. "." names the workspace root.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("path cannot be empty: %w", apperr.ErrInvalidInput)
	}
	if strings.ContainsRune(rel, '\x00') {
		return fmt.Errorf("invalid path: contains null byte: %w", apperr.ErrInvalidInput)
	}
	if strings.HasPrefix(rel, "/") {
		return fmt.Errorf("invalid path %q: must be relative: %w", rel, apperr.ErrInvalidInput)
	}
	if path.Clean(rel) != rel {
		return fmt.Errorf("invalid path %q: not normalized: %w", rel, apperr.ErrInvalidInput)
	}
	for segment := range strings.SplitSeq(rel, "/") {
		if segment == ".." {
			return fmt.Errorf("invalid path %q: must not contain '..' path segment: %w", rel, apperr.ErrInvalidInput)
		}
	}
	return nil
}

// NormalizeCommitMessage trims surrounding whitespace from message and
// rejects messages that are empty afterwards.
func NormalizeCommitMessage(message string) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", apperr.ErrInvalidMessage
	}
	if strings.ContainsRune(trimmed, '\x00') {
		return "", fmt.Errorf("commit message contains null byte: %w", apperr.ErrInvalidInput)
	}
	return trimmed, nil
}
