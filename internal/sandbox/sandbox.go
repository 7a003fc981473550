// Package sandbox maps client-supplied virtual paths onto the workspace root
// and rejects every path that would leave it.
//
// Virtual paths are slash-separated and rooted at "/". Resolution joins the
// path onto the root, checks containment lexically (no filesystem access on
// violation) and then resolves symlinks on the longest existing prefix so a
// link pointing outside the root cannot be used to escape it.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"devsync/internal/apperr"
)

// Path is the result of resolving a virtual path.
type Path struct {
	// Virtual is the normalized virtual path ("/" for the root).
	Virtual string
	// Rel is the slash-separated path relative to the root ("." for the root).
	Rel string
	// Real is the absolute, symlink-resolved filesystem location.
	Real string
}

// IsRoot reports whether p names the workspace root itself.
func (p Path) IsRoot() bool {
	return p.Rel == "."
}

// Sandbox resolves virtual paths against a fixed workspace root.
type Sandbox struct {
	root string
}

// New returns a Sandbox rooted at root. The root must be an existing directory;
// it is made absolute and resolved through symlinks once, at construction.
func New(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox: workspace root is empty: %w", apperr.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root %q: %w", root, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root %q: %w", root, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("sandbox: stat root %q: %w", real, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: root %q is not a directory: %w", real, apperr.ErrInvalidInput)
	}
	return &Sandbox{root: filepath.Clean(real)}, nil
}

// Root returns the absolute, symlink-free workspace root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps virtualPath onto the filesystem.
// Fails with apperr.ErrInvalidInput for malformed input and with
// apperr.ErrOutsideWorkspace when the path escapes the root.
func (s *Sandbox) Resolve(virtualPath string) (Path, error) {
	if err := validateVirtualPath(virtualPath); err != nil {
		return Path{}, err
	}

	joined := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(virtualPath, "/")))
	rel, ok := relWithin(s.root, joined)
	if !ok {
		return Path{}, fmt.Errorf("resolve %q: %w", virtualPath, apperr.ErrOutsideWorkspace)
	}

	real, err := s.resolveSymlinks(joined)
	if err != nil {
		return Path{}, fmt.Errorf("resolve %q: %w", virtualPath, err)
	}

	return Path{
		Virtual: virtualFromRel(rel),
		Rel:     filepath.ToSlash(rel),
		Real:    real,
	}, nil
}

// VirtualPath converts an absolute filesystem location under the root back
// into its virtual path.
func (s *Sandbox) VirtualPath(realPath string) (string, error) {
	rel, ok := relWithin(s.root, filepath.Clean(realPath))
	if !ok {
		return "", fmt.Errorf("virtual path for %q: %w", realPath, apperr.ErrOutsideWorkspace)
	}
	return virtualFromRel(rel), nil
}

func validateVirtualPath(virtualPath string) error {
	if virtualPath == "" {
		return fmt.Errorf("path is empty: %w", apperr.ErrInvalidInput)
	}
	if !strings.HasPrefix(virtualPath, "/") {
		return fmt.Errorf("path %q must start with '/': %w", virtualPath, apperr.ErrInvalidInput)
	}
	if strings.ContainsRune(virtualPath, '\x00') {
		return fmt.Errorf("path contains null byte: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// resolveSymlinks evaluates symlinks on the longest existing prefix of path
// and verifies the result is still inside the root. Missing trailing
// components are appended unchanged, so paths about to be created resolve.
func (s *Sandbox) resolveSymlinks(path string) (string, error) {
	existing := path
	var tail []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if existing == s.root {
			// The root vanished underneath us.
			return "", fmt.Errorf("workspace root missing: %w", apperr.ErrNotFound)
		}
		tail = append(tail, filepath.Base(existing))
		existing = filepath.Dir(existing)
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Dangling link: its final location cannot be proven to lie inside the root.
			return "", apperr.ErrOutsideWorkspace
		}
		return "", err
	}
	for i := len(tail) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, tail[i])
	}
	if _, ok := relWithin(s.root, resolved); !ok {
		return "", apperr.ErrOutsideWorkspace
	}
	return resolved, nil
}

// relWithin returns path relative to base when path is base or one of its
// descendants. The comparison is per path segment, so "/ws-evil" is not
// inside "/ws".
func relWithin(base, path string) (string, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	// filepath.Rel returns an absolute path across Windows volumes.
	if filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

func virtualFromRel(rel string) string {
	if rel == "." || rel == "" {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
