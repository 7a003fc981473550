package git

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/go-diff/diff"

	"devsync/internal/apperr"
)

// Hunks splits the diff of rel into independently appliable hunks.
// staged selects HEAD vs index; otherwise index vs working tree.
// A file without differences yields an empty list.
func (r *Repository) Hunks(ctx context.Context, rel string, staged bool) (FileHunks, error) {
	if err := validateHunkPath(rel); err != nil {
		return FileHunks{}, err
	}
	fd, err := r.fileDiff(ctx, rel, staged)
	if err != nil {
		return FileHunks{}, err
	}

	fh := FileHunks{Path: "/" + rel, Staged: staged, Hunks: []Hunk{}}
	if fd == nil {
		return fh, nil
	}
	for i, h := range fd.Hunks {
		fh.Hunks = append(fh.Hunks, toHunk(i, h))
	}
	return fh, nil
}

// StageHunk applies one unstaged hunk of rel to the index.
func (r *Repository) StageHunk(ctx context.Context, rel string, index int, id string) error {
	return r.applyHunk(ctx, rel, index, id, false, "--cached")
}

// UnstageHunk reverts one staged hunk of rel in the index.
func (r *Repository) UnstageHunk(ctx context.Context, rel string, index int, id string) error {
	return r.applyHunk(ctx, rel, index, id, true, "--cached", "-R")
}

// DiscardHunk reverts one unstaged hunk of rel in the working tree.
func (r *Repository) DiscardHunk(ctx context.Context, rel string, index int, id string) error {
	return r.applyHunk(ctx, rel, index, id, false, "-R")
}

// applyHunk recomputes the diff, checks that hunk index still carries the
// content identified by id and applies it alone with git apply.
func (r *Repository) applyHunk(ctx context.Context, rel string, index int, id string, staged bool, applyArgs ...string) error {
	if err := validateHunkPath(rel); err != nil {
		return err
	}
	fd, err := r.fileDiff(ctx, rel, staged)
	if err != nil {
		return err
	}
	if fd == nil || index < 0 || index >= len(fd.Hunks) {
		return fmt.Errorf("hunk %d of %s no longer exists: %w", index, rel, apperr.ErrStaleHunk)
	}
	target := fd.Hunks[index]
	if hunkID(target) != id {
		return fmt.Errorf("hunk %d of %s has changed: %w", index, rel, apperr.ErrStaleHunk)
	}

	single := *fd
	single.Hunks = []*diff.Hunk{target}
	patch, err := diff.PrintFileDiff(&single)
	if err != nil {
		return fmt.Errorf("failed to build patch for %s: %w", rel, err)
	}

	args := append([]string{"apply"}, applyArgs...)
	args = append(args, "--whitespace=nowarn", "-")
	// Patch paths are relative to the repository top level.
	if _, err := runGitCLI(ctx, r.top, args, patch); err != nil {
		if isPatchRejected(err) {
			return fmt.Errorf("hunk %d of %s does not apply: %w", index, rel, apperr.ErrStaleHunk)
		}
		return fmt.Errorf("failed to apply hunk %d of %s: %w", index, rel, err)
	}
	return nil
}

// fileDiff returns the parsed diff of rel, or nil when there is none.
func (r *Repository) fileDiff(ctx context.Context, rel string, staged bool) (*diff.FileDiff, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	args = append(args,
		"--no-color", "--no-ext-diff", "--no-textconv", "--no-renames",
		"-U3", "--src-prefix=a/", "--dst-prefix=b/",
		"--", rel)
	output, err := r.runGitCommandRaw(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git diff %s: %w", rel, err)
	}
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, nil
	}

	fds, err := diff.ParseMultiFileDiff(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff of %s: %w", rel, err)
	}
	switch len(fds) {
	case 0:
		return nil, nil
	case 1:
		return fds[0], nil
	default:
		return nil, fmt.Errorf("%s spans %d files: %w", rel, len(fds), apperr.ErrInvalidInput)
	}
}

func toHunk(index int, h *diff.Hunk) Hunk {
	header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
	if h.Section != "" {
		header += " " + h.Section
	}
	body := strings.TrimSuffix(string(h.Body), "\n")
	lines := []string{}
	if body != "" {
		lines = strings.Split(body, "\n")
	}
	return Hunk{
		Index:    index,
		ID:       hunkID(h),
		Header:   header,
		OldStart: h.OrigStartLine,
		OldLines: h.OrigLines,
		NewStart: h.NewStartLine,
		NewLines: h.NewLines,
		Lines:    lines,
	}
}

// hunkID identifies a hunk by its body only, so it survives line shifts
// caused by applying neighbouring hunks.
func hunkID(h *diff.Hunk) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(h.Body))
}

func validateHunkPath(rel string) error {
	if err := ValidateRelPath(rel); err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("hunks of the workspace root: %w", apperr.ErrInvalidInput)
	}
	return nil
}

func isPatchRejected(err error) bool {
	cmdErr, ok := asCommandError(err)
	if !ok {
		return false
	}
	return strings.Contains(cmdErr.Stderr, "patch does not apply") ||
		strings.Contains(cmdErr.Stderr, "patch failed")
}
