package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"devsync/internal/apperr"
)

// Stage adds the working-tree state of rel to the index. Deleted files are
// staged as deletions.
func (r *Repository) Stage(ctx context.Context, rel string) error {
	if err := ValidateRelPath(rel); err != nil {
		return err
	}
	if _, err := r.runGitCommand(ctx, "add", "-A", "--", rel); err != nil {
		if isPathspecMiss(err) {
			return fmt.Errorf("stage %s: %w", rel, apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	return nil
}

// Unstage resets the index entry of rel to HEAD without touching the working
// tree. Before the first commit the entry is removed from the index instead.
func (r *Repository) Unstage(ctx context.Context, rel string) error {
	if err := ValidateRelPath(rel); err != nil {
		return err
	}
	if err := r.resetIndex(ctx, rel); err != nil {
		return fmt.Errorf("failed to unstage %s: %w", rel, err)
	}
	return nil
}

// Discard overwrites the working-tree copy of rel with its HEAD version.
// A file that does not exist at HEAD is removed from the working tree.
// The index is left untouched.
func (r *Repository) Discard(ctx context.Context, rel string) error {
	if err := ValidateRelPath(rel); err != nil {
		return err
	}
	hasCommits, err := r.HasCommits(ctx)
	if err != nil {
		return err
	}

	inHead := false
	if hasCommits {
		if rel == "." {
			inHead = true
		} else {
			objType, _, lookupErr := r.treeEntry(ctx, "HEAD", rel)
			if lookupErr != nil {
				return fmt.Errorf("failed to look up %s at HEAD: %w", rel, lookupErr)
			}
			inHead = objType != ""
		}
	}

	if inHead {
		if _, err := r.runGitCommand(ctx, "restore", "--source=HEAD", "--worktree", "--", rel); err != nil {
			return fmt.Errorf("failed to discard %s: %w", rel, err)
		}
		return nil
	}

	full := filepath.Join(r.path, filepath.FromSlash(rel))
	info, err := os.Lstat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("discard %s: %w", rel, apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to discard %s: %w", rel, err)
	}
	if info.IsDir() {
		return fmt.Errorf("discard %s: untracked directory: %w", rel, apperr.ErrInvalidInput)
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	r.removeEmptyParents(full)
	return nil
}

// StageAll stages every change in the workspace, including untracked files
// and deletions.
func (r *Repository) StageAll(ctx context.Context) error {
	if _, err := r.runGitCommand(ctx, "add", "-A", "--", "."); err != nil {
		return fmt.Errorf("failed to stage all changes: %w", err)
	}
	return nil
}

// UnstageAll resets the whole index to HEAD.
func (r *Repository) UnstageAll(ctx context.Context) error {
	if err := r.resetIndex(ctx, "."); err != nil {
		return fmt.Errorf("failed to unstage all changes: %w", err)
	}
	return nil
}

// DiscardAll restores every tracked file to its HEAD version and deletes
// files that do not exist at HEAD (untracked files and new additions).
// Paths for which skip returns true are never deleted.
func (r *Repository) DiscardAll(ctx context.Context, skip func(rel string) bool) error {
	st, err := r.Status(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, rec := range st.Changed {
		if rec.Conflicted {
			continue
		}
		newFile := rec.Working == StatusUntracked ||
			rec.Index == StatusAdded ||
			rec.Index == StatusRenamed
		if !newFile {
			continue
		}
		rel := strings.TrimPrefix(rec.Path, "/")
		if skip != nil && skip(rel) {
			continue
		}
		full := filepath.Join(r.path, filepath.FromSlash(rel))
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", rel, err))
			continue
		}
		r.removeEmptyParents(full)
	}
	if len(errs) > 0 {
		return fmt.Errorf("discard all: %w", errors.Join(errs...))
	}

	if !st.HasCommits {
		return nil
	}
	if _, err := r.runGitCommand(ctx, "restore", "--source=HEAD", "--worktree", "--", "."); err != nil {
		if isPathspecMiss(err) {
			// HEAD has no files under the workspace.
			return nil
		}
		return fmt.Errorf("failed to discard all changes: %w", err)
	}
	return nil
}

// Commit records the index as a new commit and returns its full hash.
func (r *Repository) Commit(ctx context.Context, message string) (string, error) {
	msg, err := NormalizeCommitMessage(message)
	if err != nil {
		return "", err
	}
	staged, err := r.hasStagedChanges(ctx)
	if err != nil {
		return "", err
	}
	if !staged {
		return "", apperr.ErrEmptyCommit
	}

	if _, err := r.runGitCommandInput(ctx, []byte(msg+"\n"), "commit", "-q", "--cleanup=whitespace", "-F", "-"); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	hash, err := r.runGitCommand(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read new commit id: %w", err)
	}
	slog.Debug("[DEBUG-GIT] commit created", "hash", hash, "path", r.path)
	return hash, nil
}

// hasStagedChanges reports whether the index differs from HEAD anywhere in
// the repository. Commits cover the whole index, not just the workspace.
func (r *Repository) hasStagedChanges(ctx context.Context) (bool, error) {
	hasCommits, err := r.HasCommits(ctx)
	if err != nil {
		return false, err
	}
	if !hasCommits {
		out, err := runGitCLI(ctx, r.top, []string{"ls-files", "--cached"}, nil)
		if err != nil {
			return false, fmt.Errorf("failed to list index: %w", err)
		}
		return strings.TrimSpace(string(out)) != "", nil
	}

	_, err = r.runGitCommand(ctx, "diff", "--cached", "--quiet", "--no-ext-diff")
	if err == nil {
		return false, nil
	}
	if exitCode(err) == 1 {
		return true, nil
	}
	return false, fmt.Errorf("failed to inspect index: %w", err)
}

// resetIndex restores the index entries under rel to HEAD.
func (r *Repository) resetIndex(ctx context.Context, rel string) error {
	hasCommits, err := r.HasCommits(ctx)
	if err != nil {
		return err
	}
	if hasCommits {
		_, err = r.runGitCommand(ctx, "reset", "-q", "HEAD", "--", rel)
		return err
	}
	_, err = r.runGitCommand(ctx, "rm", "--cached", "-r", "-q", "--ignore-unmatch", "--", rel)
	return err
}

// removeEmptyParents deletes now-empty directories between the removed file
// and the workspace root.
func (r *Repository) removeEmptyParents(removed string) {
	for dir := filepath.Dir(removed); dir != r.path && strings.HasPrefix(dir, r.path); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// isPathspecMiss reports git's "pathspec ... did not match any file(s)" error.
func isPathspecMiss(err error) bool {
	cmdErr, ok := asCommandError(err)
	return ok && strings.Contains(cmdErr.Stderr, "did not match any")
}
