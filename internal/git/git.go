package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"devsync/internal/apperr"
)

// Open opens the repository containing path using CLI-only detection.
// A directory that is not inside a work tree yields apperr.ErrRepoUnavailable.
func Open(ctx context.Context, path string) (*Repository, error) {
	start := time.Now()
	defer func() {
		slog.Debug("[DEBUG-GIT] Open repository",
			"duration_ms", time.Since(start).Milliseconds(),
			"path", path)
	}()

	output, err := runGitCLI(ctx, path, []string{"rev-parse", "--show-toplevel", "--show-prefix"}, nil)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", path, errors.Join(apperr.ErrRepoUnavailable, err))
	}
	lines := strings.Split(strings.TrimRight(string(output), "\r\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		// Inside .git or a bare repository: no work tree to operate on.
		return nil, fmt.Errorf("no work tree at %s: %w", path, apperr.ErrRepoUnavailable)
	}
	repo := &Repository{path: path, top: filepath.FromSlash(strings.TrimSpace(lines[0]))}
	if len(lines) > 1 {
		repo.prefix = strings.TrimSpace(lines[1])
	}
	return repo, nil
}

// CurrentBranch returns the name of the current branch, or empty string if detached HEAD.
// On an unborn branch the symbolic name is still returned.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.runGitCommand(ctx, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if isQuietMiss(err) {
			return "", nil // detached HEAD
		}
		return "", err
	}
	return output, nil
}

// HasCommits reports whether HEAD points at a commit.
func (r *Repository) HasCommits(ctx context.Context) (bool, error) {
	_, err := r.runGitCommand(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	if err == nil {
		return true, nil
	}
	if isQuietMiss(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify HEAD commit: %w", err)
}

// treeEntry looks rel up in the tree of rev and returns its object type
// ("blob", "tree", "commit") and id. Both are empty when rel is absent.
func (r *Repository) treeEntry(ctx context.Context, rev, rel string) (objType, oid string, err error) {
	out, err := r.runGitCommandRaw(ctx, "ls-tree", "-z", rev, "--", rel)
	if err != nil {
		return "", "", err
	}
	for entry := range strings.SplitSeq(string(out), "\x00") {
		meta, entryPath, ok := strings.Cut(entry, "\t")
		if !ok || entryPath != rel {
			continue
		}
		// <mode> SP <type> SP <object>
		fields := strings.Fields(meta)
		if len(fields) == 3 {
			return fields[1], fields[2], nil
		}
	}
	return "", "", nil
}

// indexEntry returns the stage-0 blob id recorded in the index for rel,
// or "" when rel is not staged as a file.
func (r *Repository) indexEntry(ctx context.Context, rel string) (string, error) {
	out, err := r.runGitCommandRaw(ctx, "ls-files", "--stage", "-z", "--", rel)
	if err != nil {
		return "", err
	}
	for entry := range strings.SplitSeq(string(out), "\x00") {
		meta, entryPath, ok := strings.Cut(entry, "\t")
		if !ok || entryPath != rel {
			continue
		}
		// <mode> SP <object> SP <stage>
		fields := strings.Fields(meta)
		if len(fields) == 3 && fields[2] == "0" {
			return fields[1], nil
		}
	}
	return "", nil
}

// toWorkspaceRel converts a repository-relative path reported by git into a
// workspace-relative one. ok is false for paths outside the workspace.
func (r *Repository) toWorkspaceRel(repoRel string) (string, bool) {
	if r.prefix == "" {
		return repoRel, true
	}
	rest, found := strings.CutPrefix(repoRel, r.prefix)
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}
