package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"devsync/internal/apperr"
	"devsync/internal/changebus"
	"devsync/internal/git"
)

// repository returns the repository of the workspace. A successful open is
// cached; a failure is retried on the next call so a repository initialized
// after startup is picked up.
func (e *Engine) repository(ctx context.Context) (*git.Repository, error) {
	e.repoOpenMu.Lock()
	defer e.repoOpenMu.Unlock()
	if e.repo != nil {
		return e.repo, nil
	}
	repo, err := git.Open(ctx, e.sandbox.Root())
	if err != nil {
		return nil, err
	}
	e.repo = repo
	slog.Debug("[WORKSPACE] repository opened", "top", repo.TopLevel())
	return repo, nil
}

// repoPath resolves virtualPath for a repository operation and returns its
// workspace-relative form. The root and excluded paths such as .git are
// rejected.
func (e *Engine) repoPath(virtualPath string) (string, error) {
	p, err := e.sandbox.Resolve(virtualPath)
	if err != nil {
		return "", err
	}
	if p.IsRoot() {
		return "", fmt.Errorf("repository operation on the workspace root: %w", apperr.ErrInvalidInput)
	}
	if err := e.checkExcluded(p); err != nil {
		return "", err
	}
	return p.Rel, nil
}

// Status reports every changed path.
func (e *Engine) Status(ctx context.Context) (git.Status, error) {
	repo, err := e.repository(ctx)
	if err != nil {
		return git.Status{}, err
	}
	return repo.Status(ctx)
}

// Versions returns the HEAD, index and working content of one file.
func (e *Engine) Versions(ctx context.Context, virtualPath string) (git.FileVersions, error) {
	rel, err := e.repoPath(virtualPath)
	if err != nil {
		return git.FileVersions{}, err
	}
	repo, err := e.repository(ctx)
	if err != nil {
		return git.FileVersions{}, err
	}
	return repo.Versions(ctx, rel)
}

// Summary returns the branch overview and last commit.
func (e *Engine) Summary(ctx context.Context) (git.Summary, error) {
	repo, err := e.repository(ctx)
	if err != nil {
		return git.Summary{}, err
	}
	return repo.Summary(ctx)
}

// Log returns up to limit commits reachable from HEAD.
func (e *Engine) Log(ctx context.Context, limit int) ([]git.Commit, error) {
	repo, err := e.repository(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Log(ctx, limit)
}

// Hunks lists the staged or unstaged hunks of one file.
func (e *Engine) Hunks(ctx context.Context, virtualPath string, staged bool) (git.FileHunks, error) {
	rel, err := e.repoPath(virtualPath)
	if err != nil {
		return git.FileHunks{}, err
	}
	repo, err := e.repository(ctx)
	if err != nil {
		return git.FileHunks{}, err
	}
	return repo.Hunks(ctx, rel, staged)
}

// Stage adds the current working state of one path to the index.
func (e *Engine) Stage(ctx context.Context, virtualPath string) error {
	return e.mutatePath(ctx, "stage", virtualPath, func(repo *git.Repository, rel string) error {
		return repo.Stage(ctx, rel)
	})
}

// Unstage resets the index entry of one path to HEAD.
func (e *Engine) Unstage(ctx context.Context, virtualPath string) error {
	return e.mutatePath(ctx, "unstage", virtualPath, func(repo *git.Repository, rel string) error {
		return repo.Unstage(ctx, rel)
	})
}

// Discard restores one path to its HEAD content, removing it when it does not
// exist at HEAD.
func (e *Engine) Discard(ctx context.Context, virtualPath string) error {
	return e.mutatePath(ctx, "discard", virtualPath, func(repo *git.Repository, rel string) error {
		return repo.Discard(ctx, rel)
	})
}

// StageHunk stages one unstaged hunk identified by index and id.
func (e *Engine) StageHunk(ctx context.Context, virtualPath string, index int, id string) error {
	return e.mutatePath(ctx, "stage-hunk", virtualPath, func(repo *git.Repository, rel string) error {
		return repo.StageHunk(ctx, rel, index, id)
	})
}

// UnstageHunk removes one staged hunk from the index.
func (e *Engine) UnstageHunk(ctx context.Context, virtualPath string, index int, id string) error {
	return e.mutatePath(ctx, "unstage-hunk", virtualPath, func(repo *git.Repository, rel string) error {
		return repo.UnstageHunk(ctx, rel, index, id)
	})
}

// DiscardHunk reverts one unstaged hunk in the working tree.
func (e *Engine) DiscardHunk(ctx context.Context, virtualPath string, index int, id string) error {
	return e.mutatePath(ctx, "discard-hunk", virtualPath, func(repo *git.Repository, rel string) error {
		return repo.DiscardHunk(ctx, rel, index, id)
	})
}

// StageAll stages every change in the workspace.
func (e *Engine) StageAll(ctx context.Context) error {
	return e.mutateRepo(ctx, "stage-all", func(repo *git.Repository) error {
		return repo.StageAll(ctx)
	})
}

// UnstageAll resets the index to HEAD.
func (e *Engine) UnstageAll(ctx context.Context) error {
	return e.mutateRepo(ctx, "unstage-all", func(repo *git.Repository) error {
		return repo.UnstageAll(ctx)
	})
}

// DiscardAll restores the working tree to HEAD. Files below excluded
// directories are never deleted.
func (e *Engine) DiscardAll(ctx context.Context) error {
	return e.mutateRepo(ctx, "discard-all", func(repo *git.Repository) error {
		return repo.DiscardAll(ctx, e.excluder.InExcludedDir)
	})
}

// Commit records the index with message and returns the new commit hash.
func (e *Engine) Commit(ctx context.Context, message string) (string, error) {
	var hash string
	err := e.mutateRepo(ctx, "commit", func(repo *git.Repository) error {
		h, err := repo.Commit(ctx, message)
		hash = h
		return err
	})
	return hash, err
}

// mutatePath runs a single-path repository mutation under the path's lock and
// the read side of the repository lock, then publishes a repository event.
func (e *Engine) mutatePath(ctx context.Context, op, virtualPath string, fn func(*git.Repository, string) error) error {
	rel, err := e.repoPath(virtualPath)
	if err != nil {
		return err
	}
	repo, err := e.repository(ctx)
	if err != nil {
		return err
	}

	e.repoMu.RLock()
	defer e.repoMu.RUnlock()
	unlock := e.locks.Lock(rel)
	defer unlock()

	start := time.Now()
	if err := fn(repo, rel); err != nil {
		return err
	}
	slog.Debug("[WORKSPACE] repository mutation",
		"op", op,
		"path", "/"+rel,
		"duration_ms", time.Since(start).Milliseconds())
	e.bus.Publish(changebus.RepoInvalidated())
	return nil
}

// mutateRepo runs a whole-repository mutation exclusively, then publishes a
// repository event.
func (e *Engine) mutateRepo(ctx context.Context, op string, fn func(*git.Repository) error) error {
	repo, err := e.repository(ctx)
	if err != nil {
		return err
	}

	e.repoMu.Lock()
	defer e.repoMu.Unlock()

	start := time.Now()
	if err := fn(repo); err != nil {
		return err
	}
	slog.Debug("[WORKSPACE] repository mutation",
		"op", op,
		"duration_ms", time.Since(start).Milliseconds())
	e.bus.Publish(changebus.RepoInvalidated())
	return nil
}
