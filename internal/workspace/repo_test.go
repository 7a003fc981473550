package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devsync/internal/apperr"
	"devsync/internal/changebus"
	"devsync/internal/git"
	"devsync/internal/testutil"
)

func TestRepoOperationsWithoutRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)
	root := testutil.ResolvePath(t.TempDir())
	testutil.WriteFile(t, root, "a.txt", "x")
	e := newEngine(t, root, false)
	ctx := context.Background()

	checks := map[string]func() error{
		"status":   func() error { _, err := e.Status(ctx); return err },
		"versions": func() error { _, err := e.Versions(ctx, "/a.txt"); return err },
		"summary":  func() error { _, err := e.Summary(ctx); return err },
		"log":      func() error { _, err := e.Log(ctx, 10); return err },
		"hunks":    func() error { _, err := e.Hunks(ctx, "/a.txt", false); return err },
		"stage":    func() error { return e.Stage(ctx, "/a.txt") },
		"stageAll": func() error { return e.StageAll(ctx) },
		"commit":   func() error { _, err := e.Commit(ctx, "msg"); return err },
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			if err := check(); !errors.Is(err, apperr.ErrRepoUnavailable) {
				t.Fatalf("error = %v, want ErrRepoUnavailable", err)
			}
		})
	}

	// A repository created after startup is picked up.
	testutil.RunGit(t, root, "init", "-q")
	if _, err := e.Status(ctx); err != nil {
		t.Fatalf("Status() after git init error = %v", err)
	}
}

func TestRepoOperationsRejectEscapes(t *testing.T) {
	root := testutil.CreateTempGitRepo(t)
	e := newEngine(t, root, false)
	ctx := context.Background()

	for _, path := range []string{"/../x", "/a/../../x"} {
		if err := e.Stage(ctx, path); !errors.Is(err, apperr.ErrOutsideWorkspace) {
			t.Errorf("Stage(%q) error = %v, want ErrOutsideWorkspace", path, err)
		}
		if _, err := e.Versions(ctx, path); !errors.Is(err, apperr.ErrOutsideWorkspace) {
			t.Errorf("Versions(%q) error = %v, want ErrOutsideWorkspace", path, err)
		}
	}
	if err := e.Discard(ctx, "/"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Discard(/) error = %v, want ErrInvalidInput", err)
	}
}

func TestRepoOperationsRejectExcludedPaths(t *testing.T) {
	root := testutil.CreateTempGitRepo(t)
	e := newEngine(t, root, false)
	ctx := context.Background()

	for _, path := range []string{"/.git/HEAD", "/.git", "/.git/refs/heads"} {
		if err := e.Discard(ctx, path); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Discard(%q) error = %v, want ErrInvalidInput", path, err)
		}
		if err := e.Stage(ctx, path); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Stage(%q) error = %v, want ErrInvalidInput", path, err)
		}
		if _, err := e.Versions(ctx, path); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Versions(%q) error = %v, want ErrInvalidInput", path, err)
		}
	}
	if _, err := e.ReadFile(ctx, "/.git/config"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("ReadFile(/.git/config) error = %v, want ErrInvalidInput", err)
	}

	if _, err := os.Stat(filepath.Join(root, ".git", "HEAD")); err != nil {
		t.Fatalf(".git/HEAD after Discard: %v", err)
	}
	if _, err := e.Status(ctx); err != nil {
		t.Fatalf("Status() after rejected Discard error = %v", err)
	}
}

func TestThreeViewScenario(t *testing.T) {
	root := testutil.InitGitRepo(t)
	testutil.CommitFile(t, root, "a.txt", "hi", "add a")
	testutil.WriteFile(t, root, "a.txt", "hello")
	e := newEngine(t, root, false)
	ctx := context.Background()

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Changed) != 1 {
		t.Fatalf("Changed = %+v, want one record", st.Changed)
	}
	rec := st.Changed[0]
	if rec.Path != "/a.txt" || rec.Index != git.StatusUnmodified || rec.Working != git.StatusModified {
		t.Fatalf("record = %+v", rec)
	}

	fv, err := e.Versions(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if fv.Head != "hi" || fv.Index != "hi" || fv.Working != "hello" {
		t.Fatalf("Versions() = %+v", fv)
	}
}

func TestMutationsPublishRepoEvents(t *testing.T) {
	root := testutil.CreateTempGitRepo(t)
	testutil.WriteFile(t, root, "README.md", "# changed\n")
	testutil.WriteFile(t, root, "new.txt", "new\n")
	e := newEngine(t, root, false)
	sub := e.Subscribe()
	defer e.Unsubscribe(sub)
	ctx := context.Background()

	expectRepoEvent := func(op string) {
		t.Helper()
		if ev := nextEvent(t, sub, time.Second); ev != changebus.RepoInvalidated() {
			t.Fatalf("%s: event = %+v, want git", op, ev)
		}
	}

	if err := e.Stage(ctx, "/README.md"); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	expectRepoEvent("stage")
	if err := e.Unstage(ctx, "/README.md"); err != nil {
		t.Fatalf("Unstage() error = %v", err)
	}
	expectRepoEvent("unstage")
	if err := e.StageAll(ctx); err != nil {
		t.Fatalf("StageAll() error = %v", err)
	}
	expectRepoEvent("stage-all")

	hash, err := e.Commit(ctx, "  update readme  \n")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(hash) != 40 {
		t.Fatalf("Commit() hash = %q", hash)
	}
	expectRepoEvent("commit")

	if _, err := e.Commit(ctx, "again"); !errors.Is(err, apperr.ErrEmptyCommit) {
		t.Fatalf("Commit() on clean index error = %v, want ErrEmptyCommit", err)
	}
	if _, err := e.Commit(ctx, "   "); !errors.Is(err, apperr.ErrInvalidMessage) {
		t.Fatalf("Commit(blank) error = %v, want ErrInvalidMessage", err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("failed commit published %+v", ev)
	default:
	}

	summary, err := e.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.LastCommit == nil || summary.LastCommit.Hash != hash || summary.LastCommit.Subject != "update readme" {
		t.Fatalf("Summary() = %+v", summary)
	}
	commits, err := e.Log(ctx, 0)
	if err != nil || len(commits) != 2 {
		t.Fatalf("Log() = %d commits, %v", len(commits), err)
	}
}

func TestDiscardAllKeepsExcludedDirectories(t *testing.T) {
	root := testutil.CreateTempGitRepo(t)
	testutil.WriteFile(t, root, "README.md", "dirty\n")
	testutil.WriteFile(t, root, "scratch.txt", "tmp\n")
	testutil.WriteFile(t, root, "node_modules/dep/index.js", "dep\n")
	e := newEngine(t, root, false)
	ctx := context.Background()

	if err := e.DiscardAll(ctx); err != nil {
		t.Fatalf("DiscardAll() error = %v", err)
	}
	if got := testutil.ReadFile(t, root, "README.md"); got != "# test\n" {
		t.Fatalf("README.md = %q", got)
	}
	if _, err := e.ReadFile(ctx, "/scratch.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("scratch.txt still present: %v", err)
	}
	if got := testutil.ReadFile(t, root, "node_modules/dep/index.js"); got != "dep\n" {
		t.Fatalf("excluded file changed: %q", got)
	}
}

func TestHunkRoundTripThroughEngine(t *testing.T) {
	root := testutil.CreateTempGitRepo(t)
	testutil.WriteFile(t, root, "README.md", "# test\nmore\n")
	e := newEngine(t, root, false)
	ctx := context.Background()

	fh, err := e.Hunks(ctx, "/README.md", false)
	if err != nil {
		t.Fatalf("Hunks() error = %v", err)
	}
	if len(fh.Hunks) != 1 {
		t.Fatalf("Hunks() = %+v, want one hunk", fh.Hunks)
	}
	h := fh.Hunks[0]
	if err := e.StageHunk(ctx, "/README.md", h.Index, "0000000000000000"); !errors.Is(err, apperr.ErrStaleHunk) {
		t.Fatalf("StageHunk(bad id) error = %v, want ErrStaleHunk", err)
	}
	if err := e.StageHunk(ctx, "/README.md", h.Index, h.ID); err != nil {
		t.Fatalf("StageHunk() error = %v", err)
	}
	fv, err := e.Versions(ctx, "/README.md")
	if err != nil {
		t.Fatal(err)
	}
	if fv.Index != "# test\nmore\n" {
		t.Fatalf("index = %q after StageHunk", fv.Index)
	}

	staged, err := e.Hunks(ctx, "/README.md", true)
	if err != nil || len(staged.Hunks) != 1 {
		t.Fatalf("staged Hunks() = %+v, %v", staged, err)
	}
	if err := e.UnstageHunk(ctx, "/README.md", 0, staged.Hunks[0].ID); err != nil {
		t.Fatalf("UnstageHunk() error = %v", err)
	}
	if err := e.DiscardHunk(ctx, "/README.md", 0, h.ID); err != nil {
		t.Fatalf("DiscardHunk() error = %v", err)
	}
	if got := testutil.ReadFile(t, root, "README.md"); got != "# test\n" {
		t.Fatalf("README.md = %q after DiscardHunk", got)
	}
}
