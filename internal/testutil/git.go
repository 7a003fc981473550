package testutil

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// SkipIfNoGit skips the test if git is not available.
func SkipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping")
	}
}

// ResolvePath resolves symlinks and Windows 8.3 short names (e.g. the macOS
// /var -> /private/var link) so that paths match what the engine reports.
// Returns the original path if resolution fails.
func ResolvePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		slog.Debug("[DEBUG-TEST] EvalSymlinks failed, using original path",
			"path", path, "error", err)
		return path
	}
	return resolved
}

// RunGit runs git in dir and returns trimmed stdout, failing the test on error.
func RunGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		t.Fatalf("git %v failed: %v\n%s", args, err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to the slash-separated rel path under dir,
// creating parent directories.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return full
}

// ReadFile returns the content of the slash-separated rel path under dir.
func ReadFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// InitGitRepo runs git init in a fresh temporary directory and configures a
// test identity. No commit is created, so HEAD is unborn.
func InitGitRepo(t *testing.T) string {
	t.Helper()
	SkipIfNoGit(t)

	dir := ResolvePath(t.TempDir())
	RunGit(t, dir, "init", "-q")
	RunGit(t, dir, "config", "user.email", "test@test.com")
	RunGit(t, dir, "config", "user.name", "Test")
	RunGit(t, dir, "config", "commit.gpgsign", "false")
	RunGit(t, dir, "config", "core.autocrlf", "false")
	return dir
}

// CreateTempGitRepo creates a temporary git repository with an initial
// commit of README.md so HEAD exists.
func CreateTempGitRepo(t *testing.T) string {
	t.Helper()
	dir := InitGitRepo(t)
	WriteFile(t, dir, "README.md", "# test\n")
	RunGit(t, dir, "add", ".")
	RunGit(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

// CommitFile writes rel with content, stages it and commits it.
func CommitFile(t *testing.T, dir, rel, content, message string) {
	t.Helper()
	WriteFile(t, dir, rel, content)
	RunGit(t, dir, "add", "--", rel)
	RunGit(t, dir, "commit", "-q", "-m", message)
}
