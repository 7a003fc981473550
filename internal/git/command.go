package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"devsync/internal/apperr"
	"devsync/internal/metrics"
	"devsync/internal/procutil"
)

// Git command retry settings for handling index.lock conflicts.
// Uses exponential backoff: 100ms, 200ms, 400ms, ... capped at 1600ms.
const (
	maxGitRetries        = 10
	gitRetryBaseInterval = 100 * time.Millisecond
	gitRetryMaxInterval  = 1600 * time.Millisecond
	// Maximum number of concurrent git commands.
	// Set to 4 to balance parallelism against git index.lock contention;
	// higher values increase lock conflicts on the same repository.
	maxConcurrentGitCommands = 4
	// Timeout for acquiring the git semaphore. Prevents indefinite blocking
	// when all semaphore slots are occupied by long-running git operations.
	semaphoreAcquireTimeout = 30 * time.Second
)

// gitSemaphore limits the number of concurrent git command executions.
var gitSemaphore = make(chan struct{}, maxConcurrentGitCommands)

func acquireGitSemaphoreWithContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("git semaphore acquisition canceled: %w", err)
	}
	timer := time.NewTimer(semaphoreAcquireTimeout)
	defer timer.Stop()
	select {
	case gitSemaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("git semaphore acquisition canceled: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("git semaphore acquisition timed out after %v", semaphoreAcquireTimeout)
	}
}

func releaseGitSemaphore() {
	<-gitSemaphore
}

// CommandError describes a git invocation that exited unsuccessfully.
// It unwraps to apperr.ErrExternalTool.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	name := "git"
	if len(e.Args) > 0 {
		name = "git " + e.Args[0]
	}
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s failed (exit %d): %s", name, e.ExitCode, msg)
}

func (e *CommandError) Unwrap() []error {
	return []error{apperr.ErrExternalTool, e.Err}
}

func asCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}

// exitCode reports the process exit code carried by err, or -1.
func exitCode(err error) int {
	if cmdErr, ok := asCommandError(err); ok {
		return cmdErr.ExitCode
	}
	return -1
}

// isQuietMiss reports whether err is a "not found" answer from a --quiet
// query such as rev-parse --verify --quiet: exit 1 with nothing on stderr.
func isQuietMiss(err error) bool {
	cmdErr, ok := asCommandError(err)
	return ok && cmdErr.ExitCode == 1 && strings.TrimSpace(cmdErr.Stderr) == ""
}

// isLockFileConflict checks if the error indicates a git lock file conflict.
// Matches both "index.lock" and generic "Unable to create... File exists" messages
// (e.g., shallow.lock, pack-refs.lock).
func isLockFileConflict(errMsg string) bool {
	return strings.Contains(errMsg, "index.lock") ||
		(strings.Contains(errMsg, "Unable to create") && strings.Contains(errMsg, "File exists"))
}

// upsertEnvVar sets key=value in env, replacing an existing entry.
// Keys compare case-insensitively on Windows.
func upsertEnvVar(env []string, key, value string) []string {
	entry := key + "=" + value
	for i, kv := range env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == key || (runtime.GOOS == "windows" && strings.EqualFold(k, key)) {
			env[i] = entry
			return env
		}
	}
	return append(env, entry)
}

// gitEnv returns the environment for every git child process: locale-neutral
// messages (stderr is matched against English text), literal pathspecs so
// client file names are never interpreted as globs or magic, and no prompts.
func gitEnv(base []string) []string {
	env := make([]string, len(base))
	copy(env, base)
	env = upsertEnvVar(env, "LC_ALL", "C")
	env = upsertEnvVar(env, "LC_MESSAGES", "C")
	env = upsertEnvVar(env, "LANG", "C")
	env = upsertEnvVar(env, "GIT_LITERAL_PATHSPECS", "1")
	env = upsertEnvVar(env, "GIT_TERMINAL_PROMPT", "0")
	// Read-only commands (status) must not take index.lock to refresh stat info.
	env = upsertEnvVar(env, "GIT_OPTIONAL_LOCKS", "0")
	return env
}

// commandRunner executes one git process and returns stdout and stderr.
type commandRunner func(ctx context.Context, dir string, args []string, env []string, stdin []byte) ([]byte, string, error)

// backoffWaiter sleeps for d unless ctx ends first.
type backoffWaiter func(ctx context.Context, d time.Duration) error

func execGit(ctx context.Context, dir string, args []string, env []string, stdin []byte) ([]byte, string, error) {
	cmd := procutil.Command(ctx, dir, "git", args...)
	cmd.Env = env
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func gitRetryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 16 {
		return gitRetryMaxInterval
	}
	backoff := gitRetryBaseInterval << uint(attempt)
	if backoff > gitRetryMaxInterval {
		return gitRetryMaxInterval
	}
	return backoff
}

// runGitCLI is the shared implementation for running git commands.
// Handles semaphore concurrency limiting, index.lock retry, and Windows console-window suppression.
// SECURITY: executes only "git" binary with application-constructed args; client
// paths are always passed after "--".
func runGitCLI(ctx context.Context, dir string, args []string, stdin []byte) ([]byte, error) {
	return runGitCLIWithDeps(ctx, dir, args, stdin, gitEnv(os.Environ()), execGit, waitBackoff)
}

func runGitCLIWithDeps(
	ctx context.Context,
	dir string,
	args []string,
	stdin []byte,
	env []string,
	run commandRunner,
	wait backoffWaiter,
) (out []byte, err error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("git: no command specified")
	}

	start := time.Now()
	defer func() {
		// NOTE: git args are application-constructed (flags, revisions, paths);
		// no credentials or secrets are passed via args in this codebase.
		slog.Debug("[DEBUG-GIT] git command completed",
			"dir", dir,
			"args", args,
			"duration_ms", time.Since(start).Milliseconds())
		metrics.RecordGitCommand(args[0], err == nil, time.Since(start))
	}()

	if err := acquireGitSemaphoreWithContext(ctx); err != nil {
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	defer releaseGitSemaphore()

	var last *CommandError
	for attempt := 0; attempt < maxGitRetries; attempt++ {
		stdout, stderr, runErr := run(ctx, dir, args, env, stdin)
		if runErr == nil {
			return stdout, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("git %s canceled: %w", args[0], ctxErr)
		}

		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		last = &CommandError{Args: args, ExitCode: code, Stderr: stderr, Err: runErr}

		if !isLockFileConflict(stderr) {
			return nil, last
		}

		if attempt < maxGitRetries-1 {
			backoff := gitRetryBackoff(attempt)
			slog.Debug("[DEBUG-GIT] lock file conflict, retrying",
				"attempt", attempt+1, "maxRetries", maxGitRetries,
				"backoff_ms", backoff.Milliseconds(), "args", args,
				"dir", dir)
			metrics.RecordGitLockRetry()
			if waitErr := wait(ctx, backoff); waitErr != nil {
				return nil, fmt.Errorf("git %s canceled during retry backoff: %w", args[0], waitErr)
			}
		}
	}

	return nil, fmt.Errorf("git %s failed after %d retries (lock file conflict): %w",
		args[0], maxGitRetries, last)
}

// runGitCommand executes a git command in the workspace and returns trimmed output.
func (r *Repository) runGitCommand(ctx context.Context, args ...string) (string, error) {
	output, err := runGitCLI(ctx, r.path, args, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// runGitCommandRaw executes a git command and returns output untouched.
func (r *Repository) runGitCommandRaw(ctx context.Context, args ...string) ([]byte, error) {
	return runGitCLI(ctx, r.path, args, nil)
}

// runGitCommandInput executes a git command feeding stdin to the process.
func (r *Repository) runGitCommandInput(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	if stdin == nil {
		stdin = []byte{}
	}
	return runGitCLI(ctx, r.path, args, stdin)
}
