package procutil

import (
	"context"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps draining a killed child's pipes.
// Grandchildren that inherited stdout would otherwise block Wait forever.
const WaitDelay = 2 * time.Second

// Command returns a command for name that runs in dir and is killed when ctx
// ends. An empty dir keeps the caller's working directory.
func Command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = WaitDelay
	configure(cmd)
	return cmd
}
