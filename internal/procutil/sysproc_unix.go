//go:build unix

package procutil

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configure runs the child in its own process group and kills the whole group
// on cancellation, so helpers spawned by git or rg do not outlive the request.
func configure(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
