//go:build windows

package procutil

import (
	"os/exec"
	"syscall"
)

// configure suppresses the console window flash. Existing SysProcAttr fields
// are kept.
func configure(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}
