//go:build !unix && !windows

package procutil

import "os/exec"

func configure(_ *exec.Cmd) {}
