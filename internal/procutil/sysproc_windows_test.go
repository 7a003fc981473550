//go:build windows

package procutil

import (
	"context"
	"testing"
)

func TestCommandHidesWindow(t *testing.T) {
	cmd := Command(context.Background(), "", "cmd.exe", "/c", "echo", "test")
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.HideWindow {
		t.Fatalf("SysProcAttr = %+v, want HideWindow", cmd.SysProcAttr)
	}
}
