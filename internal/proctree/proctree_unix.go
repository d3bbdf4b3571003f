//go:build !windows

package proctree

import (
	"os/exec"
	"syscall"
)

// setup places the child in its own process group so the whole tree can
// be signalled at once.
func setup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	cmd.SysProcAttr.Setpgid = true
}

// kill signals the process group, falling back to the direct child when
// the group is already gone.
func kill(cmd *exec.Cmd) {
	pid := cmd.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
