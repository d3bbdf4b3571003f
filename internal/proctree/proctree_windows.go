//go:build windows

package proctree

import (
	"os/exec"
	"strconv"
)

func setup(_ *exec.Cmd) {}

// kill uses taskkill to take down the child and its descendants, since
// Windows has no process groups reachable from os/exec.
func kill(cmd *exec.Cmd) {
	pid := cmd.Process.Pid

	tk := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	if err := tk.Run(); err != nil {
		_ = cmd.Process.Kill()
	}
}
