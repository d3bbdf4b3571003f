// Package proctree terminates a spawned process together with every
// descendant it created. External CLIs routinely spawn helper
// subprocesses; killing only the immediate child leaves orphans holding
// pipes open, so termination always targets the whole tree.
package proctree

import "os/exec"

// Setup must be called on cmd before it is started so the child and its
// descendants can later be terminated as a group.
func Setup(cmd *exec.Cmd) {
	setup(cmd)
}

// Kill terminates cmd's entire process tree. Safe to call on a process
// that already exited; the error from signalling a dead group is ignored.
// Kill does not wait for the process; the goroutine that owns cmd.Wait
// observes the exit.
func Kill(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	kill(cmd)
}
