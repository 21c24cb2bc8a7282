//go:build !windows

package procctl

import (
	"os/exec"
	"syscall"
)

// interruptProcess sends SIGINT, giving the child a chance to flush state
// and exit cleanly before the hard-kill deadline.
func interruptProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGINT)
}
