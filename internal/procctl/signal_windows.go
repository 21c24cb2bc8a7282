//go:build windows

package procctl

import "os/exec"

// interruptProcess has no portable "gentle interrupt" equivalent to SIGINT
// on Windows for an arbitrary child; the grace window still elapses before
// a hard kill, so a well-behaved child polling its own exit conditions
// still gets a chance to observe cancellation via stdin/IPC before then.
func interruptProcess(cmd *exec.Cmd) error {
	return nil
}
