//go:build !windows

package ptypool

import (
	"errors"
	"os"
	"syscall"
)

// killProcessGroup sends SIGKILL to the child's session. pty.Start makes the
// child a session leader, so its pid is also its process group id.
func killProcessGroup(proc *os.Process) error {
	err := syscall.Kill(-proc.Pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return proc.Kill()
}
