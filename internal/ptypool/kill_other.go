//go:build windows

package ptypool

import "os"

func killProcessGroup(proc *os.Process) error {
	return proc.Kill()
}
