//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package ptypool

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startTerminal falls back to the default pty setup where terminal
// attributes cannot be changed; input may be echoed back on these platforms.
func startTerminal(cmd *exec.Cmd, size *pty.Winsize) (*os.File, error) {
	return pty.StartWithSize(cmd, size)
}
