//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package ptypool

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// startTerminal runs cmd on a fresh pseudo-terminal with echo turned off, so
// the master only carries what the child writes and never the input sent to it.
func startTerminal(cmd *exec.Cmd, size *pty.Winsize) (*os.File, error) {
	master, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer tty.Close()

	if err := pty.Setsize(master, size); err != nil {
		master.Close()
		return nil, err
	}
	if err := disableEcho(tty); err != nil {
		master.Close()
		return nil, err
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, tty
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true

	if err := cmd.Start(); err != nil {
		master.Close()
		return nil, err
	}
	return master, nil
}

func disableEcho(tty *os.File) error {
	fd := int(tty.Fd())
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return fmt.Errorf("reading terminal attributes: %w", err)
	}
	termios.Lflag &^= unix.ECHO | unix.ECHONL
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		return fmt.Errorf("disabling terminal echo: %w", err)
	}
	return nil
}
