package ptypool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/cloud-shuttle/tundra/internal/log"
)

// exitDrainGrace is how long the reader waits for a consumer once the
// child has exited and the output channel is full
const exitDrainGrace = 100 * time.Millisecond

// Handle is the caller's side of a spawned session
type Handle struct {
	id       string
	cmd      *exec.Cmd
	master   *os.File
	output   chan []byte
	input    chan []byte
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	readDone chan struct{}
	waitErr  error
	logger   log.Logger
}

func newHandle(id string, cmd *exec.Cmd, master *os.File, logger log.Logger) *Handle {
	h := &Handle{
		id:       id,
		cmd:      cmd,
		master:   master,
		output:   make(chan []byte, channelCapacity),
		input:    make(chan []byte, channelCapacity),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		readDone: make(chan struct{}),
		logger:   logger,
	}

	go h.readLoop()
	go h.writeLoop()
	go h.waitLoop()

	return h
}

// readLoop drains the terminal into the output channel until EOF, a read
// error or Close, then closes the channel. Read errors end the session like EOF.
func (h *Handle) readLoop() {
	defer close(h.readDone)
	defer close(h.output)
	defer h.master.Close()

	dropping := false
	buf := make([]byte, readChunkSize)
	for {
		n, err := h.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !h.deliver(chunk, &dropping) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Linux reports EIO once the child side is gone.
				h.logger.Debugf("pty reader stopped: %v", err)
			}
			return
		}
	}
}

// deliver hands chunk to the output channel. Once the child has exited and
// nobody drains the channel, output is dropped so the reader still reaches
// EOF and releases the terminal. It returns false after Close.
func (h *Handle) deliver(chunk []byte, dropping *bool) bool {
	if !*dropping {
		select {
		case h.output <- chunk:
			return true
		case <-h.stop:
			return false
		case <-h.done:
		}

		timer := time.NewTimer(exitDrainGrace)
		defer timer.Stop()
		select {
		case h.output <- chunk:
			return true
		case <-h.stop:
			return false
		case <-timer.C:
			*dropping = true
		}
	}

	select {
	case h.output <- chunk:
	case <-h.stop:
		return false
	default:
		h.logger.Debugf("dropped %d bytes of output after exit", len(chunk))
	}
	return true
}

// writeLoop forwards queued input to the terminal until the process exits
func (h *Handle) writeLoop() {
	for {
		select {
		case data := <-h.input:
			if _, err := h.master.Write(data); err != nil {
				h.logger.Debugf("pty write failed: %v", err)
			}
		case <-h.done:
			return
		case <-h.stop:
			return
		}
	}
}

func (h *Handle) waitLoop() {
	h.waitErr = h.cmd.Wait()
	close(h.done)
}

// ID returns the pool-assigned session id
func (h *Handle) ID() string { return h.id }

// Output is closed once the terminal reaches EOF
func (h *Handle) Output() <-chan []byte { return h.output }

// Input queues raw bytes for the terminal. Sends block when the queue is full.
func (h *Handle) Input() chan<- []byte { return h.input }

// Done is closed when the process has exited
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the process exits and returns its exit error
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// Pid returns the OS process id of the child
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// IsAlive reports whether the process is still running. It never blocks.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Kill terminates the process and everything in its session
func (h *Handle) Kill() error {
	if !h.IsAlive() {
		return nil
	}
	if err := killProcessGroup(h.cmd.Process); err != nil {
		return fmt.Errorf("%w: kill %s: %w", ErrIO, h.id, err)
	}
	return nil
}

// Close stops the I/O goroutines and closes the terminal. Output not yet
// read is discarded and a child that is still running gets a hangup, so
// call it after Kill. It is safe to call more than once.
func (h *Handle) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		_ = h.master.Close()
	})
}

// TryReadAll returns whatever output is already buffered without waiting
func (h *Handle) TryReadAll() []byte {
	var buf []byte
	for {
		select {
		case chunk, ok := <-h.output:
			if !ok {
				return buf
			}
			buf = append(buf, chunk...)
		default:
			return buf
		}
	}
}

// ReadTimeout waits up to d for the next chunk of output. It returns false
// when the deadline passes or the output is drained; a false result does not
// mean the process died.
func (h *Handle) ReadTimeout(d time.Duration) ([]byte, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case chunk, ok := <-h.output:
		if !ok {
			return nil, false
		}
		return chunk, true
	case <-timer.C:
		return nil, false
	}
}

// Send queues bytes for the terminal
func (h *Handle) Send(data []byte) error {
	if !h.IsAlive() {
		return fmt.Errorf("%w: session %s has exited", ErrIO, h.id)
	}
	select {
	case h.input <- data:
		return nil
	case <-h.done:
		return fmt.Errorf("%w: session %s has exited", ErrIO, h.id)
	}
}

// SendLine queues text followed by a newline
func (h *Handle) SendLine(text string) error {
	return h.Send([]byte(text + "\n"))
}

// Resize changes the terminal window size
func (h *Handle) Resize(cols, rows uint16) error {
	if err := pty.Setsize(h.master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("%w: resize %s: %w", ErrIO, h.id, err)
	}
	return nil
}
