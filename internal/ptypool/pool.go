// Package ptypool bounds the number of concurrently running agent processes
// and bridges their pseudo-terminal I/O onto channels.
package ptypool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/pkg/telemetry"
)

var (
	// ErrAtCapacity is returned by Spawn when every slot is taken. Spawns are never queued.
	ErrAtCapacity = errors.New("pty pool at capacity")
	// ErrHandleNotFound is returned for operations on unknown or released sessions
	ErrHandleNotFound = errors.New("pty handle not found")
	// ErrSpawnFailed wraps OS level failures to start the child
	ErrSpawnFailed = errors.New("pty spawn failed")
	// ErrInternal reports a bookkeeping fault
	ErrInternal = errors.New("pty pool internal error")
	// ErrIO reports a channel or terminal I/O fault
	ErrIO = errors.New("pty i/o error")
)

const (
	// DefaultRows and DefaultCols size every new terminal
	DefaultRows = 24
	DefaultCols = 80

	readChunkSize   = 4096
	channelCapacity = 256
)

// EnvVar is a single environment variable passed to a spawned process.
// A PWD entry also sets the child's working directory.
type EnvVar struct {
	Key   string
	Value string
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool logger
func WithLogger(l log.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// Pool is a fixed capacity registry of PTY sessions. It only tracks which
// sessions hold a slot; the I/O channels belong to the returned handles.
type Pool struct {
	max      int
	mu       sync.Mutex
	sessions map[string]struct{}
	logger   log.Logger
}

// New creates a pool that allows at most maxSessions concurrent sessions
func New(maxSessions int, opts ...Option) *Pool {
	p := &Pool{
		max:      maxSessions,
		sessions: make(map[string]struct{}),
		logger:   log.Noop,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithValues(log.Kv{"svc": "ptypool.Pool"})
	return p
}

// MaxSessions returns the fixed capacity
func (p *Pool) MaxSessions() int {
	return p.max
}

// ActiveCount returns the number of registered sessions
func (p *Pool) ActiveCount() int {
	n := 0
	_ = p.locked(func() error {
		n = len(p.sessions)
		return nil
	})
	return n
}

// locked runs fn with the bookkeeping mutex held. A panic inside fn is
// logged and reported as ErrInternal; the mutex is always released so the
// pool stays usable for other callers.
func (p *Pool) locked(fn func() error) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warningf("recovered from panic in pool bookkeeping: %v", r)
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()
	return fn()
}

// reserve claims a slot for a new session id
func (p *Pool) reserve() (string, error) {
	id := uuid.New().String()
	err := p.locked(func() error {
		if len(p.sessions) >= p.max {
			return fmt.Errorf("%w: max %d sessions", ErrAtCapacity, p.max)
		}
		p.sessions[id] = struct{}{}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Spawn starts command on a new pseudo-terminal. It fails immediately with
// ErrAtCapacity when the pool is full.
func (p *Pool) Spawn(command string, args []string, env []EnvVar) (*Handle, error) {
	ctx, span := telemetry.StartPoolSpawnSpan(context.Background(), command, p.max)
	defer span.End()

	id, err := p.reserve()
	if err != nil {
		if errors.Is(err, ErrAtCapacity) {
			telemetry.RecordSessionRejected(ctx, p.max)
		}
		telemetry.RecordError(span, err, "reserve", telemetry.ErrorCategoryPool)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.KeySessionID, id))

	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for _, kv := range env {
		cmd.Env = append(cmd.Env, kv.Key+"="+kv.Value)
		if kv.Key == "PWD" {
			cmd.Dir = kv.Value
		}
	}

	master, err := startTerminal(cmd, &pty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		p.Release(id)
		err = fmt.Errorf("%w: %s: %w", ErrSpawnFailed, command, err)
		telemetry.RecordError(span, err, "spawn", telemetry.ErrorCategoryPool)
		return nil, err
	}

	h := newHandle(id, cmd, master, p.logger.WithValues(log.Kv{"session-id": id, "cmd": command}))
	telemetry.RecordSessionSpawned(ctx, command)
	p.logger.Debugf("spawned %s %v (pid %d)", command, args, cmd.Process.Pid)

	return h, nil
}

// Kill frees the slot of a session. The process itself is left alone; call
// Handle.Kill to terminate it.
func (p *Pool) Kill(id string) error {
	removed := false
	err := p.locked(func() error {
		if _, ok := p.sessions[id]; !ok {
			return fmt.Errorf("%w: %s", ErrHandleNotFound, id)
		}
		delete(p.sessions, id)
		removed = true
		return nil
	})
	if removed {
		telemetry.RecordSessionReleased(context.Background())
	}
	return err
}

// Release frees the slot of a session if it is still registered
func (p *Pool) Release(id string) {
	removed := false
	_ = p.locked(func() error {
		if _, ok := p.sessions[id]; ok {
			delete(p.sessions, id)
			removed = true
		}
		return nil
	})
	if removed {
		telemetry.RecordSessionReleased(context.Background())
	}
}
