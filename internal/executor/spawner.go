package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloud-shuttle/tundra/internal/ptypool"
)

// Spawner starts a process and hands back its I/O channels. The PTY pool
// implements it through PoolSpawner; tests provide lightweight doubles.
type Spawner interface {
	Spawn(command string, args []string, env []ptypool.EnvVar) (*SpawnedProcess, error)
}

// SpawnedProcess is the caller-owned side of a spawned agent
type SpawnedProcess struct {
	ID string

	output  <-chan []byte
	input   chan<- []byte
	done    <-chan struct{}
	alive   atomic.Bool
	drained atomic.Bool

	send    func([]byte) error
	kill    func() error
	release func()
}

// NewSpawnedProcess wraps plain channels. alive is the initial liveness
// flag; a process created dead drains its output without waiting.
func NewSpawnedProcess(id string, output <-chan []byte, input chan<- []byte, alive bool) *SpawnedProcess {
	p := &SpawnedProcess{
		ID:     id,
		output: output,
		input:  input,
	}
	p.alive.Store(alive)
	return p
}

// IsAlive reports whether the process is still running
func (p *SpawnedProcess) IsAlive() bool {
	if !p.alive.Load() {
		return false
	}
	if p.done == nil {
		return true
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// SetDead marks the process as no longer running
func (p *SpawnedProcess) SetDead() {
	p.alive.Store(false)
}

// Drained reports whether the output channel has been closed and emptied
func (p *SpawnedProcess) Drained() bool {
	return p.drained.Load()
}

// Send queues raw bytes for the process
func (p *SpawnedProcess) Send(data []byte) error {
	if p.send != nil {
		return p.send(data)
	}
	p.input <- data
	return nil
}

// SendLine queues text followed by a newline
func (p *SpawnedProcess) SendLine(line string) error {
	return p.Send([]byte(line + "\n"))
}

// ReadTimeout waits up to d for the next output chunk. It returns false on
// deadline, cancellation or when the output is drained.
func (p *SpawnedProcess) ReadTimeout(ctx context.Context, d time.Duration) ([]byte, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case chunk, ok := <-p.output:
		if !ok {
			p.drained.Store(true)
			return nil, false
		}
		return chunk, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// TryReadAll returns whatever output is already buffered
func (p *SpawnedProcess) TryReadAll() []byte {
	var buf []byte
	for {
		select {
		case chunk, ok := <-p.output:
			if !ok {
				p.drained.Store(true)
				return buf
			}
			buf = append(buf, chunk...)
		default:
			return buf
		}
	}
}

// Kill terminates the process and marks it dead
func (p *SpawnedProcess) Kill() error {
	p.SetDead()
	if p.kill == nil {
		return nil
	}
	return p.kill()
}

// Release closes the process's terminal and gives its slot back to the pool
func (p *SpawnedProcess) Release() {
	if p.release != nil {
		p.release()
	}
}

// PoolSpawner spawns processes on a PTY pool
type PoolSpawner struct {
	pool *ptypool.Pool
}

// NewPoolSpawner returns a Spawner backed by pool
func NewPoolSpawner(pool *ptypool.Pool) *PoolSpawner {
	return &PoolSpawner{pool: pool}
}

// Spawn starts command on the pool, failing with ptypool.ErrAtCapacity when full
func (s *PoolSpawner) Spawn(command string, args []string, env []ptypool.EnvVar) (*SpawnedProcess, error) {
	h, err := s.pool.Spawn(command, args, env)
	if err != nil {
		return nil, fmt.Errorf("spawning %s: %w", command, err)
	}

	p := NewSpawnedProcess(h.ID(), h.Output(), h.Input(), true)
	p.done = h.Done()
	p.send = h.Send
	p.kill = h.Kill
	p.release = func() {
		h.Close()
		s.pool.Release(h.ID())
	}
	return p, nil
}
