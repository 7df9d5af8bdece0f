// Package executortest provides an in-memory Spawner for tests
package executortest

import (
	"fmt"
	"sync"

	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/ptypool"
)

// Call records a single Spawn invocation
type Call struct {
	Command string
	Args    []string
	Env     []ptypool.EnvVar
	Input   <-chan []byte
}

// Sent returns everything written to the process so far
func (c Call) Sent() string {
	var out []byte
	for {
		select {
		case data := <-c.Input:
			out = append(out, data...)
		default:
			return string(out)
		}
	}
}

// Spawner hands out processes whose output is canned. The n-th spawn
// emits Outputs[n], the last entry repeating once the list runs out.
type Spawner struct {
	// Outputs are emitted as one chunk per spawn; empty strings emit nothing
	Outputs []string
	// Alive keeps the output channel open so reads wait for their deadline
	Alive bool
	// Err, when set, is returned by every Spawn call
	Err error

	mu    sync.Mutex
	calls []Call
}

// NewSpawner returns a Spawner whose processes exit after emitting outputs
func NewSpawner(outputs ...string) *Spawner {
	return &Spawner{Outputs: outputs}
}

// Spawn implements executor.Spawner
func (s *Spawner) Spawn(command string, args []string, env []ptypool.EnvVar) (*executor.SpawnedProcess, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	s.mu.Lock()
	n := len(s.calls)
	out := make(chan []byte, 256)
	in := make(chan []byte, 256)
	s.calls = append(s.calls, Call{Command: command, Args: args, Env: env, Input: in})
	s.mu.Unlock()

	if len(s.Outputs) > 0 {
		text := s.Outputs[min(n, len(s.Outputs)-1)]
		if text != "" {
			out <- []byte(text)
		}
	}
	if !s.Alive {
		close(out)
	}

	return executor.NewSpawnedProcess(fmt.Sprintf("proc-%d", n+1), out, in, s.Alive), nil
}

// Calls returns every recorded spawn
func (s *Spawner) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// SpawnCount returns how many processes were spawned
func (s *Spawner) SpawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
