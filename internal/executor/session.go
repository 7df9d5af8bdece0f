package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

// AgentSession is one interactive agent process used across task phases
type AgentSession struct {
	adapter Adapter
	proc    *SpawnedProcess
}

// SpawnSession launches the CLI for cli rooted at workdir.
// An empty workdir runs the agent in the current directory.
func SpawnSession(spawner Spawner, cli types.CLIType, workdir string) (*AgentSession, error) {
	adapter := AdapterFor(cli)

	var env []ptypool.EnvVar
	if workdir != "" {
		env = append(env, ptypool.EnvVar{Key: "PWD", Value: workdir})
	}

	proc, err := spawner.Spawn(adapter.BinaryName(), adapter.DefaultArgs(), env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return NewAgentSession(proc, adapter), nil
}

// NewAgentSession wraps an already spawned process
func NewAgentSession(proc *SpawnedProcess, adapter Adapter) *AgentSession {
	return &AgentSession{adapter: adapter, proc: proc}
}

// ID returns the underlying process id
func (s *AgentSession) ID() string { return s.proc.ID }

// CLIType returns the CLI variant the session runs
func (s *AgentSession) CLIType() types.CLIType { return s.adapter.CLIType() }

// SendCommand writes a line of input to the agent
func (s *AgentSession) SendCommand(text string) error {
	if err := s.proc.SendLine(text); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	return nil
}

// ReadOutput returns output already buffered without waiting
func (s *AgentSession) ReadOutput() []byte {
	return s.proc.TryReadAll()
}

// ReadOutputTimeout waits up to d for the next chunk of output
func (s *AgentSession) ReadOutputTimeout(ctx context.Context, d time.Duration) ([]byte, bool) {
	return s.proc.ReadTimeout(ctx, d)
}

// ParseStatus looks for the CLI's explicit completion or error markers
func (s *AgentSession) ParseStatus(output string) (string, bool) {
	return s.adapter.ParseStatus(output)
}

// IsAlive reports whether the agent process is running
func (s *AgentSession) IsAlive() bool {
	return s.proc.IsAlive()
}

// Kill terminates the agent and frees its pool slot
func (s *AgentSession) Kill() error {
	defer s.proc.Release()
	return s.proc.Kill()
}
