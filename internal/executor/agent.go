// Package executor spawns coding-agent CLIs through the PTY pool and
// collects their output
package executor

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// Status values reported by Adapter.ParseStatus
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

var (
	// ErrSpawn wraps a failure to start an agent process
	ErrSpawn = errors.New("agent spawn failed")
	// ErrSession reports a session that died or could not be written to
	ErrSession = errors.New("agent session error")
	// ErrTaskNotActive is returned by Abort for a task with no running agent
	ErrTaskNotActive = errors.New("task not active")
	// ErrNotInstalled is returned when an agent binary is not on PATH
	ErrNotInstalled = errors.New("agent cli not installed")
)

// Adapter knows how to launch one coding-agent CLI and read its status
type Adapter interface {
	// CLIType identifies the CLI variant
	CLIType() types.CLIType
	// BinaryName is the executable looked up on PATH
	BinaryName() string
	// DefaultArgs are passed on every interactive launch
	DefaultArgs() []string
	// ParseStatus detects an explicit completion or error marker in output
	ParseStatus(output string) (string, bool)
}

// AdapterFor returns the adapter for a CLI type, defaulting to Claude
func AdapterFor(cli types.CLIType) Adapter {
	switch cli {
	case types.CLICodex:
		return CodexAdapter{}
	case types.CLIGemini:
		return GeminiAdapter{}
	case types.CLIOpenCode:
		return OpenCodeAdapter{}
	default:
		return ClaudeAdapter{}
	}
}

// CheckInstalled verifies the agent binary for cli is available on PATH
func CheckInstalled(cli types.CLIType) (string, error) {
	name := AdapterFor(cli).BinaryName()
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotInstalled, name, err)
	}
	return path, nil
}

// truncateString shortens s for log output
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
