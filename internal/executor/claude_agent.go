package executor

import (
	"strings"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// ClaudeAdapter launches Anthropic's claude CLI.
// Permission prompts are skipped so the session never blocks on approval.
type ClaudeAdapter struct{}

// CLIType identifies the claude CLI
func (ClaudeAdapter) CLIType() types.CLIType { return types.CLIClaude }

// BinaryName is the executable looked up on PATH
func (ClaudeAdapter) BinaryName() string { return "claude" }

// DefaultArgs are passed to every interactive session
func (ClaudeAdapter) DefaultArgs() []string {
	return []string{"--dangerously-skip-permissions"}
}

// ParseStatus maps completion and error markers in output to a status
func (ClaudeAdapter) ParseStatus(output string) (string, bool) {
	switch {
	case strings.Contains(output, "Task complete"), strings.Contains(output, "Done!"):
		return StatusCompleted, true
	case strings.Contains(output, "Error"), strings.Contains(output, "error:"):
		return StatusError, true
	default:
		return "", false
	}
}
