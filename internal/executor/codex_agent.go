package executor

import (
	"strings"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// CodexAdapter launches OpenAI's codex CLI in quiet full-auto mode
// See: https://developers.openai.com/codex/cli/
type CodexAdapter struct{}

// CLIType identifies the codex CLI
func (CodexAdapter) CLIType() types.CLIType { return types.CLICodex }

// BinaryName is the executable looked up on PATH
func (CodexAdapter) BinaryName() string { return "codex" }

// DefaultArgs are passed to every interactive session
func (CodexAdapter) DefaultArgs() []string {
	return []string{"--approval-mode", "full-auto", "-q"}
}

// ParseStatus maps completion and error markers in output to a status
func (CodexAdapter) ParseStatus(output string) (string, bool) {
	switch {
	case strings.Contains(output, "completed"), strings.Contains(output, "finished"):
		return StatusCompleted, true
	case strings.Contains(output, "error"):
		return StatusError, true
	default:
		return "", false
	}
}
