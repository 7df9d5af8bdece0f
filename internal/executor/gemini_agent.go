package executor

import (
	"strings"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// GeminiAdapter launches Google's gemini CLI
type GeminiAdapter struct{}

// CLIType identifies the gemini CLI
func (GeminiAdapter) CLIType() types.CLIType { return types.CLIGemini }

// BinaryName is the executable looked up on PATH
func (GeminiAdapter) BinaryName() string { return "gemini" }

// DefaultArgs are passed to every interactive session
func (GeminiAdapter) DefaultArgs() []string { return nil }

// ParseStatus maps completion and error markers in output to a status
func (GeminiAdapter) ParseStatus(output string) (string, bool) {
	switch {
	case strings.Contains(output, "Done"), strings.Contains(output, "Complete"):
		return StatusCompleted, true
	case strings.Contains(output, "Error"):
		return StatusError, true
	default:
		return "", false
	}
}
