package executor

import (
	"strings"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// OpenCodeAdapter launches the opencode CLI
type OpenCodeAdapter struct{}

// CLIType identifies the opencode CLI
func (OpenCodeAdapter) CLIType() types.CLIType { return types.CLIOpenCode }

// BinaryName is the executable looked up on PATH
func (OpenCodeAdapter) BinaryName() string { return "opencode" }

// DefaultArgs are passed to every interactive session
func (OpenCodeAdapter) DefaultArgs() []string { return nil }

// ParseStatus maps completion and error markers in output to a status
func (OpenCodeAdapter) ParseStatus(output string) (string, bool) {
	switch {
	case strings.Contains(output, "done"), strings.Contains(output, "complete"):
		return StatusCompleted, true
	case strings.Contains(output, "error"), strings.Contains(output, "Error"):
		return StatusError, true
	default:
		return "", false
	}
}
