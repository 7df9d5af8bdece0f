package types

import "strings"

// CLIType selects which coding-agent CLI is spawned for a task
type CLIType string

const (
	CLIClaude   CLIType = "claude"
	CLICodex    CLIType = "codex"
	CLIGemini   CLIType = "gemini"
	CLIOpenCode CLIType = "opencode"
)

// AllCLITypes lists every supported agent CLI
var AllCLITypes = []CLIType{CLIClaude, CLICodex, CLIGemini, CLIOpenCode}

// ParseCLIType maps a name to a CLIType, falling back to Claude for unknown names
func ParseCLIType(name string) CLIType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "codex":
		return CLICodex
	case "gemini":
		return CLIGemini
	case "opencode", "open-code":
		return CLIOpenCode
	default:
		return CLIClaude
	}
}

// String returns the CLI name as used in config and flags
func (c CLIType) String() string {
	return string(c)
}
