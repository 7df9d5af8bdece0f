package executor

import (
	"sort"
	"strconv"
	"time"

	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

// ThinkingLevel controls the extended thinking budget passed to Claude
type ThinkingLevel string

const (
	ThinkingNone   ThinkingLevel = "none"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// BudgetTokens returns the thinking budget, or 0 when thinking is off
func (t ThinkingLevel) BudgetTokens() int {
	switch t {
	case ThinkingLow:
		return 5000
	case ThinkingMedium:
		return 10000
	case ThinkingHigh:
		return 50000
	default:
		return 0
	}
}

const claudeMaxTurns = 50

// AgentConfig describes how an agent is launched for one phase
type AgentConfig struct {
	CLIType   types.CLIType
	Model     string
	Thinking  ThinkingLevel
	MaxTokens int
	Timeout   time.Duration
	Env       map[string]string
}

// DefaultModel returns the model used for a CLI when none is configured
func DefaultModel(cli types.CLIType) string {
	switch cli {
	case types.CLICodex:
		return "o3-mini"
	case types.CLIGemini:
		return "gemini-2.5-pro"
	default:
		return "claude-sonnet-4-20250514"
	}
}

// DefaultConfigForPhase returns the agent profile for a phase. Coding gets
// the largest budget and timeout; terminal phases get the smallest.
func DefaultConfigForPhase(cli types.CLIType, phase types.TaskPhase) AgentConfig {
	cfg := AgentConfig{
		CLIType: cli,
		Model:   DefaultModel(cli),
		Env:     map[string]string{},
	}

	switch phase {
	case types.PhaseDiscovery, types.PhaseContextGathering, types.PhaseMerging:
		cfg.Thinking, cfg.MaxTokens, cfg.Timeout = ThinkingLow, 8000, 120*time.Second
	case types.PhaseSpecCreation, types.PhasePlanning, types.PhaseQa, types.PhaseFixing:
		cfg.Thinking, cfg.MaxTokens, cfg.Timeout = ThinkingMedium, 16000, 300*time.Second
	case types.PhaseCoding:
		cfg.Thinking, cfg.MaxTokens, cfg.Timeout = ThinkingHigh, 32000, 600*time.Second
	default:
		cfg.Thinking, cfg.MaxTokens, cfg.Timeout = ThinkingNone, 4000, 60*time.Second
	}

	return cfg
}

// BinaryName is the executable for the configured CLI
func (c AgentConfig) BinaryName() string {
	return AdapterFor(c.CLIType).BinaryName()
}

// Args builds the command line for a non-interactive run
func (c AgentConfig) Args() []string {
	args := []string{"--model", c.Model}
	if c.CLIType != types.CLIClaude && c.CLIType != "" {
		return args
	}

	args = append(args, "--print")
	if budget := c.Thinking.BudgetTokens(); budget > 0 {
		args = append(args, "--thinking-budget", strconv.Itoa(budget))
	}
	return append(args, "--max-turns", strconv.Itoa(claudeMaxTurns))
}

// EnvVars returns the configured environment in a stable order
func (c AgentConfig) EnvVars() []ptypool.EnvVar {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]ptypool.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, ptypool.EnvVar{Key: k, Value: c.Env[k]})
	}
	return env
}
