package executor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

func TestThinkingBudget(t *testing.T) {
	assert.Equal(t, 0, executor.ThinkingNone.BudgetTokens())
	assert.Equal(t, 5000, executor.ThinkingLow.BudgetTokens())
	assert.Equal(t, 10000, executor.ThinkingMedium.BudgetTokens())
	assert.Equal(t, 50000, executor.ThinkingHigh.BudgetTokens())
}

func TestDefaultConfigForPhase(t *testing.T) {
	tests := map[string]struct {
		cli         types.CLIType
		phase       types.TaskPhase
		expModel    string
		expThinking executor.ThinkingLevel
		expTimeout  time.Duration
	}{
		"Discovery is quick.": {
			cli: types.CLIClaude, phase: types.PhaseDiscovery,
			expModel: "claude-sonnet-4-20250514", expThinking: executor.ThinkingLow, expTimeout: 120 * time.Second,
		},
		"Coding gets the largest budget.": {
			cli: types.CLIGemini, phase: types.PhaseCoding,
			expModel: "gemini-2.5-pro", expThinking: executor.ThinkingHigh, expTimeout: 600 * time.Second,
		},
		"QA uses the medium profile.": {
			cli: types.CLICodex, phase: types.PhaseQa,
			expModel: "o3-mini", expThinking: executor.ThinkingMedium, expTimeout: 300 * time.Second,
		},
		"Terminal phases disable thinking.": {
			cli: types.CLIOpenCode, phase: types.PhaseComplete,
			expModel: "claude-sonnet-4-20250514", expThinking: executor.ThinkingNone, expTimeout: 60 * time.Second,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := executor.DefaultConfigForPhase(test.cli, test.phase)
			assert.Equal(t, test.expModel, cfg.Model)
			assert.Equal(t, test.expThinking, cfg.Thinking)
			assert.Equal(t, test.expTimeout, cfg.Timeout)
		})
	}
}

func TestAgentConfigArgs(t *testing.T) {
	tests := map[string]struct {
		cfg     executor.AgentConfig
		expArgs []string
	}{
		"Claude with thinking.": {
			cfg:     executor.AgentConfig{CLIType: types.CLIClaude, Model: "m", Thinking: executor.ThinkingHigh},
			expArgs: []string{"--model", "m", "--print", "--thinking-budget", "50000", "--max-turns", "50"},
		},
		"Claude without thinking.": {
			cfg:     executor.AgentConfig{CLIType: types.CLIClaude, Model: "m", Thinking: executor.ThinkingNone},
			expArgs: []string{"--model", "m", "--print", "--max-turns", "50"},
		},
		"Other CLIs only pass the model.": {
			cfg:     executor.AgentConfig{CLIType: types.CLIGemini, Model: "g", Thinking: executor.ThinkingHigh},
			expArgs: []string{"--model", "g"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expArgs, test.cfg.Args())
		})
	}
}

func TestAdapters(t *testing.T) {
	tests := map[string]struct {
		cli       types.CLIType
		output    string
		expBinary string
		expStatus string
		expOK     bool
	}{
		"Claude completion.": {cli: types.CLIClaude, output: "Task complete", expBinary: "claude", expStatus: executor.StatusCompleted, expOK: true},
		"Claude error.":      {cli: types.CLIClaude, output: "error: boom", expBinary: "claude", expStatus: executor.StatusError, expOK: true},
		"Claude no marker.":  {cli: types.CLIClaude, output: "thinking...", expBinary: "claude"},
		"Codex finished.":    {cli: types.CLICodex, output: "finished", expBinary: "codex", expStatus: executor.StatusCompleted, expOK: true},
		"Codex error.":       {cli: types.CLICodex, output: "an error happened", expBinary: "codex", expStatus: executor.StatusError, expOK: true},
		"Gemini done.":       {cli: types.CLIGemini, output: "Done", expBinary: "gemini", expStatus: executor.StatusCompleted, expOK: true},
		"Gemini error.":      {cli: types.CLIGemini, output: "Error", expBinary: "gemini", expStatus: executor.StatusError, expOK: true},
		"OpenCode complete.": {cli: types.CLIOpenCode, output: "complete", expBinary: "opencode", expStatus: executor.StatusCompleted, expOK: true},
		"OpenCode error.":    {cli: types.CLIOpenCode, output: "Error", expBinary: "opencode", expStatus: executor.StatusError, expOK: true},
		"Unknown falls back to Claude.": {cli: types.CLIType("other"), output: "Done!", expBinary: "claude", expStatus: executor.StatusCompleted, expOK: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			adapter := executor.AdapterFor(test.cli)
			assert.Equal(t, test.expBinary, adapter.BinaryName())

			status, ok := adapter.ParseStatus(test.output)
			assert.Equal(t, test.expOK, ok)
			assert.Equal(t, test.expStatus, status)
		})
	}
}

func TestAdapterDefaultArgs(t *testing.T) {
	assert.Equal(t, []string{"--dangerously-skip-permissions"}, executor.ClaudeAdapter{}.DefaultArgs())
	assert.Equal(t, []string{"--approval-mode", "full-auto", "-q"}, executor.CodexAdapter{}.DefaultArgs())
	assert.Empty(t, executor.GeminiAdapter{}.DefaultArgs())
	assert.Empty(t, executor.OpenCodeAdapter{}.DefaultArgs())
}
