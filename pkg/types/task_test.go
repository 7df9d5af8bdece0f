package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

func TestCanTransitionTo(t *testing.T) {
	tests := map[string]struct {
		from types.TaskPhase
		to   types.TaskPhase
		exp  bool
	}{
		"Discovery to ContextGathering":    {from: types.PhaseDiscovery, to: types.PhaseContextGathering, exp: true},
		"Discovery skipping to Coding":     {from: types.PhaseDiscovery, to: types.PhaseCoding, exp: false},
		"Planning to Coding":               {from: types.PhasePlanning, to: types.PhaseCoding, exp: true},
		"Coding to Qa":                     {from: types.PhaseCoding, to: types.PhaseQa, exp: true},
		"Qa to Fixing":                     {from: types.PhaseQa, to: types.PhaseFixing, exp: true},
		"Qa to Merging":                    {from: types.PhaseQa, to: types.PhaseMerging, exp: true},
		"Qa back to Coding":                {from: types.PhaseQa, to: types.PhaseCoding, exp: false},
		"Fixing to Qa":                     {from: types.PhaseFixing, to: types.PhaseQa, exp: true},
		"Fixing to Coding":                 {from: types.PhaseFixing, to: types.PhaseCoding, exp: true},
		"Merging to Complete":              {from: types.PhaseMerging, to: types.PhaseComplete, exp: true},
		"Any active phase to Error":        {from: types.PhaseSpecCreation, to: types.PhaseError, exp: true},
		"Any active phase to Stopped":      {from: types.PhaseQa, to: types.PhaseStopped, exp: true},
		"Complete is terminal":             {from: types.PhaseComplete, to: types.PhaseError, exp: false},
		"Error is terminal":                {from: types.PhaseError, to: types.PhaseDiscovery, exp: false},
		"Stopped is terminal":              {from: types.PhaseStopped, to: types.PhaseError, exp: false},
		"Backwards from Merging to Qa":     {from: types.PhaseMerging, to: types.PhaseQa, exp: false},
		"ContextGathering to SpecCreation": {from: types.PhaseContextGathering, to: types.PhaseSpecCreation, exp: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.from.CanTransitionTo(test.to))
		})
	}
}

func TestRunnerPhasesFollowTheGraph(t *testing.T) {
	phases := types.RunnerPhases
	require.Equal(t, types.PhaseDiscovery, phases[0])
	require.Equal(t, types.PhaseComplete, phases[len(phases)-1])

	for i := 1; i < len(phases); i++ {
		assert.True(t, phases[i-1].CanTransitionTo(phases[i]), "%s -> %s", phases[i-1], phases[i])
		assert.Equal(t, i, phases[i].Ordinal())
		assert.Greater(t, phases[i].ProgressPercent(), phases[i-1].ProgressPercent())
	}

	assert.Equal(t, -1, types.PhaseFixing.Ordinal())
	assert.Equal(t, 100, types.PhaseComplete.ProgressPercent())
}

func TestTransitionTo(t *testing.T) {
	task := types.NewTask("Implement X", "bead-1")
	require.Equal(t, types.PhaseDiscovery, task.Phase)
	require.Equal(t, 5, task.ProgressPercent)
	assert.NotEmpty(t, task.ID)

	require.NoError(t, task.TransitionTo(types.PhaseContextGathering))
	assert.Equal(t, 15, task.ProgressPercent)

	// Same phase is a no-op.
	require.NoError(t, task.TransitionTo(types.PhaseContextGathering))

	err := task.TransitionTo(types.PhaseMerging)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, types.PhaseContextGathering, task.Phase)

	require.NoError(t, task.TransitionTo(types.PhaseStopped))
	assert.True(t, task.Phase.IsTerminal())
	assert.ErrorIs(t, task.TransitionTo(types.PhaseDiscovery), types.ErrInvalidTransition)
}

func TestTaskLogAndClone(t *testing.T) {
	task := types.NewTask("Implement X", "")
	assert.Equal(t, "No description", task.DescriptionOrDefault())

	task.Log(types.LogPhaseStart, "Starting phase: Discovery")
	task.Subtasks = []types.Subtask{types.NewSubtask("parser")}

	clone := task.Clone()
	clone.Log(types.LogInfo, "only on the clone")
	clone.Subtasks[0].Status = types.SubtaskComplete

	require.Len(t, task.Logs, 1)
	assert.Equal(t, types.PhaseDiscovery, task.Logs[0].Phase)
	assert.Equal(t, types.LogPhaseStart, task.Logs[0].Type)
	assert.Len(t, clone.Logs, 2)
	assert.Equal(t, types.SubtaskPending, task.Subtasks[0].Status)
}

func TestParseCLIType(t *testing.T) {
	tests := map[string]struct {
		name string
		exp  types.CLIType
	}{
		"claude":        {name: "claude", exp: types.CLIClaude},
		"codex":         {name: " Codex ", exp: types.CLICodex},
		"gemini":        {name: "gemini", exp: types.CLIGemini},
		"opencode":      {name: "open-code", exp: types.CLIOpenCode},
		"unknown names": {name: "amp", exp: types.CLIClaude},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, types.ParseCLIType(test.name))
		})
	}
}
