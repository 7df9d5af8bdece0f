package workflow_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloud-shuttle/tundra/internal/workflow"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

func TestPhasePrompt(t *testing.T) {
	tests := map[string]struct {
		phase     types.TaskPhase
		expPrefix string
		expDesc   bool
	}{
		"Discovery": {
			phase:     types.PhaseDiscovery,
			expPrefix: "Analyze this task and identify what needs to be done.",
			expDesc:   true,
		},
		"ContextGathering": {
			phase:     types.PhaseContextGathering,
			expPrefix: "Gather context for this task.",
			expDesc:   true,
		},
		"SpecCreation": {
			phase:     types.PhaseSpecCreation,
			expPrefix: "Create a specification for this task.",
			expDesc:   true,
		},
		"Planning": {
			phase:     types.PhasePlanning,
			expPrefix: "Plan the implementation.",
			expDesc:   true,
		},
		"Coding": {
			phase:     types.PhaseCoding,
			expPrefix: "Implement the changes according to the plan.",
			expDesc:   true,
		},
		"Qa": {
			phase:     types.PhaseQa,
			expPrefix: "Review the implementation.",
			expDesc:   true,
		},
		"Fixing": {
			phase:     types.PhaseFixing,
			expPrefix: "Fix any issues found during QA.",
			expDesc:   true,
		},
		"Merging": {
			phase:     types.PhaseMerging,
			expPrefix: "Prepare changes for merging.",
		},
		"Other phases should fall back to a generic prompt.": {
			phase:     types.PhaseComplete,
			expPrefix: "Continue working on task: Implement feature X",
			expDesc:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			prompt := workflow.PhasePrompt(newTask(), test.phase)

			assert.True(t, strings.HasPrefix(prompt, test.expPrefix), prompt)
			assert.Contains(t, prompt, "Implement feature X")
			if test.expDesc {
				assert.Contains(t, prompt, "Description: Add the thing")
			} else {
				assert.NotContains(t, prompt, "Description:")
			}
		})
	}
}

func TestPhasePromptWithoutDescription(t *testing.T) {
	task := types.NewTask("Bare task", "")
	assert.Contains(t, workflow.PhasePrompt(task, types.PhaseCoding), "Description: No description")
}

func TestQAPrompt(t *testing.T) {
	prompt := workflow.QAPrompt(newTask(), "/tmp/wt")

	assert.Contains(t, prompt, "/tmp/wt")
	assert.Contains(t, prompt, "verdict: pass")
	assert.Contains(t, prompt, "[CRITICAL]")
	assert.Contains(t, prompt, "Task: Implement feature X")
}

func TestFormatQAIssues(t *testing.T) {
	report := types.NewQaReport("task-1", types.QaFailed)
	report.AddIssue(types.QaIssue{Severity: types.SeverityCritical, Description: "nil deref", File: "main.go", Line: 12})
	report.AddIssue(types.QaIssue{Severity: types.SeverityMajor, Description: "slow", File: "db.go"})
	report.AddIssue(types.QaIssue{Severity: types.SeverityMinor, Description: "naming"})

	exp := "- [critical] nil deref (file: main.go, line: 12)\n" +
		"- [major] slow (file: db.go)\n" +
		"- [minor] naming\n"
	assert.Equal(t, exp, workflow.FormatQAIssues(report))

	fix := workflow.FixPrompt(newTask(), report)
	assert.True(t, strings.HasPrefix(fix, "Fix QA issues for task 'Implement feature X':\n"))
	assert.True(t, strings.HasSuffix(fix, exp))
}
