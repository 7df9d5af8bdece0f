package workflow

import (
	"fmt"
	"strings"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// PhasePrompt builds the instruction sent to the agent for a phase
func PhasePrompt(task *types.Task, phase types.TaskPhase) string {
	title := task.Title
	desc := task.DescriptionOrDefault()

	switch phase {
	case types.PhaseDiscovery:
		return fmt.Sprintf("Analyze this task and identify what needs to be done.\nTask: %s\nDescription: %s", title, desc)
	case types.PhaseContextGathering:
		return fmt.Sprintf("Gather context for this task. Read relevant files, understand the codebase structure, "+
			"and identify dependencies.\nTask: %s\nDescription: %s", title, desc)
	case types.PhaseSpecCreation:
		return fmt.Sprintf("Create a specification for this task. Define acceptance criteria, interfaces, "+
			"and expected behavior.\nTask: %s\nDescription: %s", title, desc)
	case types.PhasePlanning:
		return fmt.Sprintf("Plan the implementation. Break down into steps, identify files to modify, "+
			"and outline the approach.\nTask: %s\nDescription: %s", title, desc)
	case types.PhaseCoding:
		return fmt.Sprintf("Implement the changes according to the plan.\nTask: %s\nDescription: %s", title, desc)
	case types.PhaseQa:
		return fmt.Sprintf("Review the implementation. Run tests, check for issues, and verify the changes "+
			"meet the specification.\nTask: %s\nDescription: %s", title, desc)
	case types.PhaseFixing:
		return fmt.Sprintf("Fix any issues found during QA.\nTask: %s\nDescription: %s", title, desc)
	case types.PhaseMerging:
		return fmt.Sprintf("Prepare changes for merging. Ensure all tests pass and the branch is ready.\nTask: %s", title)
	default:
		return fmt.Sprintf("Continue working on task: %s\nDescription: %s", title, desc)
	}
}

// QAPrompt asks a reviewing agent for machine-readable findings
func QAPrompt(task *types.Task, worktree string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the implementation of this task in %s. Run the tests and check for issues.\n", worktree)
	b.WriteString("Report every issue on its own line as [CRITICAL], [MAJOR] or [MINOR] followed by a description ")
	b.WriteString("and an optional (file:line) location.\n")
	b.WriteString("Finish with a single line: verdict: pass or verdict: fail.\n")
	fmt.Fprintf(&b, "Task: %s\nDescription: %s", task.Title, task.DescriptionOrDefault())
	return b.String()
}

// FixPrompt asks an agent to resolve the issues of a QA report
func FixPrompt(task *types.Task, report *types.QaReport) string {
	return fmt.Sprintf("Fix QA issues for task '%s':\n%s", task.Title, FormatQAIssues(report))
}

// FormatQAIssues renders one line per issue for a fix prompt
func FormatQAIssues(report *types.QaReport) string {
	var b strings.Builder
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "- [%s] %s", issue.Severity, issue.Description)
		if issue.File != "" {
			fmt.Fprintf(&b, " (file: %s", issue.File)
			if issue.Line > 0 {
				fmt.Fprintf(&b, ", line: %d", issue.Line)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
