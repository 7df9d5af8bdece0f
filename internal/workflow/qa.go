package workflow

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// maxMajorIssues is the number of major issues a report tolerates before failing
const maxMajorIssues = 2

var (
	issueLine   = regexp.MustCompile(`(?i)^\[(critical|major|minor)\]\s*(.+?)(?:\s+\(([^()]+?)(?::(\d+))?\))?$`)
	verdictLine = regexp.MustCompile(`(?i)^verdict:\s*(pass|passed|fail|failed)\b`)
)

type jsonIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line"`
}

// ParseQAReport extracts issues and a verdict from QA agent output.
//
// A report fails on any critical issue, more than two major issues or an
// explicit "verdict: fail". It passes when nothing failed and there are no
// issues or the agent said "verdict: pass". Everything else, including empty
// output, stays pending.
func ParseQAReport(taskID, output string) *types.QaReport {
	if strings.TrimSpace(output) == "" {
		return types.NewQaReport(taskID, types.QaPending)
	}

	report := types.NewQaReport(taskID, types.QaPending)
	verdict := ""

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := verdictLine.FindStringSubmatch(line); m != nil {
			verdict = strings.ToLower(m[1])
			continue
		}

		if m := issueLine.FindStringSubmatch(line); m != nil {
			issue := types.QaIssue{
				Severity:    types.QaSeverity(strings.ToLower(m[1])),
				Description: m[2],
				File:        strings.TrimSpace(m[3]),
			}
			if m[4] != "" {
				issue.Line, _ = strconv.Atoi(m[4])
			}
			report.AddIssue(issue)
			continue
		}

		if strings.HasPrefix(line, "{") {
			var ji jsonIssue
			if err := json.Unmarshal([]byte(line), &ji); err == nil && ji.Description != "" {
				if sev, ok := parseSeverity(ji.Severity); ok {
					report.AddIssue(types.QaIssue{
						Severity:    sev,
						Description: ji.Description,
						File:        ji.File,
						Line:        ji.Line,
					})
				}
			}
		}
	}

	failed := report.HasCriticalIssues() ||
		report.CountBySeverity(types.SeverityMajor) > maxMajorIssues ||
		strings.HasPrefix(verdict, "fail")

	switch {
	case failed:
		report.Status = types.QaFailed
	case len(report.Issues) == 0 || strings.HasPrefix(verdict, "pass"):
		report.Status = types.QaPassed
	default:
		report.Status = types.QaPending
	}

	return report
}

func parseSeverity(s string) (types.QaSeverity, bool) {
	switch types.QaSeverity(strings.ToLower(strings.TrimSpace(s))) {
	case types.SeverityCritical:
		return types.SeverityCritical, true
	case types.SeverityMajor:
		return types.SeverityMajor, true
	case types.SeverityMinor:
		return types.SeverityMinor, true
	default:
		return "", false
	}
}
