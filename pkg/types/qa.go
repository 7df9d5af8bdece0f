package types

import (
	"time"

	"github.com/google/uuid"
)

// QaStatus is the overall verdict of a QA run
type QaStatus string

const (
	QaPassed  QaStatus = "passed"
	QaFailed  QaStatus = "failed"
	QaPending QaStatus = "pending"
)

// QaSeverity ranks a QA issue
type QaSeverity string

const (
	SeverityCritical QaSeverity = "critical"
	SeverityMajor    QaSeverity = "major"
	SeverityMinor    QaSeverity = "minor"
)

// QaIssue is a single finding in a QA report
type QaIssue struct {
	ID          string     `json:"id"`
	Severity    QaSeverity `json:"severity"`
	Description string     `json:"description"`
	File        string     `json:"file,omitempty"`
	Line        int        `json:"line,omitempty"`
}

// QaReport is produced fresh by every QA run
type QaReport struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Status    QaStatus  `json:"status"`
	Issues    []QaIssue `json:"issues"`
	Timestamp time.Time `json:"timestamp"`
}

// NewQaReport creates an empty report with the given status
func NewQaReport(taskID string, status QaStatus) *QaReport {
	return &QaReport{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// AddIssue appends an issue, assigning it an id when missing
func (r *QaReport) AddIssue(issue QaIssue) {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	r.Issues = append(r.Issues, issue)
}

// CountBySeverity returns how many issues have the given severity
func (r *QaReport) CountBySeverity(sev QaSeverity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

// HasCriticalIssues reports whether any issue is critical
func (r *QaReport) HasCriticalIssues() bool {
	return r.CountBySeverity(SeverityCritical) > 0
}

// NextPhase returns the phase a task should move to after this report
func (r *QaReport) NextPhase() TaskPhase {
	switch r.Status {
	case QaPassed:
		return PhaseMerging
	case QaFailed:
		return PhaseFixing
	default:
		return PhaseQa
	}
}
