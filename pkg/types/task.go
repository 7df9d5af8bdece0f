// Package types defines core data structures for Tundra
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a task is moved along an edge the phase graph does not allow
var ErrInvalidTransition = errors.New("invalid phase transition")

// TaskPhase represents the pipeline stage a task is in
type TaskPhase string

const (
	PhaseDiscovery        TaskPhase = "Discovery"
	PhaseContextGathering TaskPhase = "ContextGathering"
	PhaseSpecCreation     TaskPhase = "SpecCreation"
	PhasePlanning         TaskPhase = "Planning"
	PhaseCoding           TaskPhase = "Coding"
	PhaseQa               TaskPhase = "Qa"
	PhaseFixing           TaskPhase = "Fixing"
	PhaseMerging          TaskPhase = "Merging"
	PhaseComplete         TaskPhase = "Complete"
	PhaseError            TaskPhase = "Error"
	PhaseStopped          TaskPhase = "Stopped"
)

// RunnerPhases is the canonical order the task runner walks through
var RunnerPhases = []TaskPhase{
	PhaseDiscovery,
	PhaseContextGathering,
	PhaseSpecCreation,
	PhasePlanning,
	PhaseCoding,
	PhaseQa,
	PhaseMerging,
	PhaseComplete,
}

// phaseEdges lists the forward edges of the phase graph.
// Error and Stopped are reachable from every non-terminal phase and are not listed.
var phaseEdges = map[TaskPhase][]TaskPhase{
	PhaseDiscovery:        {PhaseContextGathering},
	PhaseContextGathering: {PhaseSpecCreation},
	PhaseSpecCreation:     {PhasePlanning},
	PhasePlanning:         {PhaseCoding},
	PhaseCoding:           {PhaseQa},
	PhaseQa:               {PhaseFixing, PhaseMerging},
	PhaseFixing:           {PhaseQa, PhaseCoding},
	PhaseMerging:          {PhaseComplete},
}

// IsTerminal reports whether no further transition is possible from this phase
func (p TaskPhase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseStopped
}

// CanTransitionTo returns true when moving from p to target is a valid edge
func (p TaskPhase) CanTransitionTo(target TaskPhase) bool {
	if p.IsTerminal() {
		return false
	}
	if target == PhaseError || target == PhaseStopped {
		return true
	}
	for _, next := range phaseEdges[p] {
		if next == target {
			return true
		}
	}
	return false
}

// ProgressPercent is the approximate completion percentage for a phase
func (p TaskPhase) ProgressPercent() int {
	switch p {
	case PhaseDiscovery:
		return 5
	case PhaseContextGathering:
		return 15
	case PhaseSpecCreation:
		return 25
	case PhasePlanning:
		return 35
	case PhaseCoding:
		return 55
	case PhaseQa:
		return 70
	case PhaseFixing:
		return 80
	case PhaseMerging:
		return 90
	case PhaseComplete:
		return 100
	default:
		return 0
	}
}

// Ordinal returns the position of the phase in RunnerPhases, or -1 for phases outside it
func (p TaskPhase) Ordinal() int {
	for i, phase := range RunnerPhases {
		if phase == p {
			return i
		}
	}
	return -1
}

// TaskLogType classifies a task log entry
type TaskLogType string

const (
	LogText       TaskLogType = "text"
	LogPhaseStart TaskLogType = "phase_start"
	LogPhaseEnd   TaskLogType = "phase_end"
	LogToolStart  TaskLogType = "tool_start"
	LogToolEnd    TaskLogType = "tool_end"
	LogError      TaskLogType = "error"
	LogSuccess    TaskLogType = "success"
	LogInfo       TaskLogType = "info"
)

// TaskLogEntry is a single line in a task's execution log
type TaskLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Phase     TaskPhase   `json:"phase"`
	Type      TaskLogType `json:"log_type"`
	Message   string      `json:"message"`
	Detail    string      `json:"detail,omitempty"`
}

// SubtaskStatus represents the state of a subtask
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskComplete   SubtaskStatus = "complete"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskSkipped    SubtaskStatus = "skipped"
)

// Subtask is an independent unit of work executed during the coding phase
type Subtask struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    SubtaskStatus `json:"status"`
	AgentID   string        `json:"agent_id,omitempty"`
	DependsOn []string      `json:"depends_on,omitempty"`
}

// NewSubtask creates a pending subtask
func NewSubtask(title string) Subtask {
	return Subtask{
		ID:     uuid.New().String(),
		Title:  title,
		Status: SubtaskPending,
	}
}

// Task represents a unit of work driven through the phase pipeline
type Task struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	BeadID          string         `json:"bead_id,omitempty"`
	Phase           TaskPhase      `json:"phase"`
	ProgressPercent int            `json:"progress_percent"`
	Error           string         `json:"error,omitempty"`
	Logs            []TaskLogEntry `json:"logs,omitempty"`
	WorktreePath    string         `json:"worktree_path,omitempty"`
	Subtasks        []Subtask      `json:"subtasks,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// NewTask creates a task at the start of the pipeline
func NewTask(title, beadID string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:              uuid.New().String(),
		Title:           title,
		BeadID:          beadID,
		Phase:           PhaseDiscovery,
		ProgressPercent: PhaseDiscovery.ProgressPercent(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TransitionTo moves the task to a new phase if the phase graph allows it.
// Moving to the current phase is a no-op.
func (t *Task) TransitionTo(phase TaskPhase) error {
	if t.Phase == phase {
		return nil
	}
	if !t.Phase.CanTransitionTo(phase) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Phase, phase)
	}
	t.Phase = phase
	t.ProgressPercent = phase.ProgressPercent()
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Log appends an entry to the task log tagged with the current phase
func (t *Task) Log(logType TaskLogType, message string) {
	now := time.Now().UTC()
	t.Logs = append(t.Logs, TaskLogEntry{
		Timestamp: now,
		Phase:     t.Phase,
		Type:      logType,
		Message:   message,
	})
	t.UpdatedAt = now
}

// DescriptionOrDefault returns the description or a placeholder when none is set
func (t *Task) DescriptionOrDefault() string {
	if t.Description == "" {
		return "No description"
	}
	return t.Description
}

// Clone returns a copy that does not share log or subtask slices with t
func (t *Task) Clone() *Task {
	c := *t
	c.Logs = append([]TaskLogEntry(nil), t.Logs...)
	c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	return &c
}
