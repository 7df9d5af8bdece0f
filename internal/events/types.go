// Package events provides the publish/subscribe bus for task lifecycle events
package events

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-shuttle/tundra/pkg/types"
)

// Message kinds carried on the bus
const (
	KindEvent       = "event"
	KindAgentOutput = "agent_output"
	KindStatus      = "status"
	KindTaskUpdate  = "task_update"
	KindError       = "error"
)

// Message is anything that can be published on the bus.
// Published messages are shared between subscribers and must not be mutated.
type Message interface {
	Kind() string
}

// AgentScoped is implemented by messages that may carry an agent id
type AgentScoped interface {
	AgentRef() (string, bool)
}

// Event is the lifecycle envelope published at every pipeline transition
type Event struct {
	ID        string    `json:"id" db:"id"`
	Type      string    `json:"event_type" db:"type"`
	AgentID   string    `json:"agent_id,omitempty" db:"agent_id"`
	BeadID    string    `json:"bead_id,omitempty" db:"bead_id"`
	TaskID    string    `json:"task_id,omitempty" db:"task_id"`
	Message   string    `json:"message" db:"message"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// NewEvent creates a new event with a fresh id and the current timestamp
func NewEvent(eventType, taskID, beadID, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TaskID:    taskID,
		BeadID:    beadID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithAgent scopes the event to an agent. Call it before publishing.
func (e *Event) WithAgent(agentID string) *Event {
	e.AgentID = agentID
	return e
}

// Kind implements Message
func (e *Event) Kind() string { return KindEvent }

// AgentRef returns the agent the event is scoped to, if any
func (e *Event) AgentRef() (string, bool) { return e.AgentID, e.AgentID != "" }

// AgentOutput carries a chunk of raw agent terminal output
type AgentOutput struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id,omitempty"`
	Output  string `json:"output"`
}

// Kind implements Message
func (o *AgentOutput) Kind() string { return KindAgentOutput }

// AgentRef returns the agent that produced the output
func (o *AgentOutput) AgentRef() (string, bool) { return o.AgentID, o.AgentID != "" }

// StatusUpdate is a daemon-level heartbeat; it never targets an agent
type StatusUpdate struct {
	Version      string        `json:"version"`
	Uptime       time.Duration `json:"uptime"`
	AgentsActive int           `json:"agents_active"`
	BeadsActive  int           `json:"beads_active"`
}

// Kind implements Message
func (s *StatusUpdate) Kind() string { return KindStatus }

// TaskUpdate carries a snapshot of a task after it changed
type TaskUpdate struct {
	Task types.Task `json:"task"`
}

// Kind implements Message
func (u *TaskUpdate) Kind() string { return KindTaskUpdate }

// ErrorMessage reports a failure to observers
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Kind implements Message
func (e *ErrorMessage) Kind() string { return KindError }

// Filter selects messages by kind, event type and ids
type Filter struct {
	Kinds   []string  `json:"kinds,omitempty"`
	Types   []string  `json:"types,omitempty"`
	TaskID  string    `json:"task_id,omitempty"`
	BeadID  string    `json:"bead_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// Match reports whether msg passes every set field of the filter.
// Fields that do not apply to a message variant reject it.
func (f Filter) Match(msg Message) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, msg.Kind()) {
		return false
	}

	if f.AgentID != "" {
		scoped, ok := msg.(AgentScoped)
		if !ok {
			return false
		}
		if id, has := scoped.AgentRef(); !has || id != f.AgentID {
			return false
		}
	}

	if len(f.Types) == 0 && f.TaskID == "" && f.BeadID == "" && f.Since.IsZero() {
		return true
	}

	event, ok := msg.(*Event)
	if !ok {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, event.Type) {
		return false
	}
	if f.TaskID != "" && event.TaskID != f.TaskID {
		return false
	}
	if f.BeadID != "" && event.BeadID != f.BeadID {
		return false
	}
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}

	return true
}

// FormatEvent formats an event for JSONL output
func FormatEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}

// FormatEventCompact formats an event in a compact human-readable format
func FormatEventCompact(event *Event) string {
	return fmt.Sprintf("[%s] %s task=%s agent=%s %s",
		event.Timestamp.Format(time.RFC3339), event.Type, event.TaskID, event.AgentID, event.Message)
}
