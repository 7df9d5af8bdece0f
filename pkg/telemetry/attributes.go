// Package telemetry provides OpenTelemetry observability for Tundra
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for Tundra-specific attributes
const (
	// Task attributes
	KeyTaskID    = "tundra.task.id"
	KeyTaskTitle = "tundra.task.title"
	KeyTaskPhase = "tundra.task.phase"
	KeyBeadID    = "tundra.bead.id"

	// Agent attributes
	KeyAgentType  = "tundra.agent.type"
	KeyAgentModel = "tundra.agent.model"
	KeyAgentID    = "tundra.agent.id"

	// Pool attributes
	KeySessionID  = "tundra.session.id"
	KeyPoolMax    = "tundra.pool.max"
	KeySessionCmd = "tundra.session.command"

	// QA attributes
	KeyQAStatus    = "tundra.qa.status"
	KeyQAIssues    = "tundra.qa.issues"
	KeyQAIteration = "tundra.qa.iteration"

	// Bus attributes
	KeyMessageKind = "tundra.bus.message_kind"

	// Outcome attributes
	KeyOutcome = "tundra.outcome"

	// Error attributes
	KeyErrorType     = "tundra.error.type"
	KeyErrorCategory = "tundra.error.category"
)

// Common attribute key values
const (
	// Outcomes
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"

	// Error categories
	ErrorCategoryAgent   = "agent"
	ErrorCategorySession = "session"
	ErrorCategoryPool    = "pool"
	ErrorCategoryPhase   = "phase"
	ErrorCategoryTimeout = "timeout"
	ErrorCategoryUnknown = "unknown"
)

// TaskAttrs returns a set of attributes for a task. The bead id is only
// included when the task came from a bead.
func TaskAttrs(id, title, phase, beadID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(KeyTaskID, id),
		attribute.String(KeyTaskTitle, title),
		attribute.String(KeyTaskPhase, phase),
	}
	if beadID != "" {
		attrs = append(attrs, attribute.String(KeyBeadID, beadID))
	}
	return attrs
}

// AgentAttrs returns a set of attributes for an agent execution
func AgentAttrs(agentType, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyAgentType, agentType),
		attribute.String(KeyAgentModel, model),
	}
}
