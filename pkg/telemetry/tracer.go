package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cloud-shuttle/tundra"

// Span names for Tundra operations
const (
	// Pipeline spans
	SpanPipelineRun = "tundra.pipeline.run"
	SpanCodingPhase = "tundra.pipeline.coding"
	SpanQAPhase     = "tundra.pipeline.qa"
	SpanQAFixLoop   = "tundra.pipeline.qa_fix_loop"

	// Runner spans
	SpanRunnerRun    = "tundra.runner.run"
	SpanPhaseExecute = "tundra.phase.execute"

	// Agent spans
	SpanAgentExecute = "tundra.agent.execute"

	// Pool spans
	SpanPoolSpawn = "tundra.pool.spawn"
)

// tracer resolves the tracer on every call so a provider installed after
// package init is always honoured.
func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// StartPipelineSpan starts a span for a full coding/QA pipeline run
func StartPipelineSpan(ctx context.Context, taskID, title string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyTaskID, taskID),
		attribute.String(KeyTaskTitle, title),
	)
	return tracer().Start(ctx, SpanPipelineRun, trace.WithAttributes(attrs...))
}

// StartPhaseSpan starts a span for a single phase of a task
func StartPhaseSpan(ctx context.Context, taskID, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyTaskID, taskID),
		attribute.String(KeyTaskPhase, phase),
	)
	return tracer().Start(ctx, SpanPhaseExecute, trace.WithAttributes(attrs...))
}

// StartTaskSpan starts a span for a task operation with task attributes
func StartTaskSpan(ctx context.Context, name string, taskAttrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(taskAttrs...))
}

// StartAgentSpan starts a span for agent execution
func StartAgentSpan(ctx context.Context, agentType, model string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AgentAttrs(agentType, model)...)
	return tracer().Start(ctx, SpanAgentExecute, trace.WithAttributes(attrs...))
}

// StartPoolSpawnSpan starts a span for claiming a pool slot and starting a process
func StartPoolSpawnSpan(ctx context.Context, command string, maxSessions int) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanPoolSpawn, trace.WithAttributes(
		attribute.String(KeySessionCmd, command),
		attribute.Int(KeyPoolMax, maxSessions),
	))
}

// RecordError records an error on a span with optional error type/category
func RecordError(span trace.Span, err error, errorType, errorCategory string) {
	if err == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("exception.message", err.Error()),
		attribute.String("exception.type", errorType),
	}

	if errorCategory != "" {
		attrs = append(attrs, attribute.String(KeyErrorCategory, errorCategory))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorWithStatus records an error and sets span status
func RecordErrorWithStatus(span trace.Span, err error, errorType, errorCategory string) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	RecordError(span, err, errorType, errorCategory)
}

// SetTaskPhase sets the task phase as a span attribute
func SetTaskPhase(span trace.Span, phase string) {
	span.SetAttributes(attribute.String(KeyTaskPhase, phase))
}

// SetQAResult sets QA outcome attributes on a span
func SetQAResult(span trace.Span, status string, issues int) {
	span.SetAttributes(
		attribute.String(KeyQAStatus, status),
		attribute.Int(KeyQAIssues, issues),
	)
}

// GetTraceID returns the trace ID from context if available
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from context if available
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// ErrorTypeFromError extracts a human-readable error type
func ErrorTypeFromError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
