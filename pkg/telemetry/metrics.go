package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names
const (
	MetricSessionsSpawned    = "tundra.pool.sessions_spawned"
	MetricSessionsRejected   = "tundra.pool.sessions_rejected"
	MetricSessionsActive     = "tundra.pool.sessions_active"
	MetricEventsPublished    = "tundra.bus.events_published"
	MetricSubscribersEvicted = "tundra.bus.subscribers_evicted"
	MetricPhaseDuration      = "tundra.phase.duration"
	MetricAgentExecutions    = "tundra.agent.executions"
	MetricAgentDuration      = "tundra.agent.duration"
	MetricQAFixIterations    = "tundra.qa.fix_iterations"
)

// Metrics holds the instruments recorded by the pool, bus, runner and executor
type Metrics struct {
	sessionsSpawned    metric.Int64Counter
	sessionsRejected   metric.Int64Counter
	sessionsActive     metric.Int64UpDownCounter
	eventsPublished    metric.Int64Counter
	subscribersEvicted metric.Int64Counter
	phaseDuration      metric.Float64Histogram
	agentExecutions    metric.Int64Counter
	agentDuration      metric.Float64Histogram
	qaFixIterations    metric.Int64Counter
}

// NewMetrics creates every instrument on a meter from the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.sessionsSpawned, err = meter.Int64Counter(MetricSessionsSpawned,
		metric.WithDescription("PTY sessions spawned by the pool")); err != nil {
		return nil, err
	}
	if m.sessionsRejected, err = meter.Int64Counter(MetricSessionsRejected,
		metric.WithDescription("Spawn requests rejected because the pool was at capacity")); err != nil {
		return nil, err
	}
	if m.sessionsActive, err = meter.Int64UpDownCounter(MetricSessionsActive,
		metric.WithDescription("Sessions currently registered in the pool")); err != nil {
		return nil, err
	}
	if m.eventsPublished, err = meter.Int64Counter(MetricEventsPublished,
		metric.WithDescription("Messages published on the event bus")); err != nil {
		return nil, err
	}
	if m.subscribersEvicted, err = meter.Int64Counter(MetricSubscribersEvicted,
		metric.WithDescription("Subscribers evicted for falling behind")); err != nil {
		return nil, err
	}
	if m.phaseDuration, err = meter.Float64Histogram(MetricPhaseDuration,
		metric.WithDescription("Duration of a task phase"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.agentExecutions, err = meter.Int64Counter(MetricAgentExecutions,
		metric.WithDescription("Agent executions by CLI and outcome")); err != nil {
		return nil, err
	}
	if m.agentDuration, err = meter.Float64Histogram(MetricAgentDuration,
		metric.WithDescription("Duration of an agent execution"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.qaFixIterations, err = meter.Int64Counter(MetricQAFixIterations,
		metric.WithDescription("QA fix attempts performed")); err != nil {
		return nil, err
	}

	return m, nil
}

var (
	globalMu      sync.Mutex
	globalMetrics *Metrics
)

// SetMetrics replaces the instruments used by the package-level Record functions
func SetMetrics(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// current returns the installed instruments, creating them from the global
// meter provider on first use. A nil result disables recording.
func current() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil
		}
		globalMetrics = m
	}
	return globalMetrics
}

// RecordSessionSpawned counts a successful spawn
func RecordSessionSpawned(ctx context.Context, command string) {
	m := current()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(KeySessionCmd, command))
	m.sessionsSpawned.Add(ctx, 1, attrs)
	m.sessionsActive.Add(ctx, 1)
}

// RecordSessionRejected counts a spawn refused at capacity
func RecordSessionRejected(ctx context.Context, max int) {
	if m := current(); m != nil {
		m.sessionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.Int(KeyPoolMax, max)))
	}
}

// RecordSessionReleased decrements the active session gauge
func RecordSessionReleased(ctx context.Context) {
	if m := current(); m != nil {
		m.sessionsActive.Add(ctx, -1)
	}
}

// RecordEventPublished counts a message published on the bus
func RecordEventPublished(ctx context.Context, kind string) {
	if m := current(); m != nil {
		m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String(KeyMessageKind, kind)))
	}
}

// RecordSubscriberEvicted counts a subscriber dropped for a full channel
func RecordSubscriberEvicted(ctx context.Context) {
	if m := current(); m != nil {
		m.subscribersEvicted.Add(ctx, 1)
	}
}

// RecordPhaseDuration records how long a phase took and how it ended
func RecordPhaseDuration(ctx context.Context, phase, outcome string, d time.Duration) {
	if m := current(); m != nil {
		m.phaseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String(KeyTaskPhase, phase),
			attribute.String(KeyOutcome, outcome),
		))
	}
}

// RecordAgentExecution records one agent run
func RecordAgentExecution(ctx context.Context, agentType, outcome string, d time.Duration) {
	m := current()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(KeyAgentType, agentType),
		attribute.String(KeyOutcome, outcome),
	)
	m.agentExecutions.Add(ctx, 1, attrs)
	m.agentDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordQAFixIteration counts one fix attempt in the QA loop
func RecordQAFixIteration(ctx context.Context, iteration int) {
	if m := current(); m != nil {
		m.qaFixIterations.Add(ctx, 1, metric.WithAttributes(attribute.Int(KeyQAIteration, iteration)))
	}
}
