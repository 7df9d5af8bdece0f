// Package workflow drives tasks through their phases with coding agents
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/pkg/telemetry"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

var (
	// ErrPhase is returned when a phase cannot run or the agent reports an error
	ErrPhase = errors.New("phase failed")
	// ErrSession is returned when the agent session is unusable
	ErrSession = errors.New("agent session error")
	// ErrStopped is returned when a task was stopped before finishing
	ErrStopped = errors.New("task stopped")
	// ErrNoWorktree is returned when a task has no worktree outside direct mode
	ErrNoWorktree = errors.New("task has no worktree")
	// ErrInvalidPhase is returned when a task cannot enter the pipeline from its phase
	ErrInvalidPhase = errors.New("invalid task phase")
)

// Runner event types
const (
	EventTaskComplete = "task_complete"
	EventTaskError    = "task_error"
	EventTaskStopped  = "task_stopped"
)

// Session is the agent the runner talks to. *executor.AgentSession satisfies it.
type Session interface {
	SendCommand(text string) error
	ReadOutput() []byte
	ReadOutputTimeout(ctx context.Context, d time.Duration) ([]byte, bool)
	ParseStatus(output string) (string, bool)
	IsAlive() bool
}

var _ Session = (*executor.AgentSession)(nil)

// Runner walks a task through the canonical phases using one agent session
type Runner struct {
	bus          *events.Bus
	logger       log.Logger
	phaseTimeout time.Duration

	stuckDetection  bool
	stuckTimeout    time.Duration
	stuckByteBudget int
}

// NewRunner creates a Runner publishing to bus
func NewRunner(bus *events.Bus, opts ...Option) *Runner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{
		bus:          bus,
		logger:       o.logger.WithValues(log.Kv{"svc": "workflow.Runner"}),
		phaseTimeout: o.phaseTimeout,

		stuckDetection:  o.stuckDetection,
		stuckTimeout:    o.stuckTimeout,
		stuckByteBudget: o.stuckByteBudget,
	}
}

// PhaseTimeout returns how long each phase waits for agent output
func (r *Runner) PhaseTimeout() time.Duration { return r.phaseTimeout }

// Run executes every remaining phase of task, from its current phase to Complete.
// The caller owns task for the duration of the call.
func (r *Runner) Run(ctx context.Context, task *types.Task, session Session) error {
	if task.Phase.IsTerminal() {
		return fmt.Errorf("%w: task %s is already %s", ErrStopped, task.ID, task.Phase)
	}

	logger := r.logger.WithValues(log.Kv{"task-id": task.ID})

	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanRunnerRun,
		telemetry.TaskAttrs(task.ID, task.Title, string(task.Phase), task.BeadID)...)
	defer span.End()

	if task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
	}

	var detector *StuckDetector
	if r.stuckDetection {
		detector = NewStuckDetector(r.stuckTimeout, r.stuckByteBudget)
	}

	start := resumeIndex(task.Phase)
	logger.Infof("running task %q from phase %s", task.Title, types.RunnerPhases[start])

	for _, phase := range types.RunnerPhases[start:] {
		if ctx.Err() != nil {
			r.stop(task)
			logger.Warningf("task stopped before phase %s", phase)
			return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
		}

		if !session.IsAlive() {
			const msg = "agent session died unexpectedly"
			logger.Errorf(msg)
			r.fail(task, msg)
			err := fmt.Errorf("%w: %s", ErrSession, msg)
			telemetry.RecordErrorWithStatus(span, err, "session_dead", telemetry.ErrorCategorySession)
			return err
		}

		if err := r.executePhase(ctx, task, session, phase, detector); err != nil {
			if ctx.Err() != nil {
				r.stop(task)
				logger.Warningf("task stopped during phase %s", phase)
				return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
			}
			logger.Errorf("phase %s failed: %v", phase, err)
			r.fail(task, err.Error())
			telemetry.RecordErrorWithStatus(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryPhase)
			return err
		}

		if task.Phase == types.PhaseError || task.Phase == types.PhaseStopped {
			return ErrStopped
		}
	}

	if task.CompletedAt == nil {
		now := time.Now().UTC()
		task.CompletedAt = &now
	}
	logger.Infof("task pipeline complete")
	return nil
}

// resumeIndex is the position in RunnerPhases to start from. Phases outside
// the canonical list resume at the first runner phase they can move to.
func resumeIndex(phase types.TaskPhase) int {
	if i := phase.Ordinal(); i >= 0 {
		return i
	}
	for i, p := range types.RunnerPhases {
		if phase.CanTransitionTo(p) {
			return i
		}
	}
	return 0
}

func (r *Runner) executePhase(ctx context.Context, task *types.Task, session Session, phase types.TaskPhase, detector *StuckDetector) error {
	started := time.Now()
	logger := r.logger.WithValues(log.Kv{"task-id": task.ID, "phase": phase})

	ctx, span := telemetry.StartPhaseSpan(ctx, task.ID, string(phase))
	defer span.End()

	if err := task.TransitionTo(phase); err != nil {
		return fmt.Errorf("%w: %w", ErrPhase, err)
	}
	task.Log(types.LogPhaseStart, fmt.Sprintf("Starting phase: %s", phase))
	r.publish(task, "phase_start:"+string(phase))
	r.bus.Publish(&events.TaskUpdate{Task: *task.Clone()})

	if phase == types.PhaseComplete {
		now := time.Now().UTC()
		task.CompletedAt = &now
		task.Log(types.LogSuccess, "Task completed successfully")
		r.publish(task, EventTaskComplete)
		r.bus.Publish(&events.TaskUpdate{Task: *task.Clone()})
		return nil
	}

	// Output left over from the previous phase must not be read as this phase's answer.
	if stale := session.ReadOutput(); len(stale) > 0 {
		logger.Debugf("discarded %d bytes of stale output", len(stale))
	}

	if err := session.SendCommand(PhasePrompt(task, phase)); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}

	var text string
	out, ok := session.ReadOutputTimeout(ctx, r.phaseTimeout)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case ok:
		text = string(out)
		task.Log(types.LogText, fmt.Sprintf("Agent output (%d bytes)", len(out)))
		if detector != nil {
			detector.Record(text)
			if reason, stuck := detector.Check(); stuck {
				logger.Warningf("agent looks stuck: %s", reason)
				task.Log(types.LogInfo, fmt.Sprintf("Stuck detected: %s", reason))
				r.publish(task, "stuck:"+string(reason))
			}
		}
	default:
		logger.Warningf("phase timed out waiting for agent output")
		task.Log(types.LogInfo, "Phase timed out, continuing")
	}

	if status, ok := session.ParseStatus(text); ok && status == executor.StatusError {
		task.Log(types.LogError, fmt.Sprintf("Agent reported error in phase %s", phase))
		telemetry.RecordPhaseDuration(ctx, string(phase), telemetry.OutcomeFailure, time.Since(started))
		return fmt.Errorf("%w: agent error in phase %s", ErrPhase, phase)
	}

	elapsed := time.Since(started)
	task.Log(types.LogPhaseEnd, fmt.Sprintf("Completed phase: %s in %dms", phase, elapsed.Milliseconds()))
	r.publish(task, "phase_end:"+string(phase))
	span.SetAttributes(attribute.Int("tundra.phase.output_bytes", len(text)))
	telemetry.RecordPhaseDuration(ctx, string(phase), telemetry.OutcomeSuccess, elapsed)

	return nil
}

// fail moves the task to Error and announces it
func (r *Runner) fail(task *types.Task, msg string) {
	failTask(r.bus, task, msg)
}

func (r *Runner) stop(task *types.Task) {
	stopTask(r.bus, task)
}

func (r *Runner) publish(task *types.Task, eventType string) {
	publishTaskEvent(r.bus, task, eventType)
}

func publishTaskEvent(bus *events.Bus, task *types.Task, eventType string) {
	msg := fmt.Sprintf("Task '%s': %s", task.Title, eventType)
	bus.Publish(events.NewEvent(eventType, task.ID, task.BeadID, msg))
}

func failTask(bus *events.Bus, task *types.Task, msg string) {
	task.Error = msg
	if task.Phase.CanTransitionTo(types.PhaseError) {
		_ = task.TransitionTo(types.PhaseError)
	}
	task.Log(types.LogError, msg)
	publishTaskEvent(bus, task, EventTaskError)
	bus.Publish(&events.TaskUpdate{Task: *task.Clone()})
}

func stopTask(bus *events.Bus, task *types.Task) {
	if task.Phase.CanTransitionTo(types.PhaseStopped) {
		_ = task.TransitionTo(types.PhaseStopped)
	}
	task.Log(types.LogInfo, "Task stopped")
	publishTaskEvent(bus, task, EventTaskStopped)
	bus.Publish(&events.TaskUpdate{Task: *task.Clone()})
}
