package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/pkg/telemetry"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

// Pipeline event types
const (
	EventPipelineStart              = "pipeline_start"
	EventCodingPhaseStart           = "coding_phase_start"
	EventCodingPhaseComplete        = "coding_phase_complete"
	EventQAPhaseStart               = "qa_phase_start"
	EventQAPhaseComplete            = "qa_phase_complete"
	EventPipelineComplete           = "pipeline_complete"
	EventPipelineCompleteFailures   = "pipeline_complete_with_failures"
	EventPipelineCompleteUnresolved = "pipeline_complete_unresolved"
)

// CodingResult summarises the coding phase of a task
type CodingResult struct {
	TaskID            string          `json:"task_id"`
	Success           bool            `json:"success"`
	Output            string          `json:"output"`
	Duration          time.Duration   `json:"duration"`
	SubtasksCompleted int             `json:"subtasks_completed"`
	Subtasks          []types.Subtask `json:"subtasks,omitempty"`
}

// QaFixResult summarises a QA fix loop. Unresolved is set when the last
// QA run could not reach a verdict.
type QaFixResult struct {
	TaskID         string          `json:"task_id"`
	Passed         bool            `json:"passed"`
	Unresolved     bool            `json:"unresolved"`
	IterationsUsed int             `json:"iterations_used"`
	FinalReport    *types.QaReport `json:"final_report"`
}

// PipelineResult is the outcome of a full coding, QA and fix run
type PipelineResult struct {
	TaskID   string        `json:"task_id"`
	Coding   *CodingResult `json:"coding"`
	QAFix    *QaFixResult  `json:"qa_fix"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether QA passed at the end of the pipeline
func (r *PipelineResult) Passed() bool {
	return r.QAFix != nil && r.QAFix.Passed
}

// Orchestrator runs the coding, QA and fix pipeline with one agent process per step
type Orchestrator struct {
	exec             *executor.Executor
	bus              *events.Bus
	logger           log.Logger
	cli              types.CLIType
	directMode       bool
	maxFixIterations int
}

// NewOrchestrator creates an orchestrator spawning agents from pool
func NewOrchestrator(pool *ptypool.Pool, bus *events.Bus, opts ...Option) *Orchestrator {
	return NewOrchestratorWithSpawner(executor.NewPoolSpawner(pool), bus, opts...)
}

// NewOrchestratorWithSpawner creates an orchestrator spawning agents through spawner
func NewOrchestratorWithSpawner(spawner executor.Spawner, bus *events.Bus, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	execOpts := append([]executor.Option{executor.WithLogger(o.logger)}, o.executorOpts...)

	return &Orchestrator{
		exec:             executor.New(spawner, bus, execOpts...),
		bus:              bus,
		logger:           o.logger.WithValues(log.Kv{"svc": "workflow.Orchestrator"}),
		cli:              o.cli,
		directMode:       o.directMode,
		maxFixIterations: o.maxFixIterations,
	}
}

// Executor exposes the executor so callers can abort running agents
func (o *Orchestrator) Executor() *executor.Executor { return o.exec }

// RunCodingPhase runs a coding agent for the task, or one per subtask in order.
// A failing subtask does not stop the ones after it.
func (o *Orchestrator) RunCodingPhase(ctx context.Context, task *types.Task, subtasks []types.Subtask) (*CodingResult, error) {
	started := time.Now()
	logger := o.logger.WithValues(log.Kv{"task-id": task.ID})

	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanCodingPhase,
		telemetry.TaskAttrs(task.ID, task.Title, string(types.PhaseCoding), task.BeadID)...)
	defer span.End()

	o.publish(task, EventCodingPhaseStart)

	cfg := executor.DefaultConfigForPhase(o.cli, types.PhaseCoding)
	workdir := o.workdir(task)
	result := &CodingResult{TaskID: task.ID, Success: true}

	if len(subtasks) == 0 {
		res, err := o.exec.ExecutePrompt(ctx, task, cfg, workdir, PhasePrompt(task, types.PhaseCoding))
		if err != nil {
			telemetry.RecordError(span, err, "coding", telemetry.ErrorCategoryAgent)
			return nil, o.sessionErr(err)
		}
		result.Success = res.Success
		result.Output = res.Output
		if res.Success {
			result.SubtasksCompleted = 1
		}
	} else {
		result.Subtasks = append([]types.Subtask(nil), subtasks...)
		for i := range result.Subtasks {
			st := &result.Subtasks[i]

			sub := task.Clone()
			sub.Title = st.Title
			sub.Description = fmt.Sprintf("Subtask of '%s': %s", task.Title, st.Title)

			st.Status = types.SubtaskInProgress
			res, err := o.exec.ExecutePrompt(ctx, sub, cfg, workdir, PhasePrompt(sub, types.PhaseCoding))
			if err != nil {
				st.Status = types.SubtaskFailed
				telemetry.RecordError(span, err, "coding", telemetry.ErrorCategoryAgent)
				return nil, o.sessionErr(err)
			}
			st.AgentID = res.AgentID

			result.Output += fmt.Sprintf("\n--- Subtask: %s ---\n", st.Title)
			result.Output += res.Output

			if res.Success {
				st.Status = types.SubtaskComplete
				result.SubtasksCompleted++
			} else {
				st.Status = types.SubtaskFailed
				result.Success = false
				logger.Warningf("subtask %q coding failed", st.Title)
			}
		}
	}

	result.Duration = time.Since(started)
	o.publish(task, EventCodingPhaseComplete)

	outcome := telemetry.OutcomeSuccess
	if !result.Success {
		outcome = telemetry.OutcomeFailure
	}
	telemetry.RecordPhaseDuration(ctx, string(types.PhaseCoding), outcome, result.Duration)
	logger.Infof("coding phase finished (success=%t, %d completed)", result.Success, result.SubtasksCompleted)

	return result, nil
}

// RunQAPhase runs a reviewing agent against worktree and parses its findings.
// Each call produces a fresh report. A run that times out or prints nothing
// yields a pending report.
func (o *Orchestrator) RunQAPhase(ctx context.Context, task *types.Task, worktree string) (*types.QaReport, error) {
	started := time.Now()
	logger := o.logger.WithValues(log.Kv{"task-id": task.ID})

	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanQAPhase,
		telemetry.TaskAttrs(task.ID, task.Title, string(types.PhaseQa), task.BeadID)...)
	defer span.End()

	o.publish(task, EventQAPhaseStart)

	cfg := executor.DefaultConfigForPhase(o.cli, types.PhaseQa)
	res, err := o.exec.ExecutePrompt(ctx, task, cfg, worktree, QAPrompt(task, worktree))
	if err != nil {
		telemetry.RecordError(span, err, "qa", telemetry.ErrorCategoryAgent)
		return nil, o.sessionErr(err)
	}

	report := ParseQAReport(task.ID, res.Output)
	if res.TimedOut {
		// Partial review output never yields a verdict.
		logger.Warningf("QA agent timed out; report stays pending")
		report = types.NewQaReport(task.ID, types.QaPending)
	}
	telemetry.SetQAResult(span, string(report.Status), len(report.Issues))
	telemetry.RecordPhaseDuration(ctx, string(types.PhaseQa), string(report.Status), time.Since(started))

	logger.Infof("QA phase completed (status=%s, %d issues)", report.Status, len(report.Issues))
	o.publish(task, EventQAPhaseComplete)

	return report, nil
}

// RunQAFixLoop alternates fix and QA runs while QA keeps failing, at most
// maxIterations times. A pending report ends the loop without spending budget.
func (o *Orchestrator) RunQAFixLoop(ctx context.Context, task *types.Task, report *types.QaReport, maxIterations int) (*QaFixResult, error) {
	logger := o.logger.WithValues(log.Kv{"task-id": task.ID})

	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanQAFixLoop,
		telemetry.TaskAttrs(task.ID, task.Title, string(task.Phase), task.BeadID)...)
	defer span.End()

	workdir := o.workdir(task)
	cfg := executor.DefaultConfigForPhase(o.cli, types.PhaseFixing)
	iterations := 0

	for report.Status == types.QaFailed && iterations < maxIterations {
		iterations++
		logger.Infof("starting QA fix iteration %d (%d issues)", iterations, len(report.Issues))
		telemetry.RecordQAFixIteration(ctx, iterations)
		o.publish(task, fmt.Sprintf("qa_fix_iteration_%d", iterations))

		o.moveTo(task, types.PhaseFixing)
		fix, err := o.exec.ExecutePrompt(ctx, task, cfg, workdir, FixPrompt(task, report))
		if err != nil {
			telemetry.RecordError(span, err, "fix", telemetry.ErrorCategoryAgent)
			return nil, o.sessionErr(err)
		}
		if !fix.Success {
			logger.Warningf("fix agent failed on iteration %d", iterations)
		}

		o.moveTo(task, types.PhaseQa)
		report, err = o.RunQAPhase(ctx, task, workdir)
		if err != nil {
			return nil, err
		}
	}

	result := &QaFixResult{
		TaskID:         task.ID,
		Passed:         report.Status == types.QaPassed,
		Unresolved:     report.Status == types.QaPending,
		IterationsUsed: iterations,
		FinalReport:    report,
	}
	span.SetAttributes(attribute.Int(telemetry.KeyQAIteration, iterations))
	telemetry.SetQAResult(span, string(report.Status), len(report.Issues))

	switch {
	case result.Unresolved:
		logger.Warningf("QA could not reach a verdict after %d fix iterations", iterations)
	case !result.Passed:
		logger.Warningf("QA fix loop exhausted after %d iterations without passing", iterations)
	}

	return result, nil
}

// ExecuteFullPipeline runs coding, QA and the fix loop for task, moving the
// task through Coding, Qa, Fixing and finally Merging when QA passes.
func (o *Orchestrator) ExecuteFullPipeline(ctx context.Context, task *types.Task) (*PipelineResult, error) {
	if task.Phase.IsTerminal() || task.Phase == types.PhaseMerging {
		return nil, fmt.Errorf("%w: %s cannot enter the pipeline", ErrInvalidPhase, task.Phase)
	}
	if !o.directMode && task.WorktreePath == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoWorktree, task.ID)
	}

	started := time.Now()
	logger := o.logger.WithValues(log.Kv{"task-id": task.ID})

	ctx, span := telemetry.StartPipelineSpan(ctx, task.ID, task.Title)
	defer span.End()

	o.publish(task, EventPipelineStart)

	if err := advanceToCoding(task); err != nil {
		return nil, o.abort(task, span, fmt.Errorf("%w: %w", ErrInvalidPhase, err))
	}
	o.bus.Publish(&events.TaskUpdate{Task: *task.Clone()})

	coding, err := o.RunCodingPhase(ctx, task, task.Subtasks)
	if err != nil {
		return nil, o.abort(task, span, err)
	}
	if len(coding.Subtasks) > 0 {
		task.Subtasks = coding.Subtasks
	}
	if !coding.Success {
		logger.Warningf("coding phase failed; proceeding to QA anyway")
	}

	o.moveTo(task, types.PhaseQa)
	report, err := o.RunQAPhase(ctx, task, o.workdir(task))
	if err != nil {
		return nil, o.abort(task, span, err)
	}

	fix, err := o.RunQAFixLoop(ctx, task, report, o.maxFixIterations)
	if err != nil {
		return nil, o.abort(task, span, err)
	}

	result := &PipelineResult{
		TaskID:   task.ID,
		Coding:   coding,
		QAFix:    fix,
		Duration: time.Since(started),
	}

	eventType := EventPipelineCompleteFailures
	switch {
	case fix.Passed:
		o.moveTo(task, types.PhaseMerging)
		task.Log(types.LogSuccess, "QA passed, ready for merging")
		eventType = EventPipelineComplete
	case fix.Unresolved:
		task.Log(types.LogInfo, "QA did not reach a verdict")
		eventType = EventPipelineCompleteUnresolved
	default:
		task.Log(types.LogError, fmt.Sprintf("QA still failing after %d fix iterations", fix.IterationsUsed))
	}
	o.publish(task, eventType)
	o.bus.Publish(&events.TaskUpdate{Task: *task.Clone()})

	telemetry.SetQAResult(span, string(fix.FinalReport.Status), len(fix.FinalReport.Issues))
	logger.Infof("pipeline finished (passed=%t, %d fix iterations, %s)",
		fix.Passed, fix.IterationsUsed, result.Duration.Round(time.Millisecond))

	return result, nil
}

// advanceToCoding walks task along valid edges until it reaches Coding
func advanceToCoding(task *types.Task) error {
	for task.Phase != types.PhaseCoding {
		next := types.PhaseCoding
		switch ord := task.Phase.Ordinal(); {
		case task.Phase == types.PhaseQa:
			next = types.PhaseFixing
		case ord >= 0 && ord < types.PhaseCoding.Ordinal():
			next = types.RunnerPhases[ord+1]
		}
		if err := task.TransitionTo(next); err != nil {
			return err
		}
	}
	return nil
}

// moveTo transitions task when the graph allows it and logs otherwise
func (o *Orchestrator) moveTo(task *types.Task, phase types.TaskPhase) {
	if err := task.TransitionTo(phase); err != nil {
		o.logger.Debugf("task %s stays in %s: %v", task.ID, task.Phase, err)
		return
	}
	o.bus.Publish(&events.TaskUpdate{Task: *task.Clone()})
}

// abort marks the task failed, or stopped when the context ended, and returns err
func (o *Orchestrator) abort(task *types.Task, span trace.Span, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		o.logger.Warningf("pipeline for task %s stopped: %v", task.ID, err)
		stopTask(o.bus, task)
		return fmt.Errorf("%w: %w", ErrStopped, err)
	}
	o.logger.Errorf("pipeline for task %s failed: %v", task.ID, err)
	telemetry.RecordErrorWithStatus(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryAgent)
	failTask(o.bus, task, err.Error())
	return err
}

// workdir is where agents run: the current directory in direct mode,
// the task worktree otherwise
func (o *Orchestrator) workdir(task *types.Task) string {
	if o.directMode {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	if task.WorktreePath == "" {
		return "."
	}
	return task.WorktreePath
}

// sessionErr maps spawn failures to ErrSession and passes other errors through
func (o *Orchestrator) sessionErr(err error) error {
	if errors.Is(err, executor.ErrSpawn) || errors.Is(err, executor.ErrSession) {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	return err
}

func (o *Orchestrator) publish(task *types.Task, eventType string) {
	publishTaskEvent(o.bus, task, eventType)
}
