package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/pkg/telemetry"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

// Event types published by the executor
const (
	EventExecutionStart    = "task_execution_start"
	EventExecutionComplete = "task_execution_complete"
	EventExecutionFailed   = "task_execution_failed"
	EventExecutionTimeout  = "task_execution_timeout"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 600 * time.Second
)

// AgentEvent is a structured marker parsed from agent output
type AgentEvent struct {
	Type    string          `json:"event"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ExecutionResult contains the result of one agent execution
type ExecutionResult struct {
	TaskID   string
	AgentID  string
	Success  bool
	TimedOut bool
	Status   string
	Output   string
	Events   []AgentEvent
	Duration time.Duration
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor logger
func WithLogger(l log.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithPollInterval sets how long a single output read waits before the
// executor rechecks liveness
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithTimeout overrides the per-run timeout of every agent config
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Executor runs one agent process per task: spawn, send the prompt,
// stream the output to the bus, then release the process.
type Executor struct {
	spawner      Spawner
	bus          *events.Bus
	logger       log.Logger
	pollInterval time.Duration
	timeout      time.Duration

	mu     sync.Mutex
	active map[string]*SpawnedProcess
}

// New creates an executor that spawns agents through spawner
func New(spawner Spawner, bus *events.Bus, opts ...Option) *Executor {
	e := &Executor{
		spawner:      spawner,
		bus:          bus,
		logger:       log.Noop,
		pollInterval: defaultPollInterval,
		active:       make(map[string]*SpawnedProcess),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithValues(log.Kv{"svc": "executor.Executor"})
	return e
}

// ExecuteTask runs the agent described by cfg on task, rooted at workdir
func (e *Executor) ExecuteTask(ctx context.Context, task *types.Task, cfg AgentConfig, workdir string) (*ExecutionResult, error) {
	return e.ExecutePrompt(ctx, task, cfg, workdir, BuildPrompt(task))
}

// ExecutePrompt runs the agent with an explicit prompt. A timeout is not an
// error: the process is killed and the result reports TimedOut.
func (e *Executor) ExecutePrompt(ctx context.Context, task *types.Task, cfg AgentConfig, workdir, prompt string) (*ExecutionResult, error) {
	start := time.Now()
	logger := e.logger.WithValues(log.Kv{"task-id": task.ID, "cli": cfg.BinaryName()})

	ctx, span := telemetry.StartAgentSpan(ctx, cfg.CLIType.String(), cfg.Model,
		attribute.String(telemetry.KeyTaskID, task.ID),
		attribute.String(telemetry.KeyTaskTitle, task.Title),
	)
	defer span.End()

	env := cfg.EnvVars()
	if workdir != "" {
		env = append(env, ptypool.EnvVar{Key: "PWD", Value: workdir})
	}

	logger.Infof("executing task %q with model %s", task.Title, cfg.Model)
	proc, err := e.spawner.Spawn(cfg.BinaryName(), cfg.Args(), env)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSpawn, err)
		telemetry.RecordError(span, err, "spawn", telemetry.ErrorCategoryPool)
		return nil, err
	}
	defer proc.Release()

	logger = logger.WithValues(log.Kv{"agent-id": proc.ID})
	span.SetAttributes(attribute.String(telemetry.KeyAgentID, proc.ID))

	e.track(task.ID, proc)
	defer e.untrack(task.ID, proc)

	e.publish(task, EventExecutionStart, proc.ID)

	if err := proc.SendLine(prompt); err != nil {
		_ = proc.Kill()
		err = fmt.Errorf("%w: sending prompt: %w", ErrSession, err)
		telemetry.RecordError(span, err, "send", telemetry.ErrorCategorySession)
		e.publish(task, EventExecutionFailed, proc.ID)
		return nil, err
	}
	logger.Debugf("prompt sent: %s", truncateString(prompt, 200))

	timeout := cfg.Timeout
	switch {
	case e.timeout > 0:
		timeout = e.timeout
	case timeout <= 0:
		timeout = defaultTimeout
	}

	var (
		output   strings.Builder
		lines    lineSplitter
		agentEvs []AgentEvent
	)
	consume := func(chunk []byte) {
		output.Write(chunk)
		for _, line := range lines.feed(chunk) {
			if ev, ok := ParseAgentEvent(line); ok {
				agentEvs = append(agentEvs, ev)
			}
		}
	}

	timedOut := false
	deadline := start.Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			timedOut = true
			break
		}

		chunk, ok := proc.ReadTimeout(ctx, min(e.pollInterval, remaining))
		if ok {
			consume(chunk)
			e.bus.Publish(&events.AgentOutput{AgentID: proc.ID, TaskID: task.ID, Output: string(chunk)})
			continue
		}
		if ctx.Err() != nil || !proc.IsAlive() || proc.Drained() {
			break
		}
	}

	if rest := proc.TryReadAll(); len(rest) > 0 {
		consume(rest)
		e.bus.Publish(&events.AgentOutput{AgentID: proc.ID, TaskID: task.ID, Output: string(rest)})
	}
	if last := lines.flush(); last != "" {
		if ev, ok := ParseAgentEvent(last); ok {
			agentEvs = append(agentEvs, ev)
		}
	}

	result := &ExecutionResult{
		TaskID:   task.ID,
		AgentID:  proc.ID,
		TimedOut: timedOut,
		Output:   output.String(),
		Events:   agentEvs,
		Duration: time.Since(start),
	}
	if status, ok := AdapterFor(cfg.CLIType).ParseStatus(result.Output); ok {
		result.Status = status
	}

	if timedOut || ctx.Err() != nil {
		if err := proc.Kill(); err != nil {
			logger.Warningf("could not kill agent: %v", err)
		}
	}
	if timedOut {
		logger.Warningf("task execution timed out after %s", timeout)
		e.publish(task, EventExecutionTimeout, proc.ID)
	}

	result.Success = !timedOut && ctx.Err() == nil && result.Output != "" && result.Status != StatusError

	outcome := telemetry.OutcomeSuccess
	switch {
	case timedOut:
		outcome = telemetry.OutcomeTimeout
	case !result.Success:
		outcome = telemetry.OutcomeFailure
	}
	telemetry.RecordAgentExecution(ctx, cfg.CLIType.String(), outcome, result.Duration)

	if result.Success {
		e.publish(task, EventExecutionComplete, proc.ID)
	} else {
		e.publish(task, EventExecutionFailed, proc.ID)
	}

	logger.Infof("task execution finished (success=%t, %d bytes, %d events, %s)",
		result.Success, len(result.Output), len(result.Events), result.Duration.Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err, "cancelled", telemetry.ErrorCategoryAgent)
		return result, err
	}
	return result, nil
}

// Abort kills the agent running for taskID
func (e *Executor) Abort(taskID string) error {
	e.mu.Lock()
	proc, ok := e.active[taskID]
	delete(e.active, taskID)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotActive, taskID)
	}

	e.logger.Infof("aborting task %s (agent %s)", taskID, proc.ID)
	return proc.Kill()
}

// ActiveCount returns the number of tasks with a running agent
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Executor) track(taskID string, proc *SpawnedProcess) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[taskID] = proc
}

func (e *Executor) untrack(taskID string, proc *SpawnedProcess) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[taskID] == proc {
		delete(e.active, taskID)
	}
}

func (e *Executor) publish(task *types.Task, eventType, agentID string) {
	msg := fmt.Sprintf("Task '%s': %s", task.Title, eventType)
	e.bus.Publish(events.NewEvent(eventType, task.ID, task.BeadID, msg).WithAgent(agentID))
}

// BuildPrompt renders the default prompt fed to an agent for a task
func BuildPrompt(task *types.Task) string {
	return fmt.Sprintf("Task: %s\nDescription: %s\nPhase: %s",
		task.Title, task.DescriptionOrDefault(), task.Phase)
}

// ParseAgentEvent recognises structured markers in a line of agent output:
// {"event": ...} JSON objects, [PROGRESS] and [ERROR] prefixes.
func ParseAgentEvent(line string) (AgentEvent, bool) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "{") {
		var ev AgentEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err == nil && ev.Type != "" {
			return ev, true
		}
	}

	if rest, ok := strings.CutPrefix(trimmed, "[PROGRESS]"); ok {
		return AgentEvent{Type: "progress", Message: strings.TrimSpace(rest)}, true
	}

	if rest, ok := strings.CutPrefix(trimmed, "[ERROR]"); ok {
		return AgentEvent{Type: "error", Message: strings.TrimSpace(rest)}, true
	}

	return AgentEvent{}, false
}

// lineSplitter turns a stream of chunks into complete lines
type lineSplitter struct {
	partial string
}

func (s *lineSplitter) feed(chunk []byte) []string {
	data := s.partial + string(chunk)
	parts := strings.Split(data, "\n")
	s.partial = parts[len(parts)-1]
	lines := parts[:len(parts)-1]
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

func (s *lineSplitter) flush() string {
	last := strings.TrimRight(s.partial, "\r")
	s.partial = ""
	return last
}
