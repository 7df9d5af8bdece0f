package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/executor/executortest"
	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

func newTask() *types.Task {
	task := types.NewTask("Implement feature X", "bead-1")
	task.Description = "Add the thing"
	return task
}

func eventTypes(sub *events.Subscription) []string {
	var out []string
	for {
		select {
		case msg := <-sub.C:
			if ev, ok := msg.(*events.Event); ok {
				out = append(out, ev.Type)
			}
		default:
			return out
		}
	}
}

func TestExecuteTaskCollectsOutput(t *testing.T) {
	tests := map[string]struct {
		output     string
		expSuccess bool
		expEvents  []executor.AgentEvent
	}{
		"Plain output should succeed.": {
			output:     "code written successfully\n",
			expSuccess: true,
		},
		"Empty output should fail.": {
			output:     "",
			expSuccess: false,
		},
		"An explicit error status should fail.": {
			output:     "error: could not compile\n",
			expSuccess: false,
		},
		"Structured markers should be parsed.": {
			output:     "{\"event\":\"tool_call\",\"message\":\"read_file\"}\n[PROGRESS] 50%\nworking\n[ERROR] flaky test",
			expSuccess: true,
			expEvents: []executor.AgentEvent{
				{Type: "tool_call", Message: "read_file"},
				{Type: "progress", Message: "50%"},
				{Type: "error", Message: "flaky test"},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			spawner := executortest.NewSpawner(test.output)
			bus := events.NewBus()
			exec := executor.New(spawner, bus)

			cfg := executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseCoding)
			res, err := exec.ExecuteTask(context.Background(), newTask(), cfg, "/tmp/wt")
			require.NoError(t, err)

			assert.Equal(t, test.expSuccess, res.Success)
			assert.Equal(t, test.output, res.Output)
			assert.False(t, res.TimedOut)
			for i := range res.Events {
				res.Events[i].Data = nil
			}
			assert.Equal(t, test.expEvents, res.Events)
			assert.Equal(t, 0, exec.ActiveCount())
		})
	}
}

func TestExecuteTaskSpawnsConfiguredCLI(t *testing.T) {
	spawner := executortest.NewSpawner("done\n")
	exec := executor.New(spawner, events.NewBus())

	cfg := executor.DefaultConfigForPhase(types.CLICodex, types.PhaseQa)
	cfg.Env["API_TOKEN"] = "x"
	task := newTask()

	_, err := exec.ExecuteTask(context.Background(), task, cfg, "/tmp/wt")
	require.NoError(t, err)

	calls := spawner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "codex", calls[0].Command)
	assert.Equal(t, []string{"--model", "o3-mini"}, calls[0].Args)
	assert.Equal(t, []ptypool.EnvVar{{Key: "API_TOKEN", Value: "x"}, {Key: "PWD", Value: "/tmp/wt"}}, calls[0].Env)
	assert.Equal(t, executor.BuildPrompt(task)+"\n", calls[0].Sent())
}

func TestExecuteTaskPublishesEvents(t *testing.T) {
	spawner := executortest.NewSpawner("all good\n")
	bus := events.NewBus()
	sub := bus.Subscribe()
	exec := executor.New(spawner, bus)

	res, err := exec.ExecuteTask(context.Background(), newTask(), executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseCoding), "")
	require.NoError(t, err)

	var got []events.Message
	for len(sub.C) > 0 {
		got = append(got, <-sub.C)
	}
	require.Len(t, got, 3)

	start := got[0].(*events.Event)
	assert.Equal(t, executor.EventExecutionStart, start.Type)
	assert.Equal(t, res.AgentID, start.AgentID)
	assert.Equal(t, "bead-1", start.BeadID)
	assert.Equal(t, "Task 'Implement feature X': task_execution_start", start.Message)

	out := got[1].(*events.AgentOutput)
	assert.Equal(t, res.AgentID, out.AgentID)
	assert.Equal(t, "all good\n", out.Output)

	assert.Equal(t, executor.EventExecutionComplete, got[2].(*events.Event).Type)
}

func TestExecuteTaskTimeout(t *testing.T) {
	spawner := executortest.NewSpawner("partial output\n")
	spawner.Alive = true
	bus := events.NewBus()
	sub := bus.Subscribe()
	exec := executor.New(spawner, bus, executor.WithPollInterval(10*time.Millisecond))

	cfg := executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseCoding)
	cfg.Timeout = 50 * time.Millisecond

	res, err := exec.ExecuteTask(context.Background(), newTask(), cfg, "")
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Success)
	assert.Equal(t, "partial output\n", res.Output)
	assert.Equal(t, []string{
		executor.EventExecutionStart,
		executor.EventExecutionTimeout,
		executor.EventExecutionFailed,
	}, eventTypes(sub))
}

func TestExecutorTimeoutOverridesConfig(t *testing.T) {
	spawner := executortest.NewSpawner("still thinking\n")
	spawner.Alive = true
	exec := executor.New(spawner, events.NewBus(),
		executor.WithPollInterval(10*time.Millisecond),
		executor.WithTimeout(50*time.Millisecond),
	)

	cfg := executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseQa)
	require.Greater(t, cfg.Timeout, time.Second)

	started := time.Now()
	res, err := exec.ExecuteTask(context.Background(), newTask(), cfg, "")
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(started), cfg.Timeout)
}

func TestExecuteTaskSpawnFailure(t *testing.T) {
	spawner := executortest.NewSpawner()
	spawner.Err = ptypool.ErrAtCapacity
	exec := executor.New(spawner, events.NewBus())

	_, err := exec.ExecuteTask(context.Background(), newTask(), executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseCoding), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrSpawn)
	assert.ErrorIs(t, err, ptypool.ErrAtCapacity)
}

func TestAbort(t *testing.T) {
	spawner := executortest.NewSpawner("")
	spawner.Alive = true
	exec := executor.New(spawner, events.NewBus(), executor.WithPollInterval(10*time.Millisecond))
	task := newTask()

	err := exec.Abort(task.ID)
	assert.True(t, errors.Is(err, executor.ErrTaskNotActive))

	done := make(chan *executor.ExecutionResult, 1)
	go func() {
		res, _ := exec.ExecuteTask(context.Background(), task, executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseCoding), "")
		done <- res
	}()

	require.Eventually(t, func() bool { return exec.ActiveCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, exec.Abort(task.ID))

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.False(t, res.TimedOut)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop after abort")
	}
}

func TestExecuteTaskCancelled(t *testing.T) {
	spawner := executortest.NewSpawner("")
	spawner.Alive = true
	exec := executor.New(spawner, events.NewBus())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := exec.ExecuteTask(ctx, newTask(), executor.DefaultConfigForPhase(types.CLIClaude, types.PhaseCoding), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.False(t, res.Success)
}

func TestParseAgentEvent(t *testing.T) {
	tests := map[string]struct {
		line  string
		exp   executor.AgentEvent
		expOK bool
	}{
		"JSON event line.": {
			line:  `{"event":"tool_call","message":"bash"}`,
			exp:   executor.AgentEvent{Type: "tool_call", Message: "bash"},
			expOK: true,
		},
		"JSON without event field is plain text.": {
			line: `{"foo":"bar"}`,
		},
		"Progress marker.": {
			line:  "  [PROGRESS] 75%",
			exp:   executor.AgentEvent{Type: "progress", Message: "75%"},
			expOK: true,
		},
		"Error marker.": {
			line:  "[ERROR] build failed",
			exp:   executor.AgentEvent{Type: "error", Message: "build failed"},
			expOK: true,
		},
		"Plain text.": {
			line: "just some output",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ev, ok := executor.ParseAgentEvent(test.line)
			assert.Equal(t, test.expOK, ok)
			ev.Data = nil
			assert.Equal(t, test.exp, ev)
		})
	}
}

func TestBuildPromptIncludesTaskInfo(t *testing.T) {
	task := newTask()
	prompt := executor.BuildPrompt(task)
	assert.Contains(t, prompt, "Task: Implement feature X")
	assert.Contains(t, prompt, "Description: Add the thing")
	assert.Contains(t, prompt, "Phase: Discovery")

	task.Description = ""
	assert.Contains(t, executor.BuildPrompt(task), "Description: No description")
}
