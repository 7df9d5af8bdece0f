package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/journal"
	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/internal/ptypool"
	"github.com/cloud-shuttle/tundra/internal/workflow"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

type runOptions struct {
	pipeline    bool
	description string
	beadID      string
	worktree    string
	subtasks    []string
	agent       string
	direct      bool
}

func runCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run TITLE...",
		Short: "Run one task per title through the phase pipeline",
		Long: `Run one task per title. Tasks run concurrently, bounded by max_sessions.

By default every task walks all phases with a single agent session. With
--pipeline each task instead runs the coding, QA and fix loop with a fresh
agent per step.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("direct") {
				a.cfg.DirectMode = opts.direct
			}
			if opts.agent != "" {
				a.cfg.AgentType = opts.agent
			}
			return runTasks(cmd.Context(), a, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.pipeline, "pipeline", false, "run the coding, QA and fix pipeline")
	flags.StringVarP(&opts.description, "description", "d", "", "task description")
	flags.StringVar(&opts.beadID, "bead", "", "bead id the tasks belong to")
	flags.StringVarP(&opts.worktree, "worktree", "w", "", "worktree path, relative to worktree_dir unless absolute")
	flags.StringArrayVarP(&opts.subtasks, "subtask", "s", nil, "subtask title for the coding phase (repeatable)")
	flags.StringVar(&opts.agent, "agent", "", "agent CLI: claude, codex, gemini or opencode")
	flags.BoolVar(&opts.direct, "direct", false, "run agents in the current directory")

	return cmd
}

func runTasks(ctx context.Context, a *app, opts runOptions, titles []string) error {
	cfg := a.cfg
	logger := a.logger.WithValues(log.Kv{"cmd": "run"})

	bus := events.NewBus(events.WithBuffer(cfg.BusBuffer), events.WithLogger(a.logger))
	defer bus.Close()

	j, err := journal.Open(cfg.JournalPath, journal.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.InitSchema(); err != nil {
		return fmt.Errorf("initializing journal: %w", err)
	}

	// The journal and the progress printer stop when the bus closes.
	var consumers errgroup.Group
	journalSub := bus.Subscribe()
	consumers.Go(func() error { return j.Run(context.Background(), journalSub) })
	progressSub := bus.SubscribeFiltered(events.Filter{Kinds: []string{events.KindEvent}}.Match)
	consumers.Go(func() error {
		for msg := range progressSub.C {
			if ev, ok := msg.(*events.Event); ok {
				fmt.Fprintln(a.stdout, events.FormatEventCompact(ev))
			}
		}
		return nil
	})

	pool := ptypool.New(cfg.MaxSessions, ptypool.WithLogger(a.logger))
	spawner := executor.NewPoolSpawner(pool)

	wfOpts := []workflow.Option{
		workflow.WithLogger(a.logger),
		workflow.WithPhaseTimeout(cfg.PhaseTimeout),
		workflow.WithCLIType(cfg.CLIType()),
		workflow.WithDirectMode(cfg.DirectMode),
		workflow.WithMaxFixIterations(cfg.MaxFixIterations),
		workflow.WithStuckDetector(cfg.StuckTimeout, cfg.StuckByteBudget),
	}
	runner := workflow.NewRunner(bus, wfOpts...)
	orch := workflow.NewOrchestratorWithSpawner(spawner, bus, wfOpts...)

	if _, err := executor.CheckInstalled(cfg.CLIType()); err != nil {
		logger.Warningf("%v", err)
	}

	tasks := make([]*types.Task, 0, len(titles))
	for _, title := range titles {
		tasks = append(tasks, newTask(cfg.WorktreeDir, opts, title))
	}

	err = runAll(ctx, tasks, cfg.MaxSessions, func(ctx context.Context, task *types.Task) error {
		if opts.pipeline {
			res, err := orch.ExecuteFullPipeline(ctx, task)
			if err != nil {
				logger.Errorf("task %q failed: %v", task.Title, err)
				return fmt.Errorf("task %q: %w", task.Title, err)
			}
			logger.Infof("task %q pipeline finished (passed=%t, fix iterations=%d)",
				task.Title, res.Passed(), res.QAFix.IterationsUsed)
			return nil
		}
		if err := runTask(ctx, runner, spawner, cfg.CLIType(), task); err != nil {
			logger.Errorf("task %q failed: %v", task.Title, err)
			return err
		}
		return nil
	})

	bus.Close()
	if cerr := consumers.Wait(); cerr != nil {
		err = errors.Join(err, cerr)
	}

	for _, task := range tasks {
		fmt.Fprintf(a.stdout, "%s\t%s\t%d%%\t%s\n", task.ID, task.Phase, task.ProgressPercent, task.Title)
	}

	return err
}

// runAll drives every task through fn with at most limit running at once.
// A failing task does not cancel the others; only ctx stops them.
func runAll(ctx context.Context, tasks []*types.Task, limit int, fn func(context.Context, *types.Task) error) error {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, task := range tasks {
		task := task // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error { return fn(ctx, task) })
	}
	return g.Wait()
}

func runTask(ctx context.Context, runner *workflow.Runner, spawner executor.Spawner, cli types.CLIType, task *types.Task) error {
	workdir := task.WorktreePath
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workdir = wd
	}

	session, err := executor.SpawnSession(spawner, cli, workdir)
	if err != nil {
		return fmt.Errorf("task %q: %w", task.Title, err)
	}
	defer session.Kill()

	if err := runner.Run(ctx, task, session); err != nil {
		return fmt.Errorf("task %q: %w", task.Title, err)
	}
	return nil
}

func newTask(worktreeDir string, opts runOptions, title string) *types.Task {
	task := types.NewTask(title, opts.beadID)
	task.Description = opts.description
	task.WorktreePath = resolveWorktree(worktreeDir, opts.worktree)
	for _, st := range opts.subtasks {
		task.Subtasks = append(task.Subtasks, types.NewSubtask(st))
	}
	return task
}

// resolveWorktree maps a worktree name to a path under worktreeDir
func resolveWorktree(worktreeDir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(worktreeDir, name)
}
