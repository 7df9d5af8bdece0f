package workflow

import (
	"time"

	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

const (
	defaultPhaseTimeout     = 300 * time.Second
	defaultMaxFixIterations = 3
)

type options struct {
	logger           log.Logger
	phaseTimeout     time.Duration
	cli              types.CLIType
	directMode       bool
	maxFixIterations int
	executorOpts     []executor.Option
	stuckTimeout     time.Duration
	stuckByteBudget  int
	stuckDetection   bool
}

func defaultOptions() options {
	return options{
		logger:           log.Noop,
		phaseTimeout:     defaultPhaseTimeout,
		cli:              types.CLIClaude,
		maxFixIterations: defaultMaxFixIterations,
	}
}

// Option configures a Runner or an Orchestrator
type Option func(*options)

// WithLogger sets the logger
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPhaseTimeout bounds how long the runner waits for agent output in a phase
func WithPhaseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.phaseTimeout = d
		}
	}
}

// WithCLIType selects the agent CLI the orchestrator spawns
func WithCLIType(cli types.CLIType) Option {
	return func(o *options) {
		o.cli = cli
	}
}

// WithDirectMode runs agents in the current directory instead of the task worktree
func WithDirectMode(direct bool) Option {
	return func(o *options) {
		o.directMode = direct
	}
}

// WithMaxFixIterations bounds the QA fix loop of a full pipeline run
func WithMaxFixIterations(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxFixIterations = n
		}
	}
}

// WithExecutorOptions forwards options to the orchestrator's executor
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// WithStuckDetector makes the runner watch agent output for loops, stalls
// longer than timeout and output beyond byteBudget. A stuck agent is
// reported with a stuck:<reason> event; the task keeps running.
func WithStuckDetector(timeout time.Duration, byteBudget int) Option {
	return func(o *options) {
		o.stuckDetection = true
		o.stuckTimeout = timeout
		o.stuckByteBudget = byteBudget
	}
}
