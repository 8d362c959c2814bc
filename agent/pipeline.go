package agent

import (
	"context"
	"fmt"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
)

// BeforeStepHook runs before each step. Returning a non-nil turn
// short-circuits the step: the turn is appended in its place and execution
// moves on — used for gating patterns such as cooldowns. Returning an error
// aborts the pipeline.
type BeforeStepHook func(ctx context.Context, stepName string, ec *core.ExecutionContext) (*core.Turn, error)

// Pipeline executes step agents strictly in declared order, threading one
// evolving execution context through them. There is no parallelism, no
// reordering and no automatic retry; the first fatal step error aborts the
// remaining steps.
//
// A Pipeline is immutable after construction and safe for concurrent Run
// calls as long as each call gets its own ExecutionContext.
type Pipeline struct {
	name   string
	steps  []*StepAgent
	hooks  []BeforeStepHook
	logger logging.Logger
}

// PipelineOptions configure a Pipeline.
type PipelineOptions struct {
	// Hooks run before each step in registration order.
	Hooks []BeforeStepHook
	// Logger receives per-step telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NewPipeline validates the step sequence and builds the pipeline. An empty
// sequence or duplicate step names yield *core.InvalidPipelineError.
func NewPipeline(name string, steps []*StepAgent, optFns ...func(o *PipelineOptions)) (*Pipeline, error) {
	opts := PipelineOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(steps) == 0 {
		return nil, &core.InvalidPipelineError{Reason: "pipeline must declare at least one step"}
	}
	seen := map[string]bool{}
	for _, s := range steps {
		if s == nil {
			return nil, &core.InvalidPipelineError{Reason: "pipeline step must not be nil"}
		}
		if seen[s.Name()] {
			return nil, &core.InvalidPipelineError{Reason: fmt.Sprintf("duplicate step name %q", s.Name())}
		}
		seen[s.Name()] = true
	}

	return &Pipeline{
		name:   name,
		steps:  append([]*StepAgent(nil), steps...),
		hooks:  opts.Hooks,
		logger: opts.Logger,
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Steps returns the step agents in execution order. The slice is a copy.
func (p *Pipeline) Steps() []*StepAgent {
	return append([]*StepAgent(nil), p.steps...)
}

// Run executes every step in order against ec. On a step failure the
// remaining steps are skipped and the returned *core.PipelineExecutionError
// names the failed step and carries the partial context: all turns of the
// completed steps plus whatever the failing step appended before dying.
// Cancellation via ctx aborts in-flight work through the same path.
func (p *Pipeline) Run(ctx context.Context, ec *core.ExecutionContext) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return &core.PipelineExecutionError{FailedStep: step.Name(), Partial: ec, Cause: err}
		}

		skip, err := p.runHooks(ctx, step.Name(), ec)
		if err != nil {
			return &core.PipelineExecutionError{FailedStep: step.Name(), Partial: ec, Cause: err}
		}
		if skip {
			p.logger.Info("pipeline.step_short_circuited", "pipeline", p.name, "step", step.Name())
			continue
		}

		p.logger.Info("pipeline.step_start", "pipeline", p.name, "step", step.Name(), "position", i+1, "of", len(p.steps))

		if err := step.Run(ctx, ec); err != nil {
			p.logger.Error("pipeline.step_failed", "pipeline", p.name, "step", step.Name(), "error", err)
			return &core.PipelineExecutionError{FailedStep: step.Name(), Partial: ec, Cause: err}
		}
	}
	return nil
}

// runHooks runs the before-step hooks; a hook returning a turn appends it and
// signals the step should be skipped.
func (p *Pipeline) runHooks(ctx context.Context, stepName string, ec *core.ExecutionContext) (bool, error) {
	for _, hook := range p.hooks {
		turn, err := hook(ctx, stepName, ec)
		if err != nil {
			return false, fmt.Errorf("before-step hook for %s: %w", stepName, err)
		}
		if turn != nil {
			ec.Append(*turn)
			return true, nil
		}
	}
	return false, nil
}
