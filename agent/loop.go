package agent

import (
	"context"
	"time"

	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/logging"
)

// LoopPipeline repeats an inner pipeline until an iteration bound or a stop
// predicate is hit. Every iteration appends to the same execution context, so
// later iterations see the full history of earlier ones.
type LoopPipeline struct {
	name      string
	inner     *Pipeline
	maxIters  int
	interval  time.Duration
	predicate func(*core.ExecutionContext) bool
	logger    logging.Logger
}

// LoopOptions configure a LoopPipeline.
type LoopOptions struct {
	// MaxIterations bounds the loop. Defaults to 100.
	MaxIterations int
	// Interval pauses between iterations. Defaults to none.
	Interval time.Duration
	// StopWhen, if set, is evaluated after each iteration; returning true
	// ends the loop early.
	StopWhen func(*core.ExecutionContext) bool
	// Logger receives per-iteration telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NewLoopPipeline wraps an inner pipeline in a bounded repeat.
func NewLoopPipeline(name string, inner *Pipeline, optFns ...func(o *LoopOptions)) (*LoopPipeline, error) {
	opts := LoopOptions{
		MaxIterations: 100,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if inner == nil {
		return nil, &core.InvalidPipelineError{Reason: "loop pipeline requires an inner pipeline"}
	}
	if opts.MaxIterations <= 0 {
		return nil, &core.InvalidPipelineError{Reason: "loop pipeline requires a positive iteration bound"}
	}

	return &LoopPipeline{
		name:      name,
		inner:     inner,
		maxIters:  opts.MaxIterations,
		interval:  opts.Interval,
		predicate: opts.StopWhen,
		logger:    opts.Logger,
	}, nil
}

// Name returns the loop pipeline name.
func (l *LoopPipeline) Name() string { return l.name }

// Run executes the inner pipeline up to the iteration bound. Errors from the
// inner pipeline propagate unchanged (already PipelineExecutionError).
// Cancellation between iterations stops the loop with the context's error
// wrapped the same way.
func (l *LoopPipeline) Run(ctx context.Context, ec *core.ExecutionContext) error {
	for iter := 1; iter <= l.maxIters; iter++ {
		l.logger.Info("loop.iteration", "pipeline", l.name, "iteration", iter, "max", l.maxIters)

		if err := l.inner.Run(ctx, ec); err != nil {
			return err
		}

		if l.predicate != nil && l.predicate(ec) {
			l.logger.Info("loop.stopped_by_predicate", "pipeline", l.name, "iteration", iter)
			return nil
		}

		if iter < l.maxIters && l.interval > 0 {
			select {
			case <-time.After(l.interval):
			case <-ctx.Done():
				return &core.PipelineExecutionError{FailedStep: l.name, Partial: ec, Cause: ctx.Err()}
			}
		}
	}
	return nil
}
