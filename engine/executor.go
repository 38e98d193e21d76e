package engine

import (
	"context"
	"time"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/observability"
	"github.com/kbukum/sdtmforge/pipeline"
)

// Executor drives the fixed stage sequence of a run.
type Executor struct {
	cfg     *config.RunConfig
	stages  []Stage
	log     *logger.Logger
	metrics *observability.Metrics
}

// Option configures the executor.
type Option func(*Executor)

// WithMetrics attaches metric recording to every node invocation.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New builds an executor over the given stage list. Interceptors (tracing,
// logging, metrics) are applied to every node uniformly so the stage bodies
// stay pure.
func New(cfg *config.RunConfig, stages []Stage, log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		cfg:    cfg,
		stages: stages,
		log:    log.WithComponent("engine").WithRun(cfg.RunID),
	}
	for _, opt := range opts {
		opt(e)
	}

	for i := range e.stages {
		if e.stages[i].Node == nil {
			continue
		}
		node := WithTracing(e.stages[i].Node)
		node = WithLogging(node, e.log)
		if e.metrics != nil {
			node = WithNodeMetrics(node, e.metrics)
		}
		e.stages[i].Node = node
	}
	return e
}

// Result is the run-level outcome returned by Run.
type Result struct {
	// Terminal is "completed", or the error code that ended the run.
	Terminal string
	// Err is the aborting error, nil when the run completed.
	Err error
	// Duration is the wall time of the whole run.
	Duration time.Duration
}

// Run drives every stage in order and returns the run-level outcome.
// Aborting errors stop the sequence; stages marked Always (report) still
// execute so the terminal report reflects everything completed so far.
func (e *Executor) Run(ctx context.Context, state *pipeline.State) Result {
	start := time.Now()
	var abort error

	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil && abort == nil {
			abort = errors.Internal(err)
		}
		if abort != nil && !stage.Always {
			continue
		}

		var err error
		switch {
		case stage.Gate != nil:
			err = e.runGate(ctx, state, stage)
		case stage.Report != nil:
			e.runReport(ctx, state, stage, abort)
		case stage.Kind == Fanned:
			err = e.runFanned(ctx, state, stage)
		default:
			err = e.runScalar(ctx, state, stage)
		}

		if err != nil && abort == nil {
			abort = err
			e.log.Error("run aborted", logger.Fields(
				logger.FieldStage, stage.Name,
				logger.FieldError, err.Error(),
			))
		}
	}

	res := Result{Terminal: "completed", Err: abort, Duration: time.Since(start)}
	if abort != nil {
		res.Terminal = string(errors.CodeOf(abort))
	}
	e.log.Info("run finished", logger.Fields(
		"terminal", res.Terminal,
		logger.FieldDuration, res.Duration.Milliseconds(),
	))
	return res
}

// runScalar executes a whole-run stage inline and applies its patch.
func (e *Executor) runScalar(ctx context.Context, state *pipeline.State, stage Stage) error {
	res := invoke(ctx, stage.Node, state.Snapshot(), nil)
	if err := state.Apply(res); err != nil {
		return err
	}

	if res.Status == pipeline.StatusOK && stage.Install != nil {
		if err := stage.Install(state, res); err != nil {
			return err
		}
	}

	if res.Status == pipeline.StatusFailed {
		switch stage.Mode {
		case FailSoft:
			// Degraded outcome: the report surfaces it, the run goes on.
			e.log.Warn("integration stage failed", logger.Fields(
				logger.FieldStage, stage.Name,
				"reason", res.Reason,
			))
		default:
			return errors.New(res.Code, res.Reason)
		}
	}
	return nil
}

// runGate executes the checkpoint stage. The gate owns the record
// lifecycle; the executor records the stage outcome and aborts on
// rejection or timeout.
func (e *Executor) runGate(ctx context.Context, state *pipeline.State, stage Stage) error {
	start := time.Now()
	gateErr := stage.Gate(ctx, state)
	duration := time.Since(start)

	var res pipeline.StageResult
	if gateErr != nil {
		res = pipeline.Failed(stage.Name, "", gateErr).WithDuration(duration)
	} else {
		res = pipeline.OK(stage.Name, "", state.Checkpoint()).WithDuration(duration)
	}
	if err := state.Apply(res); err != nil {
		return err
	}
	return gateErr
}

// runReport executes the terminal report stage. Report failures are logged
// but never replace the run's terminal condition.
func (e *Executor) runReport(ctx context.Context, state *pipeline.State, stage Stage, terminal error) {
	res := stage.Report(ctx, state, terminal)
	if err := state.Apply(res); err != nil {
		e.log.Error("report result rejected", logger.ErrorFields(stage.Name, err))
		return
	}
	if res.Status == pipeline.StatusFailed {
		e.log.Error("report stage failed", logger.Fields("reason", res.Reason))
	}
}

// invoke times one node invocation and stamps the duration on its result.
func invoke(ctx context.Context, node Node, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
	start := time.Now()
	res := node.Run(ctx, view, unit)
	return res.WithDuration(time.Since(start))
}
