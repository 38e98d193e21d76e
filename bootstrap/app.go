// Package bootstrap assembles a run: configuration in, a ready executor
// out. Collaborator clients are constructed here and injected into stage
// nodes; nothing reads ambient globals.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/kbukum/sdtmforge/artifacts"
	"github.com/kbukum/sdtmforge/codegen"
	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/engine"
	"github.com/kbukum/sdtmforge/gate"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/mapgen"
	"github.com/kbukum/sdtmforge/observability"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/report"
	"github.com/kbukum/sdtmforge/statestore"
	"github.com/kbukum/sdtmforge/targetspec"
	"github.com/kbukum/sdtmforge/validate"
	"github.com/kbukum/sdtmforge/validation"
	"github.com/kbukum/sdtmforge/version"
)

const serviceName = "sdtmforge"

// App is one assembled run.
type App struct {
	Config *config.RunConfig
	Log    *logger.Logger
	Tree   *artifacts.Tree
	Store  *statestore.Store

	catalog  *targetspec.Catalog
	renderer *codegen.Renderer
	metrics  *observability.Metrics
	closers  []func(context.Context) error
}

// Build validates the configuration and constructs the shared
// collaborators. Stage assembly happens in Run or Resume, which differ only
// in where the sequence starts.
func Build(ctx context.Context, cfg *config.RunConfig) (*App, error) {
	cfg.ApplyDefaults()
	if err := validation.Validate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(&cfg.Logging, serviceName).WithRun(cfg.RunID)

	app := &App{
		Config: cfg,
		Log:    log,
		Tree:   artifacts.NewTree(cfg.Output),
		Store:  statestore.New(cfg.Checkpoint.StateDir),
	}

	catalog, err := targetspec.Load()
	if err != nil {
		return nil, err
	}
	app.catalog = catalog

	renderer, err := codegen.New()
	if err != nil {
		return nil, err
	}
	app.renderer = renderer

	if cfg.Telemetry.Enabled {
		if err := app.initTelemetry(ctx); err != nil {
			return nil, err
		}
	}

	log.Info("run assembled", logger.Fields(
		"version", version.GetShortVersion(),
		"source", cfg.Source,
		"output", cfg.Output,
		"concurrency", cfg.Concurrency,
	))
	return app, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	cfg := a.Config

	tp, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}, a.Log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	mp, err := observability.InitMeter(ctx, observability.MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	}, a.Log)
	if err != nil {
		return fmt.Errorf("init meter: %w", err)
	}
	a.closers = append(a.closers, mp.Shutdown)

	metrics, err := observability.NewMetrics(observability.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.metrics = metrics
	return nil
}

// Run executes a fresh run through the full stage sequence.
func (a *App) Run(ctx context.Context) (engine.Result, report.RunReport, error) {
	state := pipeline.NewState(a.Config, pipeline.FannedChain())
	return a.execute(ctx, state, a.stages())
}

// Resume re-enters a run persisted at its checkpoint. Pre-checkpoint stages
// already have their results in the run document, so the sequence restarts
// at the gate.
func (a *App) Resume(ctx context.Context) (engine.Result, report.RunReport, error) {
	if !a.Store.Exists() {
		return engine.Result{}, report.RunReport{}, fmt.Errorf("no run document at %s", a.Store.Path())
	}
	doc, err := a.Store.Load()
	if err != nil {
		return engine.Result{}, report.RunReport{}, err
	}

	// Secrets are never persisted; carry them over from the live config.
	doc.Config.Checkpoint.JWTSecret = a.Config.Checkpoint.JWTSecret
	doc.Config.Checkpoint.ReviewerTokenHash = a.Config.Checkpoint.ReviewerTokenHash
	doc.Config.AI.APIKey = a.Config.AI.APIKey
	doc.Config.GraphStore.Password = a.Config.GraphStore.Password
	doc.Config.Upload.AccessKey = a.Config.Upload.AccessKey
	doc.Config.Upload.SecretKey = a.Config.Upload.SecretKey

	state, err := doc.Restore()
	if err != nil {
		return engine.Result{}, report.RunReport{}, err
	}
	a.Config = state.Config()
	a.Log = a.Log.WithRun(a.Config.RunID)

	a.Log.Info("resuming run", logger.Fields("run_id", a.Config.RunID))
	return a.execute(ctx, state, a.resumeStages())
}

func (a *App) execute(ctx context.Context, state *pipeline.State, stages []engine.Stage) (engine.Result, report.RunReport, error) {
	var opts []engine.Option
	if a.metrics != nil {
		opts = append(opts, engine.WithMetrics(a.metrics))
	}
	exec := engine.New(a.Config, stages, a.Log, opts...)

	res := exec.Run(ctx, state)

	rep := report.RunReport{}
	if stored, ok := state.Result(pipeline.StageReport, ""); ok {
		if built, err := pipeline.Payload[report.RunReport](stored); err == nil {
			rep = built
		}
	}
	return res, rep, nil
}

// Close shuts down telemetry providers.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Log.Warn("shutdown error", logger.Fields(logger.FieldError, err.Error()))
		}
	}
}

// decisionSource builds the configured gate source.
func (a *App) decisionSource(state *pipeline.State) (gate.Source, error) {
	cp := a.Config.Checkpoint
	switch cp.Source {
	case config.DecisionAuto:
		return gate.AutoApprove{}, nil
	case config.DecisionStatic:
		return gate.StaticSource{Decision: pipeline.Decision(cp.Decision)}, nil
	case config.DecisionFile:
		return gate.NewFileSource(cp.StateDir, a.Log), nil
	case config.DecisionHTTP:
		status := func() any { return report.Build(state, nil) }
		return gate.NewHTTPSource(cp, a.Config.RunID, status, a.Log), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint source %q", cp.Source)
	}
}

// heuristic or service, per the AI toggle.
func (a *App) generator() mapgen.Generator {
	if a.Config.AI.Enabled {
		return mapgen.NewServiceGenerator(a.Config.AI, a.catalog, a.Log)
	}
	return mapgen.NewHeuristicGenerator(a.catalog, studyID(a.Config))
}

// studyID derives the STUDYID constant. The run configuration has no study
// field; the run ID prefix stands in until extracts carry one.
func studyID(cfg *config.RunConfig) string {
	if len(cfg.RunID) > 8 {
		return "STUDY-" + cfg.RunID[:8]
	}
	return "STUDY-" + cfg.RunID
}

// rawValidator with default thresholds; conformance bound to the catalog.
func (a *App) validators() (*validate.RawValidator, *validate.ConformanceValidator) {
	return validate.NewRawValidator(), validate.NewConformanceValidator(a.catalog)
}
