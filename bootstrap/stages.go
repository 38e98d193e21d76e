package bootstrap

import (
	"context"
	"strings"

	"github.com/kbukum/sdtmforge/engine"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/gate"
	"github.com/kbukum/sdtmforge/graphload"
	"github.com/kbukum/sdtmforge/ingest"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/mapgen"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/report"
	"github.com/kbukum/sdtmforge/resilience"
	"github.com/kbukum/sdtmforge/statestore"
	"github.com/kbukum/sdtmforge/transform"
	"github.com/kbukum/sdtmforge/upload"
)

// stages assembles the full sequence for a fresh run. Disabled stages are
// omitted outright rather than skip-marked: the report only mentions
// stages that were part of the run.
func (a *App) stages() []engine.Stage {
	out := []engine.Stage{
		a.ingestStage(),
		a.validateRawStage(),
		a.generateMappingsStage(),
	}
	if a.Config.Checkpoint.Enabled {
		out = append(out, a.checkpointStage())
	}
	out = append(out, a.postCheckpointStages()...)
	return out
}

// resumeStages starts at the gate: the restored state already carries the
// results of everything before it.
func (a *App) resumeStages() []engine.Stage {
	out := []engine.Stage{a.checkpointStage()}
	return append(out, a.postCheckpointStages()...)
}

func (a *App) postCheckpointStages() []engine.Stage {
	out := []engine.Stage{
		a.transformStage(),
		a.validateOutputStage(),
		a.generateCodeStage(),
	}
	if a.Config.GraphStore.Enabled {
		out = append(out, a.loadGraphStage())
	}
	if a.Config.Upload.Enabled {
		out = append(out, a.uploadStage())
	}
	return append(out, a.reportStage())
}

func (a *App) ingestStage() engine.Stage {
	return engine.Stage{
		Name: pipeline.StageIngest,
		Kind: engine.Scalar,
		Mode: engine.FailFatal,
		Node: engine.NodeFunc(pipeline.StageIngest, func(ctx context.Context, view *pipeline.Snapshot, _ *pipeline.DomainUnit) pipeline.StageResult {
			units, err := a.discover(ctx)
			if err != nil {
				return pipeline.Failed(pipeline.StageIngest, "", err)
			}
			return pipeline.OK(pipeline.StageIngest, "", units)
		}),
		Install: func(state *pipeline.State, res pipeline.StageResult) error {
			units, err := pipeline.Payload[[]pipeline.DomainUnit](res)
			if err != nil {
				return err
			}
			return state.SetDomains(units)
		},
	}
}

// discover selects the ingestor by source shape: a postgres:// DSN reads
// staging tables, anything else is treated as a directory of extracts.
func (a *App) discover(ctx context.Context) ([]pipeline.DomainUnit, error) {
	cfg := a.Config
	if strings.HasPrefix(cfg.Source, "postgres://") || strings.HasPrefix(cfg.Source, "postgresql://") {
		ing, err := ingest.NewPostgresIngestor(ctx, cfg.Source, cfg.Postgres, cfg.Domains, a.Log)
		if err != nil {
			return nil, err
		}
		defer ing.Close()
		return ing.Discover(ctx)
	}
	return ingest.NewDirIngestor(cfg.Source, cfg.Domains, a.Log).Discover(ctx)
}

func (a *App) validateRawStage() engine.Stage {
	raw, _ := a.validators()
	return engine.Stage{
		Name: pipeline.StageValidateRaw,
		Kind: engine.Fanned,
		Mode: engine.FailIsolate,
		Node: engine.NodeFunc(pipeline.StageValidateRaw, func(_ context.Context, _ *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
			rep := raw.Validate(*unit)
			if err := a.Tree.WriteYAML(a.Tree.ValidationReport(unit.Domain), rep); err != nil {
				return pipeline.Failed(pipeline.StageValidateRaw, unit.Domain, errors.Internal(err))
			}
			if !rep.Pass {
				return pipeline.Failed(pipeline.StageValidateRaw, unit.Domain,
					errors.ValidationFailed(unit.Domain, rep.ErrorCount()))
			}
			return pipeline.OK(pipeline.StageValidateRaw, unit.Domain, rep)
		}),
	}
}

func (a *App) generateMappingsStage() engine.Stage {
	gen := a.generator()
	return engine.Stage{
		Name: pipeline.StageGenerateMappings,
		Kind: engine.Fanned,
		Mode: engine.FailIsolate,
		Node: engine.NodeFunc(pipeline.StageGenerateMappings, func(ctx context.Context, _ *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
			spec, err := gen.Generate(ctx, *unit)
			if err != nil {
				return pipeline.Failed(pipeline.StageGenerateMappings, unit.Domain, err)
			}
			if err := a.Tree.WriteYAML(a.Tree.MappingSpec(unit.Domain), spec); err != nil {
				return pipeline.Failed(pipeline.StageGenerateMappings, unit.Domain, errors.Internal(err))
			}
			return pipeline.OK(pipeline.StageGenerateMappings, unit.Domain, spec)
		}),
	}
}

func (a *App) checkpointStage() engine.Stage {
	return engine.Stage{
		Name: pipeline.StageCheckpoint,
		Kind: engine.Scalar,
		Mode: engine.FailGate,
		Gate: func(ctx context.Context, state *pipeline.State) error {
			src, err := a.decisionSource(state)
			if err != nil {
				return errors.InvalidConfig(err.Error())
			}
			g := gate.New(a.Store, src, a.Config.Checkpoint.Timeout, a.Log)
			return g.Wait(ctx, state)
		},
	}
}

func (a *App) transformStage() engine.Stage {
	tr := transform.New()
	return engine.Stage{
		Name: pipeline.StageTransform,
		Kind: engine.Fanned,
		Mode: engine.FailIsolate,
		Node: engine.NodeFunc(pipeline.StageTransform, func(_ context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
			spec, err := specFor(view, unit.Domain)
			if err != nil {
				return pipeline.Failed(pipeline.StageTransform, unit.Domain, err)
			}
			res, err := tr.Apply(*unit, spec)
			if err != nil {
				return pipeline.Failed(pipeline.StageTransform, unit.Domain, err)
			}
			if err := a.Tree.WriteCSV(a.Tree.Dataset(unit.Domain), res.Table); err != nil {
				return pipeline.Failed(pipeline.StageTransform, unit.Domain, errors.Internal(err))
			}
			return pipeline.OK(pipeline.StageTransform, unit.Domain, res)
		}),
	}
}

func (a *App) validateOutputStage() engine.Stage {
	_, conf := a.validators()
	return engine.Stage{
		Name: pipeline.StageValidateOutput,
		Kind: engine.Fanned,
		Mode: engine.FailIsolate,
		Node: engine.NodeFunc(pipeline.StageValidateOutput, func(_ context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
			prev, ok := view.Result(pipeline.StageTransform, unit.Domain)
			if !ok {
				return pipeline.Failed(pipeline.StageValidateOutput, unit.Domain,
					errors.InvariantViolation("transform result missing for "+unit.Domain))
			}
			tres, err := pipeline.Payload[transform.Result](prev)
			if err != nil {
				return pipeline.Failed(pipeline.StageValidateOutput, unit.Domain, errors.Internal(err))
			}
			rep := conf.Validate(unit.Domain, tres.Table)
			if err := a.Tree.WriteYAML(a.Tree.ComplianceReport(unit.Domain), rep); err != nil {
				return pipeline.Failed(pipeline.StageValidateOutput, unit.Domain, errors.Internal(err))
			}
			if !rep.Pass {
				return pipeline.Failed(pipeline.StageValidateOutput, unit.Domain,
					errors.ValidationFailed(unit.Domain, rep.ErrorCount()))
			}
			return pipeline.OK(pipeline.StageValidateOutput, unit.Domain, rep)
		}),
	}
}

func (a *App) generateCodeStage() engine.Stage {
	return engine.Stage{
		Name: pipeline.StageGenerateCode,
		Kind: engine.Fanned,
		Mode: engine.FailIsolate,
		Node: engine.NodeFunc(pipeline.StageGenerateCode, func(_ context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
			spec, err := specFor(view, unit.Domain)
			if err != nil {
				return pipeline.Failed(pipeline.StageGenerateCode, unit.Domain, err)
			}
			programs, err := a.renderer.Render(view.Config().RunID, unit.SourceID, spec)
			if err != nil {
				return pipeline.Failed(pipeline.StageGenerateCode, unit.Domain, err)
			}
			names := make([]string, 0, len(programs))
			for _, p := range programs {
				if err := a.Tree.WriteText(a.Tree.Program(p.Filename), p.Source); err != nil {
					return pipeline.Failed(pipeline.StageGenerateCode, unit.Domain, errors.Internal(err))
				}
				names = append(names, p.Filename)
			}
			return pipeline.OK(pipeline.StageGenerateCode, unit.Domain, names)
		}),
	}
}

func (a *App) loadGraphStage() engine.Stage {
	cfg := a.Config.GraphStore
	return engine.Stage{
		Name: pipeline.StageLoadGraphStore,
		Kind: engine.Scalar,
		Mode: engine.FailSoft,
		Node: engine.NodeFunc(pipeline.StageLoadGraphStore, func(ctx context.Context, view *pipeline.Snapshot, _ *pipeline.DomainUnit) pipeline.StageResult {
			loader, err := graphload.NewNeo4jLoader(ctx, cfg.URI, cfg.Username, cfg.Password, cfg.Database, a.Log)
			if err != nil {
				return pipeline.Failed(pipeline.StageLoadGraphStore, "", errors.LoadFailed(err))
			}
			defer func() { _ = loader.Close(ctx) }()

			runID := view.Config().RunID
			outcome, err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() (graphload.Outcome, error) {
				return loader.Load(ctx, runID, studyID(view.Config()), lineages(view))
			})
			if err != nil {
				return pipeline.Failed(pipeline.StageLoadGraphStore, "", errors.LoadFailed(err))
			}
			return pipeline.OK(pipeline.StageLoadGraphStore, "", outcome)
		}),
	}
}

// lineages collects the mapping provenance of every domain that made it
// through transform, in domain order.
func lineages(view *pipeline.Snapshot) []graphload.DomainLineage {
	var out []graphload.DomainLineage
	for _, u := range view.Domains() {
		tres, ok := view.Result(pipeline.StageTransform, u.Domain)
		if !ok || tres.Status != pipeline.StatusOK {
			continue
		}
		spec, err := specFor(view, u.Domain)
		if err != nil {
			continue
		}
		rows := u.RecordCount
		if res, perr := pipeline.Payload[transform.Result](tres); perr == nil {
			rows = res.RowsOut
		}
		out = append(out, graphload.DomainLineage{
			Domain:   u.Domain,
			SourceID: u.SourceID,
			Rows:     rows,
			Spec:     spec,
		})
	}
	return out
}

func (a *App) uploadStage() engine.Stage {
	cfg := a.Config.Upload
	return engine.Stage{
		Name: pipeline.StageUploadObjects,
		Kind: engine.Scalar,
		Mode: engine.FailSoft,
		Node: engine.NodeFunc(pipeline.StageUploadObjects, func(ctx context.Context, view *pipeline.Snapshot, _ *pipeline.DomainUnit) pipeline.StageResult {
			up, err := upload.NewMinioUploader(ctx, cfg, a.Log)
			if err != nil {
				return pipeline.Failed(pipeline.StageUploadObjects, "", errors.UploadFailed(0, err))
			}
			outcome, err := up.UploadTree(ctx, a.Tree.Root(), view.Config().RunID)
			if err != nil {
				// Partial outcomes ride along so the report can list what
				// did make it up.
				res := pipeline.Failed(pipeline.StageUploadObjects, "", err)
				res.Payload = outcome
				return res
			}
			return pipeline.OK(pipeline.StageUploadObjects, "", outcome)
		}),
	}
}

func (a *App) reportStage() engine.Stage {
	return engine.Stage{
		Name:   pipeline.StageReport,
		Kind:   engine.Scalar,
		Always: true,
		Report: func(_ context.Context, state *pipeline.State, terminal error) pipeline.StageResult {
			rep := report.Build(state, terminal)
			if err := report.Write(a.Tree.Report(), rep); err != nil {
				return pipeline.Failed(pipeline.StageReport, "", errors.Internal(err))
			}
			// Terminal checkpoint outcomes are re-persisted so a later
			// resume attempt short-circuits instead of re-opening the gate.
			if rec := state.Checkpoint(); rec != nil && rec.Final() {
				if err := a.Store.Save(statestore.BuildDocument(state)); err != nil {
					a.Log.Warn("run document save failed", logger.Fields(logger.FieldError, err.Error()))
				}
			}
			return pipeline.OK(pipeline.StageReport, "", rep)
		},
	}
}

// specFor reads the mapping spec recorded for a domain by an earlier stage.
func specFor(view *pipeline.Snapshot, domain string) (mapgen.Spec, error) {
	res, ok := view.Result(pipeline.StageGenerateMappings, domain)
	if !ok {
		return mapgen.Spec{}, errors.InvariantViolation("mapping spec missing for " + domain)
	}
	return pipeline.Payload[mapgen.Spec](res)
}
