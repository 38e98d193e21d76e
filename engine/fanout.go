package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
)

// runFanned fans a stage out over its eligible domains under the run's
// concurrency cap and merges each result as it completes. Domains whose
// prerequisite did not succeed are skip-marked up front. After the stage,
// zero ok results means no domain can reach the next stage and the run
// aborts with NoEligibleDomains.
func (e *Executor) runFanned(ctx context.Context, state *pipeline.State, stage Stage) error {
	if err := e.skipIneligible(state, stage.Name); err != nil {
		return err
	}

	eligible := state.EligibleDomains(stage.Name)
	if len(eligible) == 0 {
		// Nothing new to run. On a resumed run the stage may already be
		// complete; only an empty stage with no successes aborts.
		for _, res := range state.StageResults(stage.Name) {
			if res.Status == pipeline.StatusOK {
				return nil
			}
		}
		return errors.NoEligibleDomains(stage.Name)
	}

	// The snapshot is taken once at stage start; every invocation of this
	// stage sees the same read view regardless of completion order.
	snap := state.Snapshot()

	limit := e.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(limit)
	results := make(chan pipeline.StageResult)

	go func() {
		for _, unit := range eligible {
			unit := unit
			g.Go(func() error {
				// On abort, queued work is not started; in-flight
				// siblings finish naturally.
				if ctx.Err() != nil {
					results <- pipeline.Skipped(stage.Name, unit.Domain, "run cancelled")
					return nil
				}
				results <- invoke(ctx, stage.Node, snap, &unit)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	// Single-threaded fan-in: patches are applied one at a time as they
	// arrive, which bounds memory and surfaces partial progress.
	okCount := 0
	var mergeErr error
	for res := range results {
		if mergeErr != nil {
			continue // drain remaining workers
		}
		if err := state.Apply(res); err != nil {
			mergeErr = err
			continue
		}
		if res.Status == pipeline.StatusOK {
			okCount++
		}
	}
	if mergeErr != nil {
		return mergeErr
	}

	e.log.Debug("stage fan-in complete", logger.Fields(
		logger.FieldStage, stage.Name,
		"domains", len(eligible),
		"ok", okCount,
	))

	if okCount == 0 {
		return errors.NoEligibleDomains(stage.Name)
	}
	return nil
}

// skipIneligible writes explicit skipped results for every domain whose
// prerequisite did not succeed, so the report can explain each gap.
func (e *Executor) skipIneligible(state *pipeline.State, stageName string) error {
	chain := state.Chain()
	idx := -1
	for i, s := range chain {
		if s == stageName {
			idx = i
			break
		}
	}
	if idx <= 0 {
		// First fanned stage: every discovered domain is eligible.
		return nil
	}
	prereq := chain[idx-1]

	for _, unit := range state.Domains() {
		if _, done := state.Result(stageName, unit.Domain); done {
			continue
		}
		prev, ok := state.Result(prereq, unit.Domain)
		if !ok || prev.Status == pipeline.StatusOK {
			continue
		}
		reason := fmt.Sprintf("%s %s", prereq, prev.Status)
		if prev.Reason != "" {
			reason += ": " + prev.Reason
		}
		if err := state.Apply(pipeline.Skipped(stageName, unit.Domain, reason)); err != nil {
			return err
		}
	}
	return nil
}
