// Package gate implements the human-approval checkpoint: the run suspends
// with its state persisted, a decision source produces approved or
// rejected, and the outcome is recorded exactly once.
package gate

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/statestore"
)

// Decision is what a source produces.
type Decision struct {
	Decision pipeline.Decision `yaml:"decision" json:"decision"`
	Note     string            `yaml:"note,omitempty" json:"note,omitempty"`
}

// Source blocks until a reviewer decision is available. Await must honor
// ctx cancellation and may be called at most once per run.
type Source interface {
	Await(ctx context.Context) (Decision, error)
}

// Gate drives the checkpoint: open (or re-enter) the pending record,
// persist the run document, await the decision, finalize, persist again.
type Gate struct {
	store   *statestore.Store
	src     Source
	timeout time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// New creates a gate over a decision source. timeout zero waits forever.
func New(store *statestore.Store, src Source, timeout time.Duration, log *logger.Logger) *Gate {
	return &Gate{
		store:   store,
		src:     src,
		timeout: timeout,
		now:     time.Now,
		log:     log.WithComponent("gate"),
	}
}

// Wait runs the checkpoint for one run. The state must be the single
// mutable run state; Wait is called from the executor's own goroutine, so
// it touches the state directly.
func (g *Gate) Wait(ctx context.Context, state *pipeline.State) error {
	runID := state.Config().RunID

	rec := state.Checkpoint()
	switch {
	case rec == nil:
		if _, err := state.OpenCheckpoint(g.now()); err != nil {
			return err
		}
		g.log.Info("checkpoint opened", logger.Fields("run_id", runID))
	case rec.Final():
		// A resumed run whose decision already landed.
		return g.outcome(runID, Decision{Decision: rec.Decision, Note: rec.Note})
	default:
		g.log.Info("re-entering pending checkpoint", logger.Fields("run_id", runID))
	}

	// Persist before blocking: a crash while waiting must leave a
	// resumable pending document behind.
	if err := g.store.Save(statestore.BuildDocument(state)); err != nil {
		return err
	}

	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	decision, err := g.src.Await(waitCtx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			g.log.Warn("checkpoint decision timed out", logger.Fields("run_id", runID))
			return errors.CheckpointTimeout(runID)
		}
		return err
	}

	if err := state.FinalizeCheckpoint(decision.Decision, decision.Note, g.now()); err != nil {
		return err
	}
	if err := g.store.Save(statestore.BuildDocument(state)); err != nil {
		return err
	}

	return g.outcome(runID, decision)
}

func (g *Gate) outcome(runID string, d Decision) error {
	if d.Decision == pipeline.DecisionApproved {
		g.log.Info("checkpoint approved", logger.Fields("run_id", runID, "note", d.Note))
		return nil
	}
	g.log.Warn("checkpoint rejected", logger.Fields("run_id", runID, "note", d.Note))
	return errors.CheckpointRejected(runID, d.Note)
}
