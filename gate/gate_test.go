package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/statestore"
)

func newRunState(t *testing.T) *pipeline.State {
	t.Helper()
	cfg := &config.RunConfig{RunID: "run-1", Source: "/in", Output: t.TempDir()}
	state := pipeline.NewState(cfg, pipeline.FannedChain())
	require.NoError(t, state.SetDomains([]pipeline.DomainUnit{{SourceID: "dm.csv", Domain: "DM"}}))
	return state
}

type blockingSource struct{}

func (blockingSource) Await(ctx context.Context) (Decision, error) {
	<-ctx.Done()
	return Decision{}, ctx.Err()
}

func TestGate_Approved(t *testing.T) {
	state := newRunState(t)
	store := statestore.New(t.TempDir())
	g := New(store, StaticSource{Decision: pipeline.DecisionApproved, Note: "ok"}, 0, logger.NewDefault("sdtmforge-test"))

	require.NoError(t, g.Wait(context.Background(), state))

	rec := state.Checkpoint()
	require.NotNil(t, rec)
	assert.Equal(t, pipeline.DecisionApproved, rec.Decision)
	assert.True(t, rec.Final())

	// The final decision is on disk for auditing.
	doc, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc.Checkpoint)
	assert.Equal(t, pipeline.DecisionApproved, doc.Checkpoint.Decision)
	assert.Equal(t, "ok", doc.Checkpoint.Note)
}

func TestGate_Rejected(t *testing.T) {
	state := newRunState(t)
	store := statestore.New(t.TempDir())
	g := New(store, StaticSource{Decision: pipeline.DecisionRejected, Note: "mappings wrong"}, 0, logger.NewDefault("sdtmforge-test"))

	err := g.Wait(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCheckpointRejected, errors.CodeOf(err))
	assert.Equal(t, pipeline.DecisionRejected, state.Checkpoint().Decision)
}

func TestGate_AutoApprove(t *testing.T) {
	state := newRunState(t)
	g := New(statestore.New(t.TempDir()), AutoApprove{}, 0, logger.NewDefault("sdtmforge-test"))

	require.NoError(t, g.Wait(context.Background(), state))
	rec := state.Checkpoint()
	require.NotNil(t, rec)
	assert.Equal(t, pipeline.DecisionApproved, rec.Decision)
	assert.Equal(t, "auto-approved", rec.Note)
}

func TestGate_Timeout(t *testing.T) {
	state := newRunState(t)
	store := statestore.New(t.TempDir())
	g := New(store, blockingSource{}, 30*time.Millisecond, logger.NewDefault("sdtmforge-test"))

	err := g.Wait(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCheckpointTimeout, errors.CodeOf(err))

	// The record stays pending on disk so the run can be resumed.
	doc, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc.Checkpoint)
	assert.Equal(t, pipeline.DecisionPending, doc.Checkpoint.Decision)
}

func TestGate_ResumeAlreadyDecided(t *testing.T) {
	state := newRunState(t)
	require.NoError(t, state.RestoreCheckpoint(&pipeline.CheckpointRecord{
		Decision:  pipeline.DecisionApproved,
		CreatedAt: time.Now().Add(-time.Hour),
		DecidedAt: time.Now().Add(-time.Minute),
	}))

	// The source would block forever; a decided record must short-circuit.
	g := New(statestore.New(t.TempDir()), blockingSource{}, 10*time.Millisecond, logger.NewDefault("sdtmforge-test"))
	require.NoError(t, g.Wait(context.Background(), state))
}

func TestGate_ResumePendingReusesRecord(t *testing.T) {
	state := newRunState(t)
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, state.RestoreCheckpoint(&pipeline.CheckpointRecord{
		Decision:  pipeline.DecisionPending,
		CreatedAt: created,
	}))

	g := New(statestore.New(t.TempDir()), StaticSource{Decision: pipeline.DecisionApproved}, 0, logger.NewDefault("sdtmforge-test"))
	require.NoError(t, g.Wait(context.Background(), state))

	rec := state.Checkpoint()
	assert.Equal(t, created, rec.CreatedAt, "pending record must be reused, not recreated")
	assert.Equal(t, pipeline.DecisionApproved, rec.Decision)
}

func TestGate_ParentCancelIsNotTimeout(t *testing.T) {
	state := newRunState(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	g := New(statestore.New(t.TempDir()), blockingSource{}, time.Hour, logger.NewDefault("sdtmforge-test"))
	err := g.Wait(ctx, state)
	require.ErrorIs(t, err, context.Canceled)
}
