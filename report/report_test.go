package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/graphload"
	"github.com/kbukum/sdtmforge/pipeline"
)

// finishedState models a run where VS failed transform, AE was rejected by
// raw validation, and DM went all the way through.
func finishedState(t *testing.T) *pipeline.State {
	t.Helper()
	cfg := &config.RunConfig{RunID: "run-1", Source: "/in", Output: "/out"}
	state := pipeline.NewState(cfg, pipeline.FannedChain())

	require.NoError(t, state.SetDomains([]pipeline.DomainUnit{
		{SourceID: "dm.csv", Domain: "DM", RecordCount: 10},
		{SourceID: "ae.csv", Domain: "AE", RecordCount: 0},
		{SourceID: "vs.csv", Domain: "VS", RecordCount: 40},
	}))
	require.NoError(t, state.Apply(pipeline.OK(pipeline.StageIngest, "", 3)))

	apply := func(res pipeline.StageResult) {
		require.NoError(t, state.Apply(res))
	}

	apply(pipeline.OK(pipeline.StageValidateRaw, "DM", nil))
	apply(pipeline.Failed(pipeline.StageValidateRaw, "AE", errors.ValidationFailed("AE", 1)))
	apply(pipeline.OK(pipeline.StageValidateRaw, "VS", nil))

	apply(pipeline.OK(pipeline.StageGenerateMappings, "DM", nil))
	apply(pipeline.Skipped(pipeline.StageGenerateMappings, "AE", "prerequisite failed"))
	apply(pipeline.OK(pipeline.StageGenerateMappings, "VS", nil))

	apply(pipeline.OK(pipeline.StageTransform, "DM", nil))
	apply(pipeline.Skipped(pipeline.StageTransform, "AE", "prerequisite skipped"))
	apply(pipeline.Failed(pipeline.StageTransform, "VS", errors.TransformError("VS", 7, "unrecognized date")))

	apply(pipeline.OK(pipeline.StageValidateOutput, "DM", nil))
	apply(pipeline.Skipped(pipeline.StageValidateOutput, "AE", "prerequisite skipped"))
	apply(pipeline.Skipped(pipeline.StageValidateOutput, "VS", "prerequisite failed"))

	apply(pipeline.OK(pipeline.StageGenerateCode, "DM", nil))
	apply(pipeline.Skipped(pipeline.StageGenerateCode, "AE", "prerequisite skipped"))
	apply(pipeline.Skipped(pipeline.StageGenerateCode, "VS", "prerequisite skipped"))

	_, err := state.OpenCheckpoint(mustTime())
	require.NoError(t, err)
	require.NoError(t, state.FinalizeCheckpoint(pipeline.DecisionApproved, "reviewed", mustTime()))
	apply(pipeline.OK(pipeline.StageCheckpoint, "", nil))

	apply(pipeline.OK(pipeline.StageLoadGraphStore, "", graphload.Outcome{NodesCreated: 12, RelsCreated: 18}))
	apply(pipeline.Failed(pipeline.StageUploadObjects, "", errors.UploadFailed(2, nil)))

	return state
}

func TestBuild(t *testing.T) {
	rep := Build(finishedState(t), nil)

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	assert.Empty(t, rep.Code)

	// Domains are sorted and carry their terminal condition.
	require.Len(t, rep.Domains, 3)
	assert.Equal(t, "AE", rep.Domains[0].Domain)
	assert.Equal(t, pipeline.StageValidateRaw, rep.Domains[0].LastStage)
	assert.Equal(t, pipeline.StatusFailed, rep.Domains[0].Status)

	assert.Equal(t, "DM", rep.Domains[1].Domain)
	assert.Equal(t, pipeline.StageGenerateCode, rep.Domains[1].LastStage)
	assert.Equal(t, pipeline.StatusOK, rep.Domains[1].Status)

	// VS has downstream skip markers, but its terminal condition is the
	// transform failure.
	assert.Equal(t, "VS", rep.Domains[2].Domain)
	assert.Equal(t, pipeline.StageTransform, rep.Domains[2].LastStage)
	assert.Equal(t, pipeline.StatusFailed, rep.Domains[2].Status)
	assert.Equal(t, errors.ErrCodeTransformError, rep.Domains[2].Code)

	// Run-level aggregate counts.
	assert.Equal(t, 3, rep.DomainsAttempted)
	assert.Equal(t, 1, rep.DomainsSucceeded)
	assert.Equal(t, 2, rep.DomainsFailed)

	// Stage counts.
	var transform StageSummary
	for _, s := range rep.Stages {
		if s.Stage == pipeline.StageTransform {
			transform = s
		}
	}
	assert.Equal(t, 3, transform.Attempted)
	assert.Equal(t, 1, transform.Succeeded)
	assert.Equal(t, 1, transform.Failed)
	assert.Equal(t, 1, transform.Skipped)

	// The gate is listed in its execution slot, between mapping
	// generation and transformation.
	var order []string
	for _, s := range rep.Stages {
		order = append(order, s.Stage)
	}
	assert.Equal(t, []string{
		pipeline.StageIngest,
		pipeline.StageValidateRaw,
		pipeline.StageGenerateMappings,
		pipeline.StageCheckpoint,
		pipeline.StageTransform,
		pipeline.StageValidateOutput,
		pipeline.StageGenerateCode,
		pipeline.StageLoadGraphStore,
		pipeline.StageUploadObjects,
	}, order)

	// Checkpoint and integrations.
	require.NotNil(t, rep.Checkpoint)
	assert.Equal(t, pipeline.DecisionApproved, rep.Checkpoint.Decision)

	require.NotNil(t, rep.Integrations)
	require.NotNil(t, rep.Integrations.GraphStore)
	assert.Equal(t, pipeline.StatusOK, rep.Integrations.GraphStore.Status)
	require.NotNil(t, rep.Integrations.GraphStore.GraphStore)
	assert.Equal(t, 12, rep.Integrations.GraphStore.GraphStore.NodesCreated)

	require.NotNil(t, rep.Integrations.Upload)
	assert.Equal(t, pipeline.StatusFailed, rep.Integrations.Upload.Status)
	assert.Equal(t, errors.ErrCodeUploadFailed, rep.Integrations.Upload.Code)
}

func TestBuild_AllDomainsFail(t *testing.T) {
	cfg := &config.RunConfig{RunID: "run-3", Source: "/in", Output: "/out"}
	state := pipeline.NewState(cfg, pipeline.FannedChain())

	codes := []string{"AE", "CM", "DM", "DS", "LB", "VS"}
	units := make([]pipeline.DomainUnit, 0, len(codes))
	for _, c := range codes {
		units = append(units, pipeline.DomainUnit{SourceID: c + ".csv", Domain: c})
	}
	require.NoError(t, state.SetDomains(units))
	require.NoError(t, state.Apply(pipeline.OK(pipeline.StageIngest, "", len(units))))
	for _, c := range codes {
		require.NoError(t, state.Apply(
			pipeline.Failed(pipeline.StageValidateRaw, c, errors.ValidationFailed(c, 2))))
	}

	rep := Build(state, errors.NoEligibleDomains(pipeline.StageGenerateMappings))

	assert.Equal(t, OutcomeAborted, rep.Outcome)
	assert.Equal(t, errors.ErrCodeNoEligibleDomains, rep.Code)
	assert.Equal(t, 6, rep.DomainsAttempted)
	assert.Equal(t, 0, rep.DomainsSucceeded)
	assert.Equal(t, 6, rep.DomainsFailed)
	for _, d := range rep.Domains {
		assert.Equal(t, pipeline.StatusFailed, d.Status)
		assert.Equal(t, pipeline.StageValidateRaw, d.LastStage)
	}
}

func TestBuild_AbortedRun(t *testing.T) {
	cfg := &config.RunConfig{RunID: "run-2", Source: "/in", Output: "/out"}
	state := pipeline.NewState(cfg, pipeline.FannedChain())

	terminal := errors.CheckpointRejected("run-2", "not ready")
	rep := Build(state, terminal)

	assert.Equal(t, OutcomeAborted, rep.Outcome)
	assert.Equal(t, errors.ErrCodeCheckpointRejected, rep.Code)
	assert.NotEmpty(t, rep.Reason)
	assert.Empty(t, rep.Domains)
}

func TestRender_Deterministic(t *testing.T) {
	first, err := Render(Build(finishedState(t), nil))
	require.NoError(t, err)
	second, err := Render(Build(finishedState(t), nil))
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second), "report rendering must be byte-stable")
	assert.NotContains(t, string(first), "created_at", "report must carry no timestamps")
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, Write(path, Build(finishedState(t), nil)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "run_id: run-1")
	assert.Contains(t, string(raw), "outcome: completed")
}

func mustTime() time.Time {
	return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
}
