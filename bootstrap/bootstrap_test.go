package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/report"
)

func writeExtract(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func testConfig(t *testing.T) *config.RunConfig {
	t.Helper()
	src := t.TempDir()
	return &config.RunConfig{
		RunID:       "run-e2e-0001",
		Source:      src,
		Output:      t.TempDir(),
		Concurrency: 2,
		Checkpoint: config.CheckpointConfig{
			Enabled:  true,
			Source:   config.DecisionAuto,
			StateDir: t.TempDir(),
		},
		Logging: logger.Config{Level: "error", Format: "json"},
	}
}

const dmExtract = `USUBJID,SUBJID,SEX,BRTHDTC
STU01-001,001,m,15JUN1975
STU01-002,002,F,02JAN1980
`

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = ""

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeExtract(t, cfg.Source, "dm.csv", dmExtract)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close(context.Background())

	res, rep, err := app.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "completed", res.Terminal)

	assert.Equal(t, report.OutcomeCompleted, rep.Outcome)
	require.Len(t, rep.Domains, 1)
	assert.Equal(t, "DM", rep.Domains[0].Domain)
	assert.Equal(t, pipeline.StatusOK, rep.Domains[0].Status)
	assert.Equal(t, pipeline.StageGenerateCode, rep.Domains[0].LastStage)
	require.NotNil(t, rep.Checkpoint)
	assert.Equal(t, pipeline.DecisionApproved, rep.Checkpoint.Decision)

	// The artifact tree is fully populated.
	for _, p := range []string{
		app.Tree.ValidationReport("DM"),
		app.Tree.MappingSpec("DM"),
		app.Tree.Dataset("DM"),
		app.Tree.ComplianceReport("DM"),
		app.Tree.Program("dm.sas"),
		app.Tree.Program("dm.R"),
		app.Tree.Report(),
	} {
		_, statErr := os.Stat(p)
		assert.NoError(t, statErr, p)
	}

	raw, err := os.ReadFile(app.Tree.Dataset("DM"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "STUDYID")
	assert.Contains(t, string(raw), "1975-06-15")
	assert.Contains(t, string(raw), ",M,")

	// The finalized run document is on disk for later resume attempts.
	assert.True(t, app.Store.Exists())
}

func TestResumeAfterCompletedRun(t *testing.T) {
	cfg := testConfig(t)
	writeExtract(t, cfg.Source, "dm.csv", dmExtract)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	res, _, err := app.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)

	// A second process resuming the same state dir short-circuits on the
	// finalized decision and reproduces the report.
	app2, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	res2, rep2, err := app2.Resume(context.Background())
	require.NoError(t, err)
	require.NoError(t, res2.Err)
	assert.Equal(t, "completed", res2.Terminal)
	assert.Equal(t, report.OutcomeCompleted, rep2.Outcome)
}

func TestResumeWithoutDocument(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	_, _, err = app.Resume(context.Background())
	require.Error(t, err)
}

func TestRunIsolatesUnmappableDomain(t *testing.T) {
	cfg := testConfig(t)
	writeExtract(t, cfg.Source, "dm.csv", dmExtract)
	// No subject identifier column: AE fails raw validation, DM proceeds.
	writeExtract(t, cfg.Source, "ae.csv", "FOO,BAR\nx,y\n")

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	res, rep, err := app.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "completed", res.Terminal)

	require.Len(t, rep.Domains, 2)
	byDomain := map[string]report.DomainReport{}
	for _, d := range rep.Domains {
		byDomain[d.Domain] = d
	}
	assert.Equal(t, pipeline.StatusFailed, byDomain["AE"].Status)
	assert.Equal(t, pipeline.StageValidateRaw, byDomain["AE"].LastStage)
	assert.Equal(t, errors.ErrCodeValidationFailed, byDomain["AE"].Code)
	assert.Equal(t, pipeline.StatusOK, byDomain["DM"].Status)
}

func TestRunRejectedAtCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoint.Source = config.DecisionStatic
	cfg.Checkpoint.Decision = string(pipeline.DecisionRejected)
	writeExtract(t, cfg.Source, "dm.csv", dmExtract)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	res, rep, err := app.Run(context.Background())
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Equal(t, string(errors.ErrCodeCheckpointRejected), res.Terminal)

	assert.Equal(t, report.OutcomeAborted, rep.Outcome)
	assert.Equal(t, errors.ErrCodeCheckpointRejected, rep.Code)

	// The report is still written: the report stage always runs.
	_, statErr := os.Stat(app.Tree.Report())
	assert.NoError(t, statErr)

	// Nothing after the gate ran.
	_, statErr = os.Stat(app.Tree.Dataset("DM"))
	assert.True(t, os.IsNotExist(statErr))
}
