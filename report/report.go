// Package report builds the final run report: one document describing what
// happened to every domain at every stage, plus the checkpoint decision and
// integration outcomes. The report is deterministic: two runs with the
// same outcomes render byte-identical YAML, so it carries no timestamps.
package report

import (
	"sort"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/graphload"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/upload"
)

// Run terminal conditions.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// StageSummary counts one stage's results.
type StageSummary struct {
	Stage     string `yaml:"stage" json:"stage"`
	Attempted int    `yaml:"attempted" json:"attempted"`
	Succeeded int    `yaml:"succeeded" json:"succeeded"`
	Failed    int    `yaml:"failed" json:"failed"`
	Skipped   int    `yaml:"skipped" json:"skipped"`
}

// DomainReport is one domain's terminal condition: the last stage that
// recorded a result for it and how that ended.
type DomainReport struct {
	Domain      string           `yaml:"domain" json:"domain"`
	SourceID    string           `yaml:"source_id" json:"source_id"`
	RecordCount int              `yaml:"record_count" json:"record_count"`
	LastStage   string           `yaml:"last_stage" json:"last_stage"`
	Status      pipeline.Status  `yaml:"status" json:"status"`
	Code        errors.ErrorCode `yaml:"code,omitempty" json:"code,omitempty"`
	Reason      string           `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// CheckpointReport is the decision without its timestamps.
type CheckpointReport struct {
	Decision pipeline.Decision `yaml:"decision" json:"decision"`
	Note     string            `yaml:"note,omitempty" json:"note,omitempty"`
}

// IntegrationReport is one scalar integration's outcome.
type IntegrationReport struct {
	Status pipeline.Status  `yaml:"status" json:"status"`
	Code   errors.ErrorCode `yaml:"code,omitempty" json:"code,omitempty"`
	Reason string           `yaml:"reason,omitempty" json:"reason,omitempty"`

	GraphStore *graphload.Outcome `yaml:"graph_store,omitempty" json:"graph_store,omitempty"`
	Upload     *upload.Outcome    `yaml:"upload,omitempty" json:"upload,omitempty"`
}

// RunReport is the full report document.
type RunReport struct {
	RunID   string `yaml:"run_id" json:"run_id"`
	Outcome string `yaml:"outcome" json:"outcome"`
	// Code and Reason describe the terminal error of an aborted run.
	Code   errors.ErrorCode `yaml:"code,omitempty" json:"code,omitempty"`
	Reason string           `yaml:"reason,omitempty" json:"reason,omitempty"`

	// Run-level domain counts: attempted is every discovered domain,
	// succeeded and failed split them by terminal status.
	DomainsAttempted int `yaml:"domains_attempted" json:"domains_attempted"`
	DomainsSucceeded int `yaml:"domains_succeeded" json:"domains_succeeded"`
	DomainsFailed    int `yaml:"domains_failed" json:"domains_failed"`

	Domains    []DomainReport    `yaml:"domains"`
	Stages     []StageSummary    `yaml:"stages"`
	Checkpoint *CheckpointReport `yaml:"checkpoint,omitempty"`

	Integrations *Integrations `yaml:"integrations,omitempty"`
}

// Integrations holds the scalar integration outcomes in a fixed order.
type Integrations struct {
	GraphStore *IntegrationReport `yaml:"load-graph-store,omitempty" json:"load-graph-store,omitempty"`
	Upload     *IntegrationReport `yaml:"upload-objects,omitempty" json:"upload-objects,omitempty"`
}

// Build assembles the report from the run state and its terminal error.
func Build(state *pipeline.State, terminal error) RunReport {
	rep := RunReport{
		RunID:   state.Config().RunID,
		Outcome: OutcomeCompleted,
	}
	if terminal != nil {
		rep.Outcome = OutcomeAborted
		rep.Code = errors.CodeOf(terminal)
		rep.Reason = terminal.Error()
	}

	rep.Domains = domainReports(state)
	rep.Stages = stageSummaries(state)

	rep.DomainsAttempted = len(rep.Domains)
	for _, d := range rep.Domains {
		switch d.Status {
		case pipeline.StatusOK:
			rep.DomainsSucceeded++
		case pipeline.StatusFailed:
			rep.DomainsFailed++
		}
	}

	if rec := state.Checkpoint(); rec != nil {
		rep.Checkpoint = &CheckpointReport{Decision: rec.Decision, Note: rec.Note}
	}

	var integrations Integrations
	if res, ok := state.Result(pipeline.StageLoadGraphStore, ""); ok {
		ir := integration(res)
		if outcome, err := pipeline.Payload[graphload.Outcome](res); err == nil {
			ir.GraphStore = &outcome
		}
		integrations.GraphStore = ir
	}
	if res, ok := state.Result(pipeline.StageUploadObjects, ""); ok {
		ir := integration(res)
		if outcome, err := pipeline.Payload[upload.Outcome](res); err == nil {
			ir.Upload = &outcome
		}
		integrations.Upload = ir
	}
	if integrations.GraphStore != nil || integrations.Upload != nil {
		rep.Integrations = &integrations
	}
	return rep
}

func integration(res pipeline.StageResult) *IntegrationReport {
	return &IntegrationReport{Status: res.Status, Code: res.Code, Reason: res.Reason}
}

// domainReports walks the fanned chain backwards per domain. Skip results
// are only bookkeeping for stages that never ran; the terminal condition is
// the last stage that actually produced an ok or failed result. Domains are
// sorted by code.
func domainReports(state *pipeline.State) []DomainReport {
	chain := state.Chain()
	units := state.Domains()
	sort.Slice(units, func(i, j int) bool { return units[i].Domain < units[j].Domain })

	reports := make([]DomainReport, 0, len(units))
	for _, u := range units {
		dr := DomainReport{
			Domain:      u.Domain,
			SourceID:    u.SourceID,
			RecordCount: u.RecordCount,
		}
		for i := len(chain) - 1; i >= 0; i-- {
			res, ok := state.Result(chain[i], u.Domain)
			if !ok {
				continue
			}
			if dr.LastStage == "" || res.Status != pipeline.StatusSkipped {
				dr.LastStage = res.Stage
				dr.Status = res.Status
				dr.Code = res.Code
				dr.Reason = res.Reason
			}
			if res.Status != pipeline.StatusSkipped {
				break
			}
		}
		reports = append(reports, dr)
	}
	return reports
}

// stageSummaries counts results for every stage that recorded any, in the
// fixed stage order.
func stageSummaries(state *pipeline.State) []StageSummary {
	order := []string{pipeline.StageIngest}
	for _, stage := range state.Chain() {
		// The gate sits between mapping generation and transformation;
		// the summary lists it in its execution slot.
		if stage == pipeline.StageTransform {
			order = append(order, pipeline.StageCheckpoint)
		}
		order = append(order, stage)
	}
	order = append(order, pipeline.StageLoadGraphStore, pipeline.StageUploadObjects)

	var summaries []StageSummary
	for _, stage := range order {
		results := state.StageResults(stage)
		if len(results) == 0 {
			continue
		}
		s := StageSummary{Stage: stage, Attempted: len(results)}
		for _, r := range results {
			switch r.Status {
			case pipeline.StatusOK:
				s.Succeeded++
			case pipeline.StatusFailed:
				s.Failed++
			case pipeline.StatusSkipped:
				s.Skipped++
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}
