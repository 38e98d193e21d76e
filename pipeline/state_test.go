package pipeline

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
)

func newTestState(t *testing.T, domains ...string) *State {
	t.Helper()
	cfg := &config.RunConfig{RunID: "run-test", Source: "/in", Output: "/out"}
	s := NewState(cfg, FannedChain())

	units := make([]DomainUnit, 0, len(domains))
	for _, d := range domains {
		units = append(units, DomainUnit{SourceID: d + ".csv", Domain: d, RecordCount: 1})
	}
	if err := s.SetDomains(units); err != nil {
		t.Fatalf("SetDomains: %v", err)
	}
	return s
}

func mustApply(t *testing.T, s *State, results ...StageResult) {
	t.Helper()
	for _, r := range results {
		if err := s.Apply(r); err != nil {
			t.Fatalf("Apply(%s/%s): %v", r.Stage, r.Domain, err)
		}
	}
}

func assertViolation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an invariant violation")
	}
	if errors.CodeOf(err) != errors.ErrCodeInvariantViolation {
		t.Fatalf("expected INVARIANT_VIOLATION, got %v", err)
	}
}

func TestSetDomains_Twice(t *testing.T) {
	s := newTestState(t, "DM")
	assertViolation(t, s.SetDomains([]DomainUnit{{Domain: "AE"}}))
}

func TestSetDomains_Duplicate(t *testing.T) {
	s := NewState(&config.RunConfig{}, FannedChain())
	assertViolation(t, s.SetDomains([]DomainUnit{{Domain: "DM"}, {Domain: "DM"}}))
}

func TestApply_UnknownDomain(t *testing.T) {
	s := newTestState(t, "DM")
	assertViolation(t, s.Apply(OK(StageValidateRaw, "XX", nil)))
}

func TestApply_UnknownStageTreatedAsScalar(t *testing.T) {
	s := newTestState(t, "DM")
	// A domain on a non-fanned stage is a defect.
	assertViolation(t, s.Apply(OK(StageIngest, "DM", nil)))
	// Scalar patches with no domain are fine.
	mustApply(t, s, OK(StageIngest, "", nil))
}

func TestApply_Overwrite(t *testing.T) {
	s := newTestState(t, "DM")
	mustApply(t, s, OK(StageValidateRaw, "DM", nil))
	assertViolation(t, s.Apply(OK(StageValidateRaw, "DM", nil)))
}

func TestApply_PrerequisiteMissing(t *testing.T) {
	s := newTestState(t, "DM")
	assertViolation(t, s.Apply(OK(StageGenerateMappings, "DM", nil)))
	// Even a skip needs the prerequisite recorded.
	assertViolation(t, s.Apply(Skipped(StageGenerateMappings, "DM", "prerequisite failed")))
}

func TestApply_PrerequisiteFailed(t *testing.T) {
	s := newTestState(t, "DM")
	mustApply(t, s, Failed(StageValidateRaw, "DM", errors.ValidationFailed("DM", 3)))

	// Running on a failed prerequisite is a defect...
	assertViolation(t, s.Apply(OK(StageGenerateMappings, "DM", nil)))
	// ...but an explicit skip is the expected record.
	mustApply(t, s, Skipped(StageGenerateMappings, "DM", "validate-raw failed"))
}

func TestApply_CommutativeAcrossDomains(t *testing.T) {
	domains := []string{"DM", "AE", "VS", "LB", "CM", "EX"}

	build := func(order []int) map[string]map[string]StageResult {
		s := newTestState(t, domains...)
		for _, i := range order {
			mustApply(t, s, OK(StageValidateRaw, domains[i], nil))
		}
		out := make(map[string]map[string]StageResult)
		out[StageValidateRaw] = s.StageResults(StageValidateRaw)
		return out
	}

	forward := build([]int{0, 1, 2, 3, 4, 5})
	permutations := [][]int{
		{5, 4, 3, 2, 1, 0},
		{2, 0, 5, 1, 4, 3},
		{3, 5, 0, 4, 2, 1},
	}
	for i, perm := range permutations {
		if got := build(perm); !reflect.DeepEqual(forward, got) {
			t.Fatalf("permutation %d produced a different state", i)
		}
	}
}

func TestEligibleDomains(t *testing.T) {
	s := newTestState(t, "DM", "AE", "VS")

	// Everything is eligible for the first fanned stage.
	if got := len(s.EligibleDomains(StageValidateRaw)); got != 3 {
		t.Fatalf("expected 3 eligible, got %d", got)
	}

	mustApply(t, s,
		OK(StageValidateRaw, "DM", nil),
		Failed(StageValidateRaw, "AE", errors.ValidationFailed("AE", 1)),
	)

	// VS has no validate-raw result yet, so it is still eligible there.
	if got := len(s.EligibleDomains(StageValidateRaw)); got != 1 {
		t.Fatalf("expected 1 still eligible for validate-raw, got %d", got)
	}

	// Only DM may proceed to mapping generation.
	eligible := s.EligibleDomains(StageGenerateMappings)
	if len(eligible) != 1 || eligible[0].Domain != "DM" {
		t.Fatalf("expected only DM eligible, got %v", eligible)
	}

	// Scalar stages have no fan-out.
	if s.EligibleDomains(StageReport) != nil {
		t.Fatal("scalar stages must report no eligible domains")
	}
}

func TestSnapshot_Isolation(t *testing.T) {
	s := newTestState(t, "DM", "AE")
	mustApply(t, s, OK(StageValidateRaw, "DM", nil))

	snap := s.Snapshot()
	mustApply(t, s, OK(StageValidateRaw, "AE", nil))

	if _, ok := snap.Result(StageValidateRaw, "AE"); ok {
		t.Fatal("snapshot must not see later merges")
	}
	if _, ok := snap.Result(StageValidateRaw, "DM"); !ok {
		t.Fatal("snapshot lost an applied result")
	}
	if _, ok := snap.Domain("AE"); !ok {
		t.Fatal("snapshot lost a domain unit")
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	s := newTestState(t, "DM")

	assertViolation(t, s.FinalizeCheckpoint(DecisionApproved, "", time.Now()))

	rec, err := s.OpenCheckpoint(time.Now())
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	if rec.Decision != DecisionPending || rec.Final() {
		t.Fatalf("fresh record should be pending: %+v", rec)
	}

	_, err = s.OpenCheckpoint(time.Now())
	assertViolation(t, err)

	assertViolation(t, s.FinalizeCheckpoint(DecisionPending, "", time.Now()))

	if err := s.FinalizeCheckpoint(DecisionApproved, "lgtm", time.Now()); err != nil {
		t.Fatalf("FinalizeCheckpoint: %v", err)
	}
	assertViolation(t, s.FinalizeCheckpoint(DecisionRejected, "", time.Now()))

	got := s.Checkpoint()
	if got.Decision != DecisionApproved || got.Note != "lgtm" || !got.Final() {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestPayload(t *testing.T) {
	r := OK(StageTransform, "DM", &Table{Columns: []string{"USUBJID"}})
	table, err := Payload[*Table](r)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if table.Columns[0] != "USUBJID" {
		t.Fatal("wrong payload")
	}

	_, err = Payload[string](r)
	assertViolation(t, err)

	_, err = Payload[*Table](Failed(StageTransform, "DM", stderrors.New("boom")))
	assertViolation(t, err)
}

func TestTable(t *testing.T) {
	tbl := NewTable("SUBJID", "AGE")
	if err := tbl.AppendRow([]string{"001", "34"}); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	if err := tbl.AppendRow([]string{"too", "many", "cells"}); err == nil {
		t.Fatal("expected arity error")
	}
	if got := tbl.Cell(0, "AGE"); got != "34" {
		t.Fatalf("Cell = %q", got)
	}
	if got := tbl.Cell(0, "MISSING"); got != "" {
		t.Fatalf("missing column should be empty, got %q", got)
	}
	if tbl.RowCount() != 1 {
		t.Fatalf("RowCount = %d", tbl.RowCount())
	}
}

func TestApply_ConcurrentMergeFromChannel(t *testing.T) {
	// The coordinator merges from a single goroutine while workers produce
	// results concurrently. Model that shape and check nothing is lost.
	domains := make([]string, 8)
	for i := range domains {
		domains[i] = fmt.Sprintf("D%d", i)
	}
	s := newTestState(t, domains...)

	results := make(chan StageResult)
	for _, d := range domains {
		go func(d string) {
			results <- OK(StageValidateRaw, d, nil)
		}(d)
	}
	for range domains {
		if err := s.Apply(<-results); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	if got := len(s.StageResults(StageValidateRaw)); got != len(domains) {
		t.Fatalf("expected %d results, got %d", len(domains), got)
	}
}
