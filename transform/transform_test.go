package transform

import (
	stderrors "errors"
	"testing"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/mapgen"
	"github.com/kbukum/sdtmforge/pipeline"
)

func dmUnit(t *testing.T) pipeline.DomainUnit {
	t.Helper()
	raw := pipeline.NewTable("SUBJECT_ID", "GENDER", "BIRTH_DT")
	if err := raw.AppendRow([]string{"001", "m", "1980-05-02"}); err != nil {
		t.Fatal(err)
	}
	if err := raw.AppendRow([]string{"002", "F", "15JUN1975"}); err != nil {
		t.Fatal(err)
	}
	return pipeline.DomainUnit{Domain: "DM", Raw: raw, RecordCount: 2}
}

func TestApply(t *testing.T) {
	spec := mapgen.Spec{Domain: "DM", Rules: []mapgen.Rule{
		{Target: "STUDYID", Op: mapgen.OpConst, Const: "STU01"},
		{Target: "DOMAIN", Op: mapgen.OpConst, Const: "DM"},
		{Source: "SUBJECT_ID", Target: "SUBJID", Op: mapgen.OpRename},
		{Source: "GENDER", Target: "SEX", Op: mapgen.OpUpper},
		{Source: "BIRTH_DT", Target: "BRTHDTC", Op: mapgen.OpISO8601},
	}}

	res, err := New().Apply(dmUnit(t), spec)
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsIn != 2 || res.RowsOut != 2 {
		t.Fatalf("rows in=%d out=%d", res.RowsIn, res.RowsOut)
	}

	want := [][]string{
		{"STU01", "DM", "001", "M", "1980-05-02"},
		{"STU01", "DM", "002", "F", "1975-06-15"},
	}
	for r, row := range want {
		for c, cell := range row {
			if got := res.Table.Rows[r][c]; got != cell {
				t.Fatalf("row %d col %s: got %q want %q", r, res.Table.Columns[c], got, cell)
			}
		}
	}
}

func TestApply_SplitUnit(t *testing.T) {
	raw := pipeline.NewTable("SUBJECT", "BP")
	_ = raw.AppendRow([]string{"001", "120 mmHg"})
	_ = raw.AppendRow([]string{"002", "118"})

	spec := mapgen.Spec{Domain: "VS", Rules: []mapgen.Rule{
		{Source: "BP", Target: "VSORRES", Op: mapgen.OpSplitUnit},
	}}

	res, err := New().Apply(pipeline.DomainUnit{Domain: "VS", Raw: raw}, spec)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Table.Columns; len(got) != 2 || got[0] != "VSORRES" || got[1] != "VSORRESU" {
		t.Fatalf("columns = %v", got)
	}
	if res.Table.Rows[0][0] != "120" || res.Table.Rows[0][1] != "mmHg" {
		t.Fatalf("row 0 = %v", res.Table.Rows[0])
	}
	if res.Table.Rows[1][0] != "118" || res.Table.Rows[1][1] != "" {
		t.Fatalf("row 1 = %v", res.Table.Rows[1])
	}
}

func TestApply_RowContextOnBadDate(t *testing.T) {
	raw := pipeline.NewTable("VISIT_DT")
	_ = raw.AppendRow([]string{"2024-01-01"})
	_ = raw.AppendRow([]string{"not a date"})

	spec := mapgen.Spec{Domain: "VS", Rules: []mapgen.Rule{
		{Source: "VISIT_DT", Target: "VSDTC", Op: mapgen.OpISO8601},
	}}

	_, err := New().Apply(pipeline.DomainUnit{Domain: "VS", Raw: raw}, spec)
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *errors.PipelineError
	if !stderrors.As(err, &pe) {
		t.Fatalf("err = %v", err)
	}
	if pe.Code != errors.ErrCodeTransformError {
		t.Fatalf("code = %s", pe.Code)
	}
	if row, _ := pe.Details["row"].(int); row != 2 {
		t.Fatalf("row detail = %v", pe.Details["row"])
	}
}

func TestApply_MissingColumn(t *testing.T) {
	spec := mapgen.Spec{Domain: "DM", Rules: []mapgen.Rule{
		{Source: "NOPE", Target: "SUBJID", Op: mapgen.OpAssign},
	}}
	if _, err := New().Apply(dmUnit(t), spec); errors.CodeOf(err) != errors.ErrCodeTransformError {
		t.Fatalf("err = %v", err)
	}
}

func TestApply_EmptySpec(t *testing.T) {
	if _, err := New().Apply(dmUnit(t), mapgen.Spec{Domain: "DM"}); err == nil {
		t.Fatal("expected error")
	}
}
