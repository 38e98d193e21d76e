package codegen

import (
	"strings"
	"testing"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/mapgen"
)

func dmSpec() mapgen.Spec {
	return mapgen.Spec{Domain: "DM", Rules: []mapgen.Rule{
		{Target: "STUDYID", Op: mapgen.OpConst, Const: "STU01"},
		{Target: "DOMAIN", Op: mapgen.OpConst, Const: "DM"},
		{Source: "SUBJECT_ID", Target: "SUBJID", Op: mapgen.OpRename},
		{Source: "GENDER", Target: "SEX", Op: mapgen.OpUpper},
		{Source: "BIRTH_DT", Target: "BRTHDTC", Op: mapgen.OpISO8601},
	}}
}

func TestRender(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}

	programs, err := r.Render("run-1", "dm_extract.csv", dmSpec())
	if err != nil {
		t.Fatal(err)
	}
	if len(programs) != 2 {
		t.Fatalf("programs = %d", len(programs))
	}

	byLang := map[string]Program{}
	for _, p := range programs {
		byLang[p.Language] = p
	}

	sas := byLang[LangSAS]
	if sas.Filename != "dm.sas" {
		t.Fatalf("sas filename = %q", sas.Filename)
	}
	for _, want := range []string{
		`STUDYID = "STU01";`,
		"SEX = upcase(strip(GENDER));",
		"set raw.dm_extract;",
		"keep STUDYID DOMAIN SUBJID SEX BRTHDTC;",
		"by STUDYID SUBJID;",
	} {
		if !strings.Contains(sas.Source, want) {
			t.Fatalf("sas program missing %q:\n%s", want, sas.Source)
		}
	}

	rProg := byLang[LangR]
	if rProg.Filename != "dm.R" {
		t.Fatalf("R filename = %q", rProg.Filename)
	}
	for _, want := range []string{
		`STUDYID = "STU01"`,
		"SEX = toupper(trimws(GENDER))",
		"arrange(STUDYID, SUBJID)",
		`write_csv(dm, file.path(out_path, "dm.csv"))`,
	} {
		if !strings.Contains(rProg.Source, want) {
			t.Fatalf("R program missing %q:\n%s", want, rProg.Source)
		}
	}
}

func TestRender_SplitUnitEmitsUnitVariable(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}

	spec := mapgen.Spec{Domain: "VS", Rules: []mapgen.Rule{
		{Target: "STUDYID", Op: mapgen.OpConst, Const: "STU01"},
		{Source: "BP", Target: "VSORRES", Op: mapgen.OpSplitUnit},
	}}

	programs, err := r.Render("run-1", "vs.csv", spec)
	if err != nil {
		t.Fatal(err)
	}
	sas := programs[0]
	if !strings.Contains(sas.Source, "keep STUDYID VSORRES VSORRESU;") {
		t.Fatalf("sas keep list wrong:\n%s", sas.Source)
	}
}

func TestRender_EmptySpec(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Render("run-1", "dm.csv", mapgen.Spec{Domain: "DM"}); errors.CodeOf(err) != errors.ErrCodeTemplateError {
		t.Fatalf("err = %v", err)
	}
}
