// Package codegen renders downstream SAS and R programs from a mapping
// specification, so statisticians can reproduce a transform outside the
// pipeline.
package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/mapgen"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Program names, also used as artifact file suffixes.
const (
	LangSAS = "sas"
	LangR   = "R"
)

// Program is one rendered source file.
type Program struct {
	Language string
	// Filename is the artifact name, e.g. "dm.sas".
	Filename string
	Source   string
}

// context is the data handed to both templates.
type context struct {
	RunID       string
	Domain      string
	DatasetName string
	SourceName  string
	Rules       []mapgen.Rule
	KeepList    string
	// SortKeys is space-separated for SAS; SortKeysCSV comma-separated for R.
	SortKeys    string
	SortKeysCSV string
}

// Renderer renders programs from parsed templates. Parsing happens once in
// New; rendering is cheap and concurrency-safe.
type Renderer struct {
	sas *template.Template
	r   *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	sas, err := template.ParseFS(templateFS, "templates/program.sas.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse sas template: %w", err)
	}
	r, err := template.ParseFS(templateFS, "templates/program.R.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse R template: %w", err)
	}
	return &Renderer{sas: sas, r: r}, nil
}

// Render produces the SAS and R programs for one domain's spec. sourceID is
// the raw extract identifier the programs read from.
func (g *Renderer) Render(runID, sourceID string, spec mapgen.Spec) ([]Program, error) {
	if len(spec.Rules) == 0 {
		return nil, errors.TemplateError("program", fmt.Errorf("spec for %s has no rules", spec.Domain))
	}

	ctx := context{
		RunID:       runID,
		Domain:      spec.Domain,
		DatasetName: strings.ToLower(spec.Domain),
		SourceName:  sourceName(sourceID, spec.Domain),
		Rules:       spec.Rules,
		KeepList:    keepList(spec.Rules),
	}
	keys := sortKeys(spec.Rules)
	ctx.SortKeys = strings.Join(keys, " ")
	ctx.SortKeysCSV = strings.Join(keys, ", ")

	var programs []Program
	for _, tmpl := range []struct {
		lang string
		t    *template.Template
	}{
		{LangSAS, g.sas},
		{LangR, g.r},
	} {
		var buf bytes.Buffer
		if err := tmpl.t.Execute(&buf, ctx); err != nil {
			return nil, errors.TemplateError(tmpl.t.Name(), err)
		}
		programs = append(programs, Program{
			Language: tmpl.lang,
			Filename: fmt.Sprintf("%s.%s", ctx.DatasetName, tmpl.lang),
			Source:   buf.String(),
		})
	}
	return programs, nil
}

// sourceName strips the extract identifier down to a dataset-style name.
func sourceName(sourceID, domain string) string {
	name := sourceID
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return strings.ToLower(domain) + "_raw"
	}
	return strings.ToLower(name)
}

// keepList is every output variable, in rule order.
func keepList(rules []mapgen.Rule) string {
	var names []string
	for _, r := range rules {
		names = append(names, r.Target)
		if r.Op == mapgen.OpSplitUnit {
			names = append(names, r.Target+"U")
		}
	}
	return strings.Join(names, " ")
}

// sortKeys prefers the subject identifier; STUDYID is always a safe first key.
func sortKeys(rules []mapgen.Rule) []string {
	keys := []string{"STUDYID"}
	for _, candidate := range []string{"USUBJID", "SUBJID"} {
		for _, r := range rules {
			if r.Target == candidate {
				return append(keys, candidate)
			}
		}
	}
	return keys
}
