package mapgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/targetspec"
)

// synonyms maps common raw extract column names to target variable name
// suffixes. Matching is by exact variable name first, then by suffix.
var synonyms = map[string][]string{
	"SUBJID":  {"SUBJECT", "SUBJECT_ID", "PATIENT", "PATIENT_ID", "PTNO"},
	"USUBJID": {"UNIQUE_SUBJECT", "USUBJ"},
	"SEX":     {"GENDER"},
	"AGE":     {"AGE_YEARS", "AGEYR"},
	"RACE":    {"ETHNICITY_RACE"},
	"COUNTRY": {"CTRY"},
	"AETERM":  {"EVENT", "EVENT_TERM", "AE_TERM"},
	"AESEV":   {"SEVERITY"},
	"CMTRT":   {"MEDICATION", "DRUG", "DRUG_NAME"},
	"CMDOSE":  {"DOSE"},
	"CMROUTE": {"ROUTE"},
	"VISIT":   {"VISIT_NAME", "VISITNUM"},
}

// dateHints marks a raw column as a date when its name contains one of
// these fragments.
var dateHints = []string{"DTC", "DATE", "_DT", "DAT"}

// HeuristicGenerator derives mapping rules from column names alone. It is
// deterministic and needs no network, so runs stay usable when the
// suggestion service is off.
type HeuristicGenerator struct {
	catalog *targetspec.Catalog
	studyID string
}

// NewHeuristicGenerator creates a generator over the target catalog.
// studyID is written as the STUDYID constant on every domain.
func NewHeuristicGenerator(catalog *targetspec.Catalog, studyID string) *HeuristicGenerator {
	return &HeuristicGenerator{catalog: catalog, studyID: studyID}
}

// Generate proposes rules for every target variable a source column can be
// matched to, plus the constant identifier variables.
func (g *HeuristicGenerator) Generate(_ context.Context, unit pipeline.DomainUnit) (Spec, error) {
	def, ok := g.catalog.Domain(unit.Domain)
	if !ok {
		return Spec{}, fmt.Errorf("domain %s is not in the target catalog", unit.Domain)
	}

	spec := Spec{Domain: unit.Domain, Generated: "heuristic"}
	spec.Rules = append(spec.Rules,
		Rule{Target: "STUDYID", Op: OpConst, Const: g.studyID, Note: "study constant"},
		Rule{Target: "DOMAIN", Op: OpConst, Const: unit.Domain, Note: "domain constant"},
	)

	claimed := map[string]bool{"STUDYID": true, "DOMAIN": true}
	for _, variable := range def.Variables {
		if claimed[variable.Name] {
			continue
		}
		source, matched := matchColumn(variable.Name, unit.Columns)
		if !matched {
			continue
		}
		spec.Rules = append(spec.Rules, ruleFor(variable, source))
		claimed[variable.Name] = true
	}
	return spec, nil
}

// ruleFor picks the op a matched column needs: dates are normalized,
// controlled-terminology values uppercased, renames made explicit.
func ruleFor(variable targetspec.Variable, source string) Rule {
	switch {
	case isDateColumn(source) || variable.Role == "timing":
		return Rule{Source: source, Target: variable.Name, Op: OpISO8601}
	case len(variable.Terminology) > 0:
		return Rule{Source: source, Target: variable.Name, Op: OpUpper}
	case strings.EqualFold(source, variable.Name):
		return Rule{Source: source, Target: variable.Name, Op: OpAssign}
	default:
		return Rule{Source: source, Target: variable.Name, Op: OpRename,
			Note: fmt.Sprintf("matched by synonym of %s", variable.Name)}
	}
}

// matchColumn finds the raw column for a target variable: exact name,
// then known synonyms, then variable-name suffix.
func matchColumn(target string, columns []string) (string, bool) {
	upper := make(map[string]string, len(columns))
	for _, c := range columns {
		upper[strings.ToUpper(strings.TrimSpace(c))] = c
	}

	if src, ok := upper[target]; ok {
		return src, true
	}
	for _, syn := range synonyms[target] {
		if src, ok := upper[syn]; ok {
			return src, true
		}
	}
	// Suffix match walks the columns in extract order so ties resolve
	// the same way on every run.
	for _, src := range columns {
		if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(src)), "_"+target) {
			return src, true
		}
	}
	return "", false
}

func isDateColumn(name string) bool {
	upper := strings.ToUpper(name)
	for _, hint := range dateHints {
		if strings.Contains(upper, hint) {
			return true
		}
	}
	return false
}
