package validate

import (
	"fmt"
	"strings"

	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/targetspec"
)

// ConformanceValidator checks a transformed dataset against its target
// domain definition.
type ConformanceValidator struct {
	catalog *targetspec.Catalog
}

// NewConformanceValidator creates a validator over the target catalog.
func NewConformanceValidator(catalog *targetspec.Catalog) *ConformanceValidator {
	return &ConformanceValidator{catalog: catalog}
}

// Validate checks one transformed dataset. It never returns an error;
// every problem is a finding.
func (v *ConformanceValidator) Validate(domain string, table *pipeline.Table) Report {
	var findings []Finding

	def, ok := v.catalog.Domain(domain)
	if !ok {
		findings = append(findings, Finding{
			Severity: SeverityError, Rule: "CONF001",
			Message: fmt.Sprintf("domain %s is not in the target catalog", domain),
		})
		return Report{Domain: domain, Pass: false, Findings: findings}
	}

	present := make(map[string]int, len(table.Columns))
	for i, c := range table.Columns {
		present[c] = i
	}

	// Required variables must exist and be populated on every row.
	for _, variable := range def.RequiredVariables() {
		idx, ok := present[variable.Name]
		if !ok {
			findings = append(findings, Finding{
				Severity: SeverityError, Rule: "CONF002",
				Message: fmt.Sprintf("required variable %s is missing", variable.Name),
				Column:   variable.Name,
			})
			continue
		}
		for r, row := range table.Rows {
			if strings.TrimSpace(row[idx]) == "" {
				findings = append(findings, Finding{
					Severity: SeverityError, Rule: "CONF003",
					Message: fmt.Sprintf("required variable %s is empty", variable.Name),
					Column:   variable.Name, Row: r + 1,
				})
				break // one finding per variable is enough
			}
		}
	}

	// Variables outside the definition are carried but flagged.
	for _, c := range table.Columns {
		if _, ok := def.Variable(c); !ok {
			findings = append(findings, Finding{
				Severity: SeverityWarning, Rule: "CONF004",
				Message: fmt.Sprintf("variable %s is not defined for domain %s", c, domain),
				Column:   c,
			})
		}
	}

	// Controlled terminology.
	for _, variable := range def.Variables {
		if len(variable.Terminology) == 0 {
			continue
		}
		idx, ok := present[variable.Name]
		if !ok {
			continue
		}
		allowed := make(map[string]bool, len(variable.Terminology))
		for _, term := range variable.Terminology {
			allowed[term] = true
		}
		for r, row := range table.Rows {
			val := strings.TrimSpace(row[idx])
			if val == "" || allowed[val] {
				continue
			}
			findings = append(findings, Finding{
				Severity: SeverityError, Rule: "CONF005",
				Message: fmt.Sprintf("value %q is not in the %s terminology", val, variable.Name),
				Column:   variable.Name, Row: r + 1,
			})
		}
	}

	return Report{
		Domain:   domain,
		Pass:     errorCount(findings) == 0,
		Findings: findings,
	}
}
