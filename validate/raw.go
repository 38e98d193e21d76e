package validate

import (
	"fmt"
	"strings"

	"github.com/kbukum/sdtmforge/pipeline"
)

// subjectColumns are the column names accepted as a subject identifier in
// raw extracts.
var subjectColumns = []string{"USUBJID", "SUBJID", "SUBJECT", "SUBJECT_ID", "PATIENT", "PATIENT_ID", "PTNO"}

// RawValidator performs structural checks on a raw extract: enough to know
// whether mapping the domain is worth attempting.
type RawValidator struct {
	// MaxEmptyRatio is the tolerated fraction of empty cells per column
	// before a warning is raised.
	MaxEmptyRatio float64
}

// NewRawValidator returns a validator with default thresholds.
func NewRawValidator() *RawValidator {
	return &RawValidator{MaxEmptyRatio: 0.5}
}

// Validate checks one domain's raw records. It never returns an error;
// every problem is a finding.
func (v *RawValidator) Validate(unit pipeline.DomainUnit) Report {
	var findings []Finding
	table := unit.Raw

	if table == nil || len(table.Columns) == 0 {
		findings = append(findings, Finding{
			Severity: SeverityError, Rule: "RAW001",
			Message: "extract has no columns",
		})
		return Report{Domain: unit.Domain, Pass: false, Findings: findings}
	}

	if table.RowCount() == 0 {
		findings = append(findings, Finding{
			Severity: SeverityError, Rule: "RAW002",
			Message: "extract has no data rows",
		})
	}

	seen := make(map[string]bool, len(table.Columns))
	for _, c := range table.Columns {
		name := strings.ToUpper(strings.TrimSpace(c))
		if name == "" {
			findings = append(findings, Finding{
				Severity: SeverityError, Rule: "RAW003",
				Message: "extract has an unnamed column",
			})
			continue
		}
		if seen[name] {
			findings = append(findings, Finding{
				Severity: SeverityError, Rule: "RAW004",
				Message: fmt.Sprintf("duplicate column %s", name),
				Column:   name,
			})
		}
		seen[name] = true
	}

	if !hasSubjectColumn(seen) {
		findings = append(findings, Finding{
			Severity: SeverityError, Rule: "RAW005",
			Message: "no subject identifier column found",
		})
	}

	findings = append(findings, v.emptyColumnFindings(table)...)

	return Report{
		Domain:   unit.Domain,
		Pass:     errorCount(findings) == 0,
		Findings: findings,
	}
}

func hasSubjectColumn(columns map[string]bool) bool {
	for _, c := range subjectColumns {
		if columns[c] {
			return true
		}
	}
	return false
}

// emptyColumnFindings warns on columns that are mostly empty; mapping them
// is usually a sign the extract is misaligned.
func (v *RawValidator) emptyColumnFindings(table *pipeline.Table) []Finding {
	if table.RowCount() == 0 {
		return nil
	}

	var findings []Finding
	for i, col := range table.Columns {
		empty := 0
		for _, row := range table.Rows {
			if strings.TrimSpace(row[i]) == "" {
				empty++
			}
		}
		ratio := float64(empty) / float64(table.RowCount())
		if ratio > v.MaxEmptyRatio {
			findings = append(findings, Finding{
				Severity: SeverityWarning, Rule: "RAW006",
				Message: fmt.Sprintf("column %s is %.0f%% empty", col, ratio*100),
				Column:   col,
			})
		}
	}
	return findings
}
