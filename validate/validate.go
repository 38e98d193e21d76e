// Package validate checks raw extracts before mapping and transformed
// datasets after. Validators never fail their call; problems come back as
// findings in the report, and the stage body decides pass or fail.
package validate

// Severity classifies a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one observation about a dataset.
type Finding struct {
	Severity Severity `yaml:"severity" json:"severity"`
	Rule     string   `yaml:"rule" json:"rule"`
	Message  string   `yaml:"message" json:"message"`
	// Column and Row locate the finding when it is cell-scoped. Row is
	// 1-based over data rows; 0 means dataset-scoped.
	Column string `yaml:"column,omitempty" json:"column,omitempty"`
	Row    int    `yaml:"row,omitempty" json:"row,omitempty"`
}

// Report is the outcome of validating one domain.
type Report struct {
	Domain   string    `yaml:"domain" json:"domain"`
	Pass     bool      `yaml:"pass" json:"pass"`
	Findings []Finding `yaml:"findings" json:"findings"`
}

// errorCount returns the number of blocking findings.
func errorCount(findings []Finding) int {
	n := 0
	for _, f := range findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// ErrorCount returns the number of blocking findings in the report.
func (r Report) ErrorCount() int { return errorCount(r.Findings) }
