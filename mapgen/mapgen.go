// Package mapgen produces mapping specifications: per-domain rule sets that
// describe how raw extract columns become target variables. Two generators
// exist, a remote suggestion service and a deterministic heuristic fallback.
package mapgen

import (
	"context"

	"github.com/kbukum/sdtmforge/pipeline"
)

// Rule operations, applied per row by the transformer.
const (
	// OpAssign copies the source column verbatim.
	OpAssign = "assign"
	// OpRename copies the source column under the target name.
	OpRename = "rename"
	// OpUpper copies the source column uppercased and trimmed.
	OpUpper = "upper"
	// OpISO8601 normalizes the source date value to ISO 8601.
	OpISO8601 = "iso8601"
	// OpConst writes a constant value, ignoring source columns.
	OpConst = "const"
	// OpSplitUnit splits "value unit" into the target and the target's
	// unit variable.
	OpSplitUnit = "split-unit"
)

// Rule maps one source column (or constant) to one target variable.
type Rule struct {
	// Source is the raw column name; empty for const rules.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Target is the destination variable name.
	Target string `yaml:"target" json:"target"`
	Op     string `yaml:"op" json:"op"`
	// Const is the literal value for const rules.
	Const string `yaml:"const,omitempty" json:"const,omitempty"`
	// Note is free-form provenance for the reviewer.
	Note string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Spec is the full mapping specification for one domain.
type Spec struct {
	Domain string `yaml:"domain" json:"domain"`
	// Generated names the generator that produced the spec.
	Generated string `yaml:"generated" json:"generated"`
	Rules     []Rule `yaml:"rules" json:"rules"`
}

// Rule returns the rule targeting a variable.
func (s Spec) Rule(target string) (Rule, bool) {
	for _, r := range s.Rules {
		if r.Target == target {
			return r, true
		}
	}
	return Rule{}, false
}

// Generator proposes a mapping spec for one domain's raw extract.
type Generator interface {
	Generate(ctx context.Context, unit pipeline.DomainUnit) (Spec, error)
}
