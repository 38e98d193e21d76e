// Package transform applies a mapping specification to a raw extract,
// producing the standardized domain dataset.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/mapgen"
	"github.com/kbukum/sdtmforge/pipeline"
)

// dateLayouts are the raw-extract date formats the iso8601 op accepts, in
// the order they are tried.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02Jan2006",
	"01/02/2006",
	"2006/01/02",
	"20060102",
}

// Result is the outcome of transforming one domain.
type Result struct {
	Table *pipeline.Table
	// RowsIn and RowsOut record the row-count delta; the ops here are
	// row-preserving, so a difference means rows were dropped upstream.
	RowsIn  int
	RowsOut int
}

// Transformer evaluates mapping rules row by row.
type Transformer struct{}

// New creates a Transformer.
func New() *Transformer {
	return &Transformer{}
}

// Apply builds the output table one rule column at a time. Rules referencing
// columns the extract does not have, or values an op cannot interpret, fail
// the whole domain with the offending row's context.
func (t *Transformer) Apply(unit pipeline.DomainUnit, spec mapgen.Spec) (Result, error) {
	raw := unit.Raw
	if raw == nil {
		return Result{}, errors.TransformError(unit.Domain, 0, "no raw table")
	}
	if len(spec.Rules) == 0 {
		return Result{}, errors.TransformError(unit.Domain, 0, "mapping spec has no rules")
	}

	type column struct {
		rule mapgen.Rule
		src  int
	}

	var columns []column
	var names []string
	for _, rule := range spec.Rules {
		src := -1
		if rule.Op != mapgen.OpConst {
			src = raw.ColumnIndex(rule.Source)
			if src < 0 {
				return Result{}, errors.TransformError(unit.Domain, 0,
					fmt.Sprintf("rule for %s references missing column %s", rule.Target, rule.Source))
			}
		}
		columns = append(columns, column{rule: rule, src: src})
		names = append(names, rule.Target)
		if rule.Op == mapgen.OpSplitUnit {
			names = append(names, rule.Target+"U")
		}
	}

	out := pipeline.NewTable(names...)
	for r, row := range raw.Rows {
		outRow := make([]string, 0, len(names))
		for _, col := range columns {
			values, err := evalRule(col.rule, col.src, row)
			if err != nil {
				// Rows are 1-based in findings and errors.
				return Result{}, errors.TransformError(unit.Domain, r+1, err.Error())
			}
			outRow = append(outRow, values...)
		}
		if err := out.AppendRow(outRow); err != nil {
			return Result{}, errors.TransformError(unit.Domain, r+1, err.Error())
		}
	}

	return Result{Table: out, RowsIn: raw.RowCount(), RowsOut: out.RowCount()}, nil
}

// evalRule produces the output cell(s) for one rule on one row. split-unit
// is the only op yielding two cells.
func evalRule(rule mapgen.Rule, src int, row []string) ([]string, error) {
	var value string
	if src >= 0 {
		value = row[src]
	}

	switch rule.Op {
	case mapgen.OpAssign, mapgen.OpRename:
		return []string{value}, nil
	case mapgen.OpConst:
		return []string{rule.Const}, nil
	case mapgen.OpUpper:
		return []string{strings.ToUpper(strings.TrimSpace(value))}, nil
	case mapgen.OpISO8601:
		iso, err := toISO8601(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", rule.Target, err)
		}
		return []string{iso}, nil
	case mapgen.OpSplitUnit:
		v, u := splitUnit(value)
		return []string{v, u}, nil
	default:
		return nil, fmt.Errorf("%s: unknown op %q", rule.Target, rule.Op)
	}
}

// toISO8601 normalizes a raw date string. Empty stays empty; an
// unrecognized format is an error.
func toISO8601(value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", nil
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, strings.ToUpper(v))
		if err != nil {
			continue
		}
		if strings.ContainsAny(layout, ":") {
			return parsed.Format("2006-01-02T15:04:05"), nil
		}
		return parsed.Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("unrecognized date %q", value)
}

// splitUnit separates "120 mmHg" into value and unit. A bare number keeps
// an empty unit.
func splitUnit(value string) (string, string) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", ""
	}
	parts := strings.Fields(v)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
