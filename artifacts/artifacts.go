// Package artifacts lays out and writes the run's output tree:
//
//	{output}/
//	  mappings/      one YAML spec per domain
//	  validation/    raw-validation reports
//	  compliance/    output-conformance reports
//	  datasets/      transformed CSV datasets
//	  programs/      generated SAS and R programs
//	  checkpoint/    run document for resume
//	  report.yaml    final run report
package artifacts

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbukum/sdtmforge/pipeline"
)

// Tree resolves artifact paths under one run's output directory.
type Tree struct {
	root string
}

// NewTree creates the resolver; nothing is touched on disk until a write.
func NewTree(root string) *Tree {
	return &Tree{root: root}
}

// Root returns the output directory.
func (t *Tree) Root() string { return t.root }

// MappingSpec returns the path of a domain's mapping spec.
func (t *Tree) MappingSpec(domain string) string {
	return filepath.Join(t.root, "mappings", strings.ToLower(domain)+".yaml")
}

// ValidationReport returns the path of a domain's raw-validation report.
func (t *Tree) ValidationReport(domain string) string {
	return filepath.Join(t.root, "validation", strings.ToLower(domain)+".yaml")
}

// ComplianceReport returns the path of a domain's conformance report.
func (t *Tree) ComplianceReport(domain string) string {
	return filepath.Join(t.root, "compliance", strings.ToLower(domain)+".yaml")
}

// Dataset returns the path of a domain's transformed dataset.
func (t *Tree) Dataset(domain string) string {
	return filepath.Join(t.root, "datasets", strings.ToLower(domain)+".csv")
}

// Program returns the path of a generated program file.
func (t *Tree) Program(filename string) string {
	return filepath.Join(t.root, "programs", filename)
}

// CheckpointDir returns the directory holding the resumable run document.
func (t *Tree) CheckpointDir() string {
	return filepath.Join(t.root, "checkpoint")
}

// Report returns the path of the final run report.
func (t *Tree) Report() string {
	return filepath.Join(t.root, "report.yaml")
}

// WriteYAML atomically writes data as YAML at path, creating parent
// directories as needed.
func (t *Tree) WriteYAML(path string, data any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return AtomicWriteYAML(path, data)
}

// WriteCSV writes a table at path, creating parent directories as needed.
func (t *Tree) WriteCSV(path string, table *pipeline.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(table.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush dataset: %w", err)
	}
	return f.Sync()
}

// WriteText writes a program or other plain-text artifact, creating parent
// directories as needed.
func (t *Tree) WriteText(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
