// Package statestore persists the run document that makes a suspended run
// resumable: configuration, discovered domains, the results produced so
// far, and the checkpoint record. The document is written atomically so a
// crash mid-save never corrupts the previous good state.
package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kbukum/sdtmforge/artifacts"
	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/mapgen"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/validate"
)

const documentName = "run.yaml"

// RunDocument is everything a resumed process needs to rebuild the run
// state. Stage payloads that later stages read are stored typed:
// validation reports and mapping specs. Stages past the checkpoint have no
// results when the document is written, so nothing else needs to survive.
type RunDocument struct {
	Config  config.RunConfig      `yaml:"config"`
	Domains []pipeline.DomainUnit `yaml:"domains"`
	// Results holds every applied stage result in chain-then-domain order.
	Results []pipeline.StageResult `yaml:"results"`

	ValidationReports map[string]validate.Report `yaml:"validation_reports,omitempty"`
	MappingSpecs      map[string]mapgen.Spec     `yaml:"mapping_specs,omitempty"`

	Checkpoint *pipeline.CheckpointRecord `yaml:"checkpoint,omitempty"`
}

// Store reads and writes the run document in one directory.
type Store struct {
	dir string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the document location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, documentName)
}

// Exists reports whether a run document is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Save writes the document atomically, creating the directory as needed.
func (s *Store) Save(doc *RunDocument) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := artifacts.AtomicWriteYAML(s.Path(), doc); err != nil {
		return fmt.Errorf("save run document: %w", err)
	}
	return nil
}

// Load parses the document.
func (s *Store) Load() (*RunDocument, error) {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, fmt.Errorf("read run document: %w", err)
	}
	var doc RunDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse run document: %w", err)
	}
	return &doc, nil
}

// BuildDocument captures the current run state. Typed payloads are pulled
// out of the results they rode in on.
func BuildDocument(state *pipeline.State) *RunDocument {
	doc := &RunDocument{
		Config:            *state.Config(),
		Domains:           state.Domains(),
		ValidationReports: map[string]validate.Report{},
		MappingSpecs:      map[string]mapgen.Spec{},
		Checkpoint:        state.Checkpoint(),
	}

	// Ingest is the only scalar stage that can carry a result before the
	// gate is reached.
	stages := append([]string{pipeline.StageIngest}, state.Chain()...)
	for _, stage := range stages {
		results := state.StageResults(stage)
		domains := make([]string, 0, len(results))
		for d := range results {
			domains = append(domains, d)
		}
		sort.Strings(domains)

		for _, d := range domains {
			res := results[d]
			if res.Status == pipeline.StatusOK {
				switch stage {
				case pipeline.StageValidateRaw:
					if report, ok := res.Payload.(validate.Report); ok {
						doc.ValidationReports[d] = report
					}
				case pipeline.StageGenerateMappings:
					if spec, ok := res.Payload.(mapgen.Spec); ok {
						doc.MappingSpecs[d] = spec
					}
				}
			}
			doc.Results = append(doc.Results, res)
		}
	}
	return doc
}

// Restore rebuilds a run state from the document: domains installed,
// results replayed in order with their payloads reattached, checkpoint
// record restored. The replay goes through the same merge discipline as a
// live run, so a tampered document fails loudly.
func (doc *RunDocument) Restore() (*pipeline.State, error) {
	cfg := doc.Config
	state := pipeline.NewState(&cfg, pipeline.FannedChain())

	if len(doc.Domains) > 0 {
		if err := state.SetDomains(doc.Domains); err != nil {
			return nil, fmt.Errorf("restore domains: %w", err)
		}
	}

	for _, res := range doc.Results {
		if res.Status == pipeline.StatusOK {
			switch res.Stage {
			case pipeline.StageValidateRaw:
				if report, ok := doc.ValidationReports[res.Domain]; ok {
					res.Payload = report
				}
			case pipeline.StageGenerateMappings:
				if spec, ok := doc.MappingSpecs[res.Domain]; ok {
					res.Payload = spec
				}
			}
		}
		if err := state.Apply(res); err != nil {
			return nil, fmt.Errorf("replay %s/%s: %w", res.Stage, res.Domain, err)
		}
	}

	if doc.Checkpoint != nil {
		if err := state.RestoreCheckpoint(doc.Checkpoint); err != nil {
			return nil, fmt.Errorf("restore checkpoint: %w", err)
		}
	}
	return state, nil
}
