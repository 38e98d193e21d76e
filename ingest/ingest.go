// Package ingest discovers the source datasets of a run and loads them as
// ordered domain units with discovery metadata.
package ingest

import (
	"context"
	"strings"

	"github.com/kbukum/sdtmforge/pipeline"
)

// Ingestor discovers and loads the source datasets selected for a run.
type Ingestor interface {
	// Discover returns the ordered domain units. It fails with
	// SourceUnavailable when the source cannot be read and
	// NoMatchingFiles when the selection matches nothing.
	Discover(ctx context.Context) ([]pipeline.DomainUnit, error)
}

// selection is a case-insensitive domain filter; empty selects everything.
type selection map[string]bool

func newSelection(domains []string) selection {
	if len(domains) == 0 {
		return nil
	}
	sel := make(selection, len(domains))
	for _, d := range domains {
		sel[strings.ToUpper(d)] = true
	}
	return sel
}

func (s selection) matches(domain string) bool {
	return s == nil || s[strings.ToUpper(domain)]
}
