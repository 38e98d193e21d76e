package pipeline

import (
	"github.com/kbukum/sdtmforge/config"
)

// Snapshot is the immutable read view handed to node bodies. It is taken
// once at stage start; concurrent invocations share it safely because
// nothing ever writes through it.
type Snapshot struct {
	cfg        *config.RunConfig
	domains    []DomainUnit
	results    map[string]map[string]StageResult
	checkpoint *CheckpointRecord
}

// Snapshot captures the current state as an immutable read view.
func (s *State) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]map[string]StageResult, len(s.results))
	for stage, byDomain := range s.results {
		m := make(map[string]StageResult, len(byDomain))
		for d, r := range byDomain {
			m[d] = r
		}
		results[stage] = m
	}

	var rec *CheckpointRecord
	if s.checkpoint != nil {
		c := *s.checkpoint
		rec = &c
	}

	return &Snapshot{
		cfg:        s.cfg,
		domains:    append([]DomainUnit(nil), s.domains...),
		results:    results,
		checkpoint: rec,
	}
}

// Config returns the immutable run configuration.
func (v *Snapshot) Config() *config.RunConfig { return v.cfg }

// Domains returns the ordered domain units.
func (v *Snapshot) Domains() []DomainUnit {
	return append([]DomainUnit(nil), v.domains...)
}

// Domain returns the unit for a domain code.
func (v *Snapshot) Domain(code string) (DomainUnit, bool) {
	for _, u := range v.domains {
		if u.Domain == code {
			return u, true
		}
	}
	return DomainUnit{}, false
}

// Result returns the result for a stage and domain.
func (v *Snapshot) Result(stage, domain string) (StageResult, bool) {
	r, ok := v.results[stage][domain]
	return r, ok
}

// StageResults returns all results recorded for a stage, keyed by domain.
func (v *Snapshot) StageResults(stage string) map[string]StageResult {
	out := make(map[string]StageResult, len(v.results[stage]))
	for d, r := range v.results[stage] {
		out[d] = r
	}
	return out
}

// Checkpoint returns the checkpoint record, or nil before the gate.
func (v *Snapshot) Checkpoint() *CheckpointRecord { return v.checkpoint }
