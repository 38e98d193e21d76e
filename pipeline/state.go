package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
)

// State is the single mutable aggregate of one run. All mutation happens
// through SetDomains, Apply, and the checkpoint setters; concurrent node
// bodies only ever see read-only Snapshots.
type State struct {
	mu sync.RWMutex

	cfg      *config.RunConfig
	chain    []string
	chainIdx map[string]int

	domains   []DomainUnit
	domainSet map[string]bool

	// results maps stage -> domain -> result. Scalar stages use the
	// empty domain key.
	results map[string]map[string]StageResult

	checkpoint *CheckpointRecord
}

// NewState creates an empty state bound to the fanned-stage prerequisite
// chain.
func NewState(cfg *config.RunConfig, chain []string) *State {
	idx := make(map[string]int, len(chain))
	for i, s := range chain {
		idx[s] = i
	}
	return &State{
		cfg:       cfg,
		chain:     chain,
		chainIdx:  idx,
		domainSet: make(map[string]bool),
		results:   make(map[string]map[string]StageResult),
	}
}

// Config returns the immutable run configuration.
func (s *State) Config() *config.RunConfig { return s.cfg }

// Chain returns the fanned-stage prerequisite chain.
func (s *State) Chain() []string { return append([]string(nil), s.chain...) }

// SetDomains installs the ingest result. It may be called exactly once.
func (s *State) SetDomains(units []DomainUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.domains) > 0 {
		return errors.InvariantViolation("domains already installed")
	}
	for _, u := range units {
		if s.domainSet[u.Domain] {
			return errors.InvariantViolation(fmt.Sprintf("duplicate domain %s in ingest result", u.Domain))
		}
		s.domainSet[u.Domain] = true
	}
	s.domains = append([]DomainUnit(nil), units...)
	return nil
}

// Domains returns the ordered domain units.
func (s *State) Domains() []DomainUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DomainUnit(nil), s.domains...)
}

// Apply merges one stage result into the state. It is the only write path
// for stage outcomes and is always called from a single goroutine; the
// merge is commutative across domains within one stage. Violations of the
// merge discipline are programming errors and fail the run.
func (s *State) Apply(res StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Stage == "" {
		return errors.InvariantViolation("patch without a stage name")
	}

	if _, fanned := s.chainIdx[res.Stage]; fanned {
		if err := s.checkFanned(res); err != nil {
			return err
		}
	} else if res.Domain != "" {
		return errors.InvariantViolation(
			fmt.Sprintf("per-domain patch for scalar stage %s (domain %s)", res.Stage, res.Domain))
	}

	if _, exists := s.results[res.Stage][res.Domain]; exists {
		return errors.InvariantViolation(
			fmt.Sprintf("duplicate patch for stage %s domain %q", res.Stage, res.Domain))
	}

	if s.results[res.Stage] == nil {
		s.results[res.Stage] = make(map[string]StageResult)
	}
	s.results[res.Stage][res.Domain] = res
	return nil
}

// checkFanned enforces the per-domain prerequisite rules. Caller holds the
// lock.
func (s *State) checkFanned(res StageResult) error {
	if res.Domain == "" {
		return errors.InvariantViolation(fmt.Sprintf("fanned stage %s patch without a domain", res.Stage))
	}
	if !s.domainSet[res.Domain] {
		return errors.InvariantViolation(
			fmt.Sprintf("patch for unknown domain %s at stage %s", res.Domain, res.Stage))
	}

	idx := s.chainIdx[res.Stage]
	if idx == 0 {
		return nil
	}
	prereq := s.chain[idx-1]
	prev, ok := s.results[prereq][res.Domain]
	if !ok {
		return errors.InvariantViolation(
			fmt.Sprintf("stage %s patch for domain %s before %s ran", res.Stage, res.Domain, prereq))
	}
	// ok/failed results require a successful prerequisite; an explicit
	// skip only requires that the prerequisite was recorded at all.
	if res.Status != StatusSkipped && prev.Status != StatusOK {
		return errors.InvariantViolation(
			fmt.Sprintf("stage %s ran for domain %s on %s prerequisite %s", res.Stage, res.Domain, prev.Status, prereq))
	}
	return nil
}

// Result returns the result for a stage and domain.
func (s *State) Result(stage, domain string) (StageResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[stage][domain]
	return r, ok
}

// StageResults returns all results recorded for a stage, keyed by domain.
func (s *State) StageResults(stage string) map[string]StageResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StageResult, len(s.results[stage]))
	for d, r := range s.results[stage] {
		out[d] = r
	}
	return out
}

// EligibleDomains returns the domains a fanned stage should run for: those
// whose prerequisite is ok and which have no result for the stage yet.
func (s *State) EligibleDomains(stage string) []DomainUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, fanned := s.chainIdx[stage]
	if !fanned {
		return nil
	}

	var eligible []DomainUnit
	for _, u := range s.domains {
		if _, done := s.results[stage][u.Domain]; done {
			continue
		}
		if idx > 0 {
			prev, ok := s.results[s.chain[idx-1]][u.Domain]
			if !ok || prev.Status != StatusOK {
				continue
			}
		}
		eligible = append(eligible, u)
	}
	return eligible
}

// OpenCheckpoint creates the pending checkpoint record. Called exactly once
// when the gate stage starts.
func (s *State) OpenCheckpoint(now time.Time) (*CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoint != nil {
		return nil, errors.InvariantViolation("checkpoint already opened")
	}
	s.checkpoint = &CheckpointRecord{Decision: DecisionPending, CreatedAt: now}
	return s.checkpoint, nil
}

// RestoreCheckpoint reinstalls a persisted record during resume.
func (s *State) RestoreCheckpoint(rec *CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoint != nil {
		return errors.InvariantViolation("checkpoint already opened")
	}
	s.checkpoint = rec
	return nil
}

// FinalizeCheckpoint records the terminal decision. Finalizing twice, or
// finalizing to pending, is a programming error.
func (s *State) FinalizeCheckpoint(decision Decision, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoint == nil {
		return errors.InvariantViolation("checkpoint finalized before it was opened")
	}
	if s.checkpoint.Decision != DecisionPending {
		return errors.InvariantViolation("checkpoint finalized twice")
	}
	if decision != DecisionApproved && decision != DecisionRejected {
		return errors.InvariantViolation(fmt.Sprintf("checkpoint finalized to non-terminal decision %q", decision))
	}
	s.checkpoint.Decision = decision
	s.checkpoint.Note = note
	s.checkpoint.DecidedAt = at
	return nil
}

// Checkpoint returns a copy of the checkpoint record, or nil before the
// gate is reached.
func (s *State) Checkpoint() *CheckpointRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return nil
	}
	rec := *s.checkpoint
	return &rec
}
