package pipeline

import "time"

// Decision is the state of the checkpoint gate.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// CheckpointRecord is the decision state attached once the gate is reached.
// It is created pending when the gate stage starts and finalized exactly
// once; approved and rejected are terminal.
type CheckpointRecord struct {
	Decision  Decision  `yaml:"decision" json:"decision"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	DecidedAt time.Time `yaml:"decided_at,omitempty" json:"decided_at,omitempty"`
	// Note is the optional reviewer note accompanying the decision.
	Note string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Final reports whether the record has reached a terminal decision.
func (c *CheckpointRecord) Final() bool {
	return c != nil && c.Decision != DecisionPending
}
