package gate

import (
	"context"
	"fmt"

	"github.com/kbukum/sdtmforge/pipeline"
)

// AutoApprove approves immediately. The checkpoint record still exists and
// is finalized, unlike a disabled checkpoint where the gate never runs.
type AutoApprove struct{}

func (AutoApprove) Await(context.Context) (Decision, error) {
	return Decision{Decision: pipeline.DecisionApproved, Note: "auto-approved"}, nil
}

// StaticSource returns a pre-supplied decision, for unattended runs with a
// known outcome and for tests.
type StaticSource struct {
	Decision pipeline.Decision
	Note     string
}

func (s StaticSource) Await(context.Context) (Decision, error) {
	if s.Decision != pipeline.DecisionApproved && s.Decision != pipeline.DecisionRejected {
		return Decision{}, fmt.Errorf("static decision %q is not terminal", s.Decision)
	}
	return Decision{Decision: s.Decision, Note: s.Note}, nil
}

// ParseDecision validates a reviewer-supplied decision string.
func ParseDecision(s string) (pipeline.Decision, error) {
	switch pipeline.Decision(s) {
	case pipeline.DecisionApproved:
		return pipeline.DecisionApproved, nil
	case pipeline.DecisionRejected:
		return pipeline.DecisionRejected, nil
	default:
		return "", fmt.Errorf("decision must be %q or %q, got %q",
			pipeline.DecisionApproved, pipeline.DecisionRejected, s)
	}
}
