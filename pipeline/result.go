package pipeline

import (
	"fmt"
	"time"

	"github.com/kbukum/sdtmforge/errors"
)

// Status is the outcome tag of one stage invocation for one domain.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StageResult is the immutable patch produced by one stage invocation for
// one domain (domain is empty for scalar stages). Once applied to the state
// it is never overwritten.
type StageResult struct {
	Stage    string           `yaml:"stage" json:"stage"`
	Domain   string           `yaml:"domain,omitempty" json:"domain,omitempty"`
	Status   Status           `yaml:"status" json:"status"`
	Code     errors.ErrorCode `yaml:"code,omitempty" json:"code,omitempty"`
	Reason   string           `yaml:"reason,omitempty" json:"reason,omitempty"`
	Duration time.Duration    `yaml:"duration" json:"duration"`
	Payload  any              `yaml:"-" json:"-"`
}

// OK creates a successful result carrying a payload.
func OK(stage, domain string, payload any) StageResult {
	return StageResult{Stage: stage, Domain: domain, Status: StatusOK, Payload: payload}
}

// Failed creates a failed result from an error.
func Failed(stage, domain string, err error) StageResult {
	return StageResult{
		Stage:  stage,
		Domain: domain,
		Status: StatusFailed,
		Code:   errors.CodeOf(err),
		Reason: err.Error(),
	}
}

// Skipped creates a skipped result explaining why the domain was ineligible.
func Skipped(stage, domain, reason string) StageResult {
	return StageResult{Stage: stage, Domain: domain, Status: StatusSkipped, Reason: reason}
}

// WithDuration returns a copy of the result with its wall time set.
func (r StageResult) WithDuration(d time.Duration) StageResult {
	r.Duration = d
	return r
}

// Payload extracts a typed payload from a stage result. A wrong type is a
// programming error surfaced as an InvariantViolation.
func Payload[T any](r StageResult) (T, error) {
	var zero T
	if r.Status != StatusOK {
		return zero, errors.InvariantViolation(
			fmt.Sprintf("payload requested from %s result for stage %s domain %s", r.Status, r.Stage, r.Domain))
	}
	v, ok := r.Payload.(T)
	if !ok {
		return zero, errors.InvariantViolation(
			fmt.Sprintf("stage %s domain %s: payload is %T, want %T", r.Stage, r.Domain, r.Payload, zero))
	}
	return v, nil
}
