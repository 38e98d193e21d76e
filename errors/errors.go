// Package errors provides unified error handling for the pipeline.
// It implements a structured error type with machine-readable codes,
// retryable detection, and fatality classification per the run's
// continuation policy.
package errors

import (
	stderrors "errors"
	"fmt"
)

// PipelineError is the unified error type for the pipeline.
type PipelineError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code" yaml:"code"`
	// Message is a human-readable error message.
	Message string `json:"message" yaml:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable" yaml:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-" yaml:"-"`
}

// Error returns the string representation of the error.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *PipelineError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *PipelineError) WithDetail(key string, value any) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new PipelineError with automatic retryable detection.
func New(code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal for
// non-pipeline errors. A nil err yields an empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err aborts the run rather than a single domain.
func IsFatal(err error) bool {
	return err != nil && IsFatalCode(CodeOf(err))
}

// --- Constructors, one per taxonomy entry ---

// SourceUnavailable creates an error for an unreadable source location.
func SourceUnavailable(location string, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeSourceUnavailable, Message: fmt.Sprintf("source location %q is unavailable", location),
		Retryable: true, Cause: cause,
		Details: map[string]any{"location": location},
	}
}

// NoMatchingFiles creates an error for an empty domain selection.
func NoMatchingFiles(location string, selection []string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeNoMatchingFiles, Message: fmt.Sprintf("no source files in %q match the domain selection", location),
		Details: map[string]any{"location": location, "selection": selection},
	}
}

// InvalidConfig creates an error for an invalid run configuration.
func InvalidConfig(reason string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeInvalidConfig, Message: reason,
	}
}

// GenerationFailed creates an error for a failed mapping-spec generation.
func GenerationFailed(domain string, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeGenerationFailed, Message: fmt.Sprintf("mapping generation failed for domain %s", domain),
		Retryable: true, Cause: cause,
		Details: map[string]any{"domain": domain},
	}
}

// TransformError creates an error for a row-level transformation failure.
// Row context is carried in the details so the report can surface it.
func TransformError(domain string, row int, reason string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeTransformError, Message: fmt.Sprintf("transform failed for domain %s at row %d: %s", domain, row, reason),
		Details: map[string]any{"domain": domain, "row": row, "reason": reason},
	}
}

// TemplateError creates an error for a failed program generation.
func TemplateError(template string, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeTemplateError, Message: fmt.Sprintf("rendering template %q failed", template),
		Cause:   cause,
		Details: map[string]any{"template": template},
	}
}

// ValidationFailed creates an error for a domain that failed structural validation.
func ValidationFailed(domain string, findings int) *PipelineError {
	return &PipelineError{
		Code: ErrCodeValidationFailed, Message: fmt.Sprintf("domain %s failed validation with %d blocking findings", domain, findings),
		Details: map[string]any{"domain": domain, "findings": findings},
	}
}

// CheckpointTimeout creates an error for a checkpoint decision that never arrived.
func CheckpointTimeout(runID string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeCheckpointTimeout, Message: "no checkpoint decision arrived within the configured timeout",
		Details: map[string]any{"run_id": runID},
	}
}

// CheckpointRejected creates an error for a rejected checkpoint.
func CheckpointRejected(runID, note string) *PipelineError {
	details := map[string]any{"run_id": runID}
	if note != "" {
		details["note"] = note
	}
	return &PipelineError{
		Code: ErrCodeCheckpointRejected, Message: "the reviewer rejected the run at the checkpoint",
		Details: details,
	}
}

// LoadFailed creates an error for a failed graph-store load.
func LoadFailed(cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeLoadFailed, Message: "loading lineage into the graph store failed",
		Retryable: true, Cause: cause,
	}
}

// UploadFailed creates an error for failed object uploads.
func UploadFailed(failed int, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeUploadFailed, Message: fmt.Sprintf("%d object uploads failed", failed),
		Retryable: true, Cause: cause,
		Details: map[string]any{"failed": failed},
	}
}

// NoEligibleDomains creates an error for a run with no domains left to process.
func NoEligibleDomains(stage string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeNoEligibleDomains, Message: fmt.Sprintf("no domains remain eligible at stage %s", stage),
		Details: map[string]any{"stage": stage},
	}
}

// InvariantViolation creates an error signalling a merge-discipline defect.
func InvariantViolation(reason string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeInvariantViolation, Message: reason,
	}
}

// Internal creates an error for an unexpected internal failure.
func Internal(cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		Cause: cause,
	}
}
