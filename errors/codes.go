package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Input errors: fatal before any stage runs.
const (
	// ErrCodeSourceUnavailable indicates the source location cannot be read.
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	// ErrCodeNoMatchingFiles indicates the domain selection matched nothing.
	ErrCodeNoMatchingFiles ErrorCode = "NO_MATCHING_FILES"
	// ErrCodeInvalidConfig indicates the run configuration is invalid.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Per-domain stage errors: isolated to one domain, never abort the run.
const (
	// ErrCodeGenerationFailed indicates the mapping generator could not produce a spec.
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	// ErrCodeTransformError indicates a row-level transformation failure.
	ErrCodeTransformError ErrorCode = "TRANSFORM_ERROR"
	// ErrCodeTemplateError indicates program generation from templates failed.
	ErrCodeTemplateError ErrorCode = "TEMPLATE_ERROR"
	// ErrCodeValidationFailed indicates a domain did not pass structural validation.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
)

// Checkpoint errors: fatal to all stages after the gate.
const (
	// ErrCodeCheckpointTimeout indicates no decision arrived within the bound.
	ErrCodeCheckpointTimeout ErrorCode = "CHECKPOINT_TIMEOUT"
	// ErrCodeCheckpointRejected indicates the reviewer rejected the run.
	ErrCodeCheckpointRejected ErrorCode = "CHECKPOINT_REJECTED"
)

// Integration errors: recorded as degraded outcomes, non-fatal.
const (
	// ErrCodeLoadFailed indicates the graph-store load did not complete.
	ErrCodeLoadFailed ErrorCode = "LOAD_FAILED"
	// ErrCodeUploadFailed indicates one or more object uploads did not complete.
	ErrCodeUploadFailed ErrorCode = "UPLOAD_FAILED"
)

// Run-level and programming errors.
const (
	// ErrCodeNoEligibleDomains indicates every domain has failed out of the run.
	ErrCodeNoEligibleDomains ErrorCode = "NO_ELIGIBLE_DOMAINS"
	// ErrCodeInvariantViolation indicates a merge-discipline defect rather than a data problem.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeSourceUnavailable: true,
	ErrCodeGenerationFailed:  true,
	ErrCodeLoadFailed:        true,
	ErrCodeUploadFailed:      true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

var fatalCodes = map[ErrorCode]bool{
	ErrCodeSourceUnavailable:  true,
	ErrCodeNoMatchingFiles:    true,
	ErrCodeInvalidConfig:      true,
	ErrCodeCheckpointTimeout:  true,
	ErrCodeCheckpointRejected: true,
	ErrCodeNoEligibleDomains:  true,
	ErrCodeInvariantViolation: true,
}

// IsFatalCode returns true if the error code aborts the whole run rather
// than a single domain.
func IsFatalCode(code ErrorCode) bool {
	return fatalCodes[code]
}
