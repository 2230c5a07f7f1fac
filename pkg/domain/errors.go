package domain

import (
	"errors"
	"fmt"
)

// ErrFusionNotFound is returned when a fusion ID cannot be found in the store.
var ErrFusionNotFound = errors.New("fusion not found")

// ErrAssetNotFound is returned when an asset ID cannot be found in the ledger.
var ErrAssetNotFound = errors.New("asset not found")

// ErrStatusConflict is returned by compare-and-set writes when the stored
// status no longer matches the expected one (another writer got there first).
var ErrStatusConflict = errors.New("fusion status conflict")

// ValidationError reports malformed or insufficient input. Nothing has
// been persisted when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NewValidationError formats a validation failure.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports that a parent asset is already claimed by another
// in-flight fusion. Nothing has been persisted; the caller may retry later.
type ConflictError struct {
	AssetID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: asset %s is locked by another fusion", e.AssetID)
}

// Service error codes, shared by the generation and mint boundaries.
const (
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeUnavailable       = "unavailable"
	ErrCodeInvalidInput      = "invalid_input"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodeRejected          = "rejected"
	ErrCodeNetworkTimeout    = "network_timeout"
	ErrCodeNotFound          = "not_found"
)

// ServiceError is a failure reported by an external collaborator
// (generation backend or mint relay). Retryable errors are subject to the
// orchestrator's backoff budget; permanent ones finalize the fusion.
type ServiceError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewServiceError builds a typed service error. Retryability follows the
// code: rate limiting, unavailability and network timeouts are transient.
func NewServiceError(code, message string) *ServiceError {
	retryable := code == ErrCodeRateLimited || code == ErrCodeUnavailable || code == ErrCodeNetworkTimeout
	return &ServiceError{Code: code, Message: message, Retryable: retryable}
}

// IsRetryable reports whether err is a transient service failure.
func IsRetryable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Retryable
}
