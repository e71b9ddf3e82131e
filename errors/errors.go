// Package errors provides the typed error taxonomy for the doc-sync core.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeValidationFailure     ErrorCode = "VALIDATION_FAILURE"
	ErrCodeOutOfOrder            ErrorCode = "OUT_OF_ORDER"
	ErrCodeStorageFailure        ErrorCode = "STORAGE_FAILURE"
	ErrCodeReconstructionFailure ErrorCode = "RECONSTRUCTION_FAILURE"
	ErrCodeReconciliationFailure ErrorCode = "RECONCILIATION_FAILURE"
)

// Operation represents the core operation during which an error occurred
type Operation string

const (
	OpSubmit      Operation = "submit"
	OpReconstruct Operation = "reconstruct"
	OpApply       Operation = "apply"
	OpAppend      Operation = "append"
	OpRange       Operation = "range"
	OpCheckpoint  Operation = "checkpoint"
	OpLatest      Operation = "latest"
	OpClose       Operation = "close"
)

// SyncError represents an error that occurred while reconciling or serving
// the shared document.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "engine", "storage/sqlite")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation-related SyncError.
// Validation failures are local to the boundary and never reach the log.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewOutOfOrderError reports an apply precondition violation: the event id
// does not directly follow the snapshot version. The mismatch is recorded in
// the error metadata.
func NewOutOfOrderError(op Operation, snapshotVersion, eventID uint64) *SyncError {
	return &SyncError{
		Code:      ErrCodeOutOfOrder,
		Op:        op,
		Err:       fmt.Errorf("event id %d does not follow snapshot version %d", eventID, snapshotVersion),
		Retryable: false,
		Metadata: map[string]interface{}{
			"snapshot_version": snapshotVersion,
			"event_id":         eventID,
		},
	}
}

// NewReconstructionError wraps a failure to rebuild the current document from
// the latest checkpoint and its event suffix.
func NewReconstructionError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeReconstructionFailure,
		Op:        OpReconstruct,
		Component: "engine",
		Err:       cause,
		Retryable: false,
	}
}

// NewReconciliationError wraps a failure to apply a freshly assigned event
// during submission. Nothing is partially committed when this is returned.
func NewReconciliationError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeReconciliationFailure,
		Op:        OpSubmit,
		Component: "engine",
		Err:       cause,
		Retryable: false,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// CodeOf returns the error code carried by err, or the empty code when err is
// not a SyncError.
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidationFailure
}

// IsOutOfOrder reports whether err is an apply precondition violation.
func IsOutOfOrder(err error) bool {
	return CodeOf(err) == ErrCodeOutOfOrder
}
