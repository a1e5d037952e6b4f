package errors

import "fmt"

// ValidationError reports a malformed finding input. The offending field name
// is always populated so callers can skip the finding and keep the batch.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid finding: field %q is missing", e.Field)
	}
	return fmt.Sprintf("invalid finding: field %q %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a missing required field.
func NewValidationError(field string) *ValidationError {
	return &ValidationError{Field: field}
}

// NewValidationErrorf creates a ValidationError with a formatted reason.
func NewValidationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a persistence failure. A failed put never leaves a
// partially written run behind.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface, returning the wrapped message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError for the given operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// ManifestConflictError signals that a manifest save lost an optimistic
// concurrency check against a parallel writer.
type ManifestConflictError struct {
	ProjectID       string
	ExpectedVersion int64
	ActualVersion   int64
}

// Error implements the error interface for ManifestConflictError.
func (e *ManifestConflictError) Error() string {
	return fmt.Sprintf("manifest for project %q was modified concurrently: expected version %d, found %d",
		e.ProjectID, e.ExpectedVersion, e.ActualVersion)
}

// NewManifestConflictError creates a ManifestConflictError instance.
func NewManifestConflictError(projectID string, expected, actual int64) *ManifestConflictError {
	return &ManifestConflictError{
		ProjectID:       projectID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}
