package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors so callers can map them to transport
// codes or retry policies without string matching.
type ErrorKind string

const (
	// KindValidation indicates bad input or a wrong-state transition request.
	KindValidation ErrorKind = "validation"
	// KindNotFound indicates a missing video, quality, or user.
	KindNotFound ErrorKind = "not_found"
	// KindPermission indicates an ownership mismatch.
	KindPermission ErrorKind = "permission"
	// KindTransient indicates infrastructure unavailability worth retrying.
	KindTransient ErrorKind = "transient"
	// KindPermanent indicates a non-retryable failure such as an unsupported codec.
	KindPermanent ErrorKind = "permanent"
)

// DomainError carries an ErrorKind alongside the wrapped cause.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation DomainError.
func NewValidationError(msg string) *DomainError {
	return &DomainError{Kind: KindValidation, Message: msg}
}

// NewNotFoundError creates a not-found DomainError.
func NewNotFoundError(msg string) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: msg}
}

// NewPermissionError creates a permission DomainError.
func NewPermissionError(msg string) *DomainError {
	return &DomainError{Kind: KindPermission, Message: msg}
}

// KindOf returns the ErrorKind of err, or an empty kind for non-domain errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool { return KindOf(err) == KindPermission }

// Common model validation errors.
var (
	// ErrVideoIDRequired indicates a required video ID field is zero.
	ErrVideoIDRequired = errors.New("video_id is required")

	// ErrUserIDRequired indicates a required user ID field is zero.
	ErrUserIDRequired = errors.New("user_id is required")

	// ErrFilenameRequired indicates a required filename field is empty.
	ErrFilenameRequired = errors.New("filename is required")

	// ErrRawFilePathRequired indicates a required raw file path is empty.
	ErrRawFilePathRequired = errors.New("raw_file_path is required")

	// ErrInvalidQualityName indicates an unknown quality tier.
	ErrInvalidQualityName = errors.New("invalid quality name")

	// ErrJobTypeRequired indicates a required job type field is empty.
	ErrJobTypeRequired = errors.New("job type is required")

	// ErrJobKeyRequired indicates a required job key field is empty.
	ErrJobKeyRequired = errors.New("job key is required")
)
