package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies sync failures
type ErrorKind string

const (
	ErrInvalidState      ErrorKind = "INVALID_STATE"      // missing identity or credentials
	ErrLoginRejected     ErrorKind = "LOGIN_REJECTED"     // portal reported bad username or password
	ErrSessionExpired    ErrorKind = "SESSION_EXPIRED"    // cached cookies no longer authenticate
	ErrTimeout           ErrorKind = "TIMEOUT"            // an expected page state never arrived
	ErrExtractionFailure ErrorKind = "EXTRACTION_FAILURE" // login looked fine but produced nothing usable
	ErrUnexpected        ErrorKind = "UNEXPECTED"
)

// SyncError carries a failure kind through the authenticator, coordinator and job layers
type SyncError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError builds a classified error, wrapping cause when non-nil
func NewSyncError(kind ErrorKind, message string, cause error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of the first SyncError in err's chain, or ErrUnexpected
func KindOf(err error) ErrorKind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ErrUnexpected
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsIOClass reports failures caused by the portal or transport rather than local state
func IsIOClass(err error) bool {
	switch KindOf(err) {
	case ErrLoginRejected, ErrSessionExpired, ErrTimeout, ErrExtractionFailure:
		return true
	}
	return false
}
