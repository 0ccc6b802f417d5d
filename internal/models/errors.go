package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrPrecondition ErrorType = iota
	ErrExternalTool
	ErrFileOp
	ErrInvalidConfig
	ErrSigning
	ErrFetch
	ErrTransaction
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrPrecondition:
		return "Precondition"
	case ErrExternalTool:
		return "ExternalTool"
	case ErrFileOp:
		return "FileOp"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrSigning:
		return "Signing"
	case ErrFetch:
		return "Fetch"
	case ErrTransaction:
		return "Transaction"
	default:
		return "Unknown"
	}
}

// RepoCtlError represents an error raised while publishing or migrating a
// repository. Subject names the repository, snapshot or file involved.
type RepoCtlError struct {
	Type    ErrorType
	Subject string
	Err     error
}

// Error implements the error interface
func (e *RepoCtlError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Subject, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *RepoCtlError) Unwrap() error {
	return e.Err
}

// NewError builds a RepoCtlError.
func NewError(t ErrorType, subject string, err error) *RepoCtlError {
	return &RepoCtlError{Type: t, Subject: subject, Err: err}
}

// IsType reports whether any error in err's chain is a RepoCtlError of type t.
func IsType(err error, t ErrorType) bool {
	var rerr *RepoCtlError
	if errors.As(err, &rerr) {
		return rerr.Type == t
	}
	return false
}
