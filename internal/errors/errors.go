// Package errors provides structured errors and retry helpers for siftd.
package errors

import (
	"fmt"
)

// SiftError is the structured error type for siftd.
// It carries a stable code for logging and for the status surface.
type SiftError struct {
	// Code is the unique error code (e.g. "ERR_301_DIFF_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Service, Index...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Path is the file the error relates to, when applicable.
	Path string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *SiftError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SiftError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works with SiftError values.
func (e *SiftError) Is(target error) bool {
	if t, ok := target.(*SiftError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithPath attaches the file path the error relates to.
func (e *SiftError) WithPath(path string) *SiftError {
	e.Path = path
	return e
}

// New creates a new SiftError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SiftError {
	return &SiftError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SiftError from an existing error.
func Wrap(code string, err error) *SiftError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*SiftError); ok {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether the error must abort the current run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*SiftError); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" for foreign errors.
func GetCode(err error) string {
	if se, ok := err.(*SiftError); ok {
		return se.Code
	}
	return ""
}
