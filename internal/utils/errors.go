// Package utils provides the error taxonomy and logging helpers shared by the
// crawl core.
package utils

import (
	"errors"
	"fmt"
	"time"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns string representation of error severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode categorizes failures raised by the crawl core.
type ErrorCode string

const (
	// ErrCodeMalformedFragment is raised by a numeric coercion step. It never
	// leaves the record assembler.
	ErrCodeMalformedFragment ErrorCode = "MALFORMED_FRAGMENT"
	// ErrCodeCaptureFailed is raised when content or a screenshot is
	// requested from a page that is not navigable.
	ErrCodeCaptureFailed ErrorCode = "CAPTURE_FAILED"
	// ErrCodeBypassFailed is raised when the anti-bot token exchange fails.
	ErrCodeBypassFailed ErrorCode = "BYPASS_EXCHANGE_FAILED"
	// ErrCodeFetchFailed covers network errors, timeouts and navigation failures.
	ErrCodeFetchFailed ErrorCode = "FETCH_FAILED"

	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeOutputFailed  ErrorCode = "OUTPUT_FAILED"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// StructuredError provides rich error information for better debugging and handling
type StructuredError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Severity  ErrorSeverity          `json:"severity"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StructuredError with the same code.
func (e *StructuredError) Is(target error) bool {
	if se, ok := target.(*StructuredError); ok {
		return e.Code == se.Code
	}
	return false
}

// WithContext adds contextual information to the error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewError creates a StructuredError with error severity.
func NewError(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// MalformedFragment reports a fragment a coercion step could not parse.
func MalformedFragment(step, fragment string, cause error) *StructuredError {
	err := NewError(ErrCodeMalformedFragment, fmt.Sprintf("%s cannot coerce %q", step, fragment), cause)
	err.Severity = SeverityInfo
	return err
}

// CaptureError reports a capture attempted on a page that cannot serve it.
func CaptureError(message string, cause error) *StructuredError {
	return NewError(ErrCodeCaptureFailed, message, cause)
}

// BypassExchangeFailure reports a failed anti-bot token exchange. It is
// terminal for the request.
func BypassExchangeFailure(url string, cause error) *StructuredError {
	return NewError(ErrCodeBypassFailed, "token exchange failed for "+url, cause).
		WithContext("url", url)
}

// FetchFailure reports a network, timeout or navigation failure.
func FetchFailure(url string, cause error) *StructuredError {
	err := NewError(ErrCodeFetchFailed, "fetch failed for "+url, cause).WithContext("url", url)
	err.Retryable = true
	return err
}

// InvalidConfig reports configuration that cannot be used.
func InvalidConfig(message string) *StructuredError {
	err := NewError(ErrCodeInvalidConfig, message, nil)
	err.Severity = SeverityCritical
	return err
}

// OutputFailure reports a sink that could not be opened or written.
func OutputFailure(message string, cause error) *StructuredError {
	return NewError(ErrCodeOutputFailed, message, cause)
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var se *StructuredError
	for err != nil {
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable reports whether the outermost StructuredError in err's chain is
// retryable.
func IsRetryable(err error) bool {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// CodeOf returns the code of the outermost StructuredError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
