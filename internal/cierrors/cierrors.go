// Package cierrors provides a lightweight structured error type
// (PipelineError) for category-based classification and retry semantics
// across the matrix runner.
package cierrors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a pipeline error for classification.
type ErrorCategory string

const (
	// Configuration errors abort the whole run before any lane starts.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Lane-scoped errors.
	CategoryProvision ErrorCategory = "provision"
	CategoryStage     ErrorCategory = "stage"
	CategoryCheckout  ErrorCategory = "checkout"

	// Runtime and infrastructure errors.
	CategoryInfrastructure ErrorCategory = "infrastructure"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution of the run or lane
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// PipelineError is a structured error with category, retryability, and context.
// Retryable is true only for infrastructure-class failures (worker unreachable,
// provisioning, timeouts); genuine build/lint/test/doc failures are never retryable.
type PipelineError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PipelineError.
type ContextFields map[string]any

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError.
func New(category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new PipelineError that wraps an existing error.
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// WrapRetryable creates a new retryable PipelineError that wraps an existing error.
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsRetryable reports whether err (or any error it wraps) is a retryable
// PipelineError. Plain errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf returns the category of err if it is a PipelineError,
// CategoryInternal otherwise.
func CategoryOf(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryInternal
}
