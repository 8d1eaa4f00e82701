// Package errors provides a lightweight structured error type (InstallError)
// for category-based classification and retry semantics across the installer
// pipeline and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of an installer error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryAuth       ErrorCategory = "auth"

	// External system integration errors
	CategoryNetwork ErrorCategory = "network"
	CategoryMirror  ErrorCategory = "mirror"
	CategoryGit     ErrorCategory = "git"

	// Device and installation errors
	CategoryDisk       ErrorCategory = "disk"
	CategoryInstall    ErrorCategory = "install"
	CategoryBootloader ErrorCategory = "bootloader"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Runtime and infrastructure errors
	CategorySysCall  ErrorCategory = "syscall"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// InstallError is a structured error with category, retryability, and context
type InstallError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for InstallError
type ContextFields map[string]any

// Error implements the error interface
func (e *InstallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *InstallError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *InstallError) WithContext(key string, value any) *InstallError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new InstallError
func New(category ErrorCategory, severity ErrorSeverity, message string) *InstallError {
	return &InstallError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new InstallError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *InstallError {
	return &InstallError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable InstallError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *InstallError {
	return &InstallError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable InstallError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *InstallError {
	return &InstallError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ie, ok := err.(*InstallError); ok {
		return ie.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if ie, ok := err.(*InstallError); ok {
		return ie.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not an InstallError
func GetCategory(err error) ErrorCategory {
	if ie, ok := err.(*InstallError); ok {
		return ie.Category
	}
	return CategoryInternal
}
