package smartmailer

import (
	"errors"
	"fmt"

	"github.com/lattiq/smartmailer/internal/core"
)

// Predefined sentinel errors for common cases.
var (
	// ErrInvalidEmail indicates an invalid email address format.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrMissingField indicates a recipient record lacks a required field.
	ErrMissingField = errors.New("missing field")

	// ErrMalformedSource indicates the recipient source could not be parsed at all.
	ErrMalformedSource = core.ErrMalformedSource

	// ErrTemplateEmpty indicates the message template has no content.
	ErrTemplateEmpty = errors.New("template is empty")

	// ErrInvalidConfiguration indicates invalid configuration.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrCancelled marks recipients that never entered delivery because the run was cancelled.
	ErrCancelled = errors.New("run cancelled before delivery")
)

// TemplateError represents an error in template processing.
type TemplateError struct {
	// Template is the name of the template that caused the error.
	Template string

	// Operation is the operation that failed (e.g., "load", "parse").
	Operation string

	// Message is the error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in %s during %s: %s", e.Template, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// NewTemplateError creates a new template error.
func NewTemplateError(template, operation, message string, cause error) *TemplateError {
	return &TemplateError{
		Template:  template,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
