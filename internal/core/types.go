package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
)

// Transport opens authenticated connections to the outbound mail relay.
// A connection is scoped to a single delivery attempt.
type Transport interface {
	// Open establishes a ready-to-send connection (connect, upgrade, authenticate).
	Open(ctx context.Context) (Conn, error)

	// Name returns the transport's name for identification and logging.
	Name() string
}

// Conn is a single authenticated transport session.
type Conn interface {
	// Send transmits one message over the connection.
	Send(ctx context.Context, msg *Message) error

	// Close releases the connection. It must be safe to call after a failed Send.
	Close() error
}

// ErrMalformedSource indicates a recipient source that cannot be parsed at all.
var ErrMalformedSource = errors.New("malformed recipient source")

// Field names a raw recipient record is expected to expose.
const (
	FieldEmail     = "email"
	FieldName      = "name"
	FieldGroupCode = "group_code"
)

// Record is a raw recipient row as produced by a recipient source.
// A key that is absent from the map is a missing field.
type Record map[string]string

// Lookup returns the value stored under field and whether the field is present.
func (r Record) Lookup(field string) (string, bool) {
	v, ok := r[field]
	return v, ok
}

// Recipient is an admitted message recipient.
// GroupCode is always stored in canonical upper-case form.
type Recipient struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	GroupCode string `json:"group_code"`
}

// Key returns the identity used to match recipients; addresses compare case-insensitively.
func (r Recipient) Key() string {
	return strings.ToLower(r.Email)
}

// Address returns the recipient as a mail address.
func (r Recipient) Address() Address {
	return Address{Name: r.Name, Email: r.Email}
}

// Address represents an email address with optional display name.
type Address struct {
	Name  string `json:"name"`  // Display name (optional)
	Email string `json:"email"` // Email address (required)
}

// String returns the formatted email address.
// If Name is provided, returns "Name <email@domain.com>"
// Otherwise returns just "email@domain.com"
func (a Address) String() string {
	if a.Name != "" {
		return mime.QEncoding.Encode("UTF-8", a.Name) + " <" + a.Email + ">"
	}
	return a.Email
}

// Message is a fully rendered email for a single recipient.
type Message struct {
	From     Address
	To       Address
	Subject  string
	HTMLBody string
	Headers  map[string]string
}

// DeliveryPolicy controls pacing and retries for a run. It is immutable for the
// duration of the run.
type DeliveryPolicy struct {
	// BatchSize is the number of recipients processed between inter-batch pauses.
	BatchSize int `mapstructure:"batch_size"`

	// InterBatchDelay is the pause inserted after every full batch.
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`

	// MaxAttempts is the total number of transport attempts per recipient.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BackoffBase is the sleep after the first failed attempt.
	BackoffBase time.Duration `mapstructure:"backoff_base"`

	// BackoffFactor multiplies the sleep after each further failed attempt.
	BackoffFactor float64 `mapstructure:"backoff_factor"`

	// MaxBackoff caps a single backoff sleep. Zero means uncapped.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// Jitter adds up to 10% random jitter to each backoff sleep.
	Jitter bool `mapstructure:"jitter"`

	// Workers is the number of concurrent deliveries inside a batch.
	Workers int `mapstructure:"workers"`
}

// DeliveryOutcome is the result of delivering to one recipient.
type DeliveryOutcome struct {
	Recipient Recipient `json:"recipient"`
	Succeeded bool      `json:"succeeded"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`

	// Skipped is set when the run was cancelled before this recipient entered delivery.
	Skipped bool `json:"skipped,omitempty"`
}

// Failed reports whether delivery was attempted and did not succeed.
func (o DeliveryOutcome) Failed() bool {
	return !o.Succeeded && !o.Skipped
}

// ValidationError represents a validation error with specific field information.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Message is the validation error message.
	Message string

	// Value is the invalid value (optional).
	Value interface{}

	// Cause is the sentinel error classifying the failure (optional).
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Unwrap returns the classifying sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// TransportError represents a failure talking to the mail relay.
type TransportError struct {
	// Transport is the name of the transport that generated the error.
	Transport string

	// Code identifies the failed stage (e.g. "dial", "starttls", "auth", "send").
	Code string

	// Message is the error message.
	Message string

	// Cause is the underlying error that caused this transport error.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s error [%s]: %s", e.Transport, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *TransportError) Is(target error) bool {
	te, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Transport == te.Transport && e.Code == te.Code
}

// HistoryEntry is the payload of a history report.
type HistoryEntry struct {
	EmailID        string `json:"email_id"`
	RecipientEmail string `json:"recipient_email"`
	DepartmentCode string `json:"department_code"`
	EmailSubject   string `json:"email_subject"`
}

// HistoryError is returned when the analytics service rejects a request.
type HistoryError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HistoryError) Error() string {
	return fmt.Sprintf("analytics %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// NewTransportError creates a new transport error wrapping cause.
func NewTransportError(transport, code string, cause error) *TransportError {
	msg := code + " failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &TransportError{
		Transport: transport,
		Code:      code,
		Message:   msg,
		Cause:     cause,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorWithValue creates a new validation error with a value.
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
