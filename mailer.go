package smartmailer

import (
	"context"
	"time"

	"github.com/lattiq/smartmailer/internal/core"
)

// Type aliases to re-export core types for the public API.
type (
	Transport       = core.Transport
	Conn            = core.Conn
	Record          = core.Record
	Recipient       = core.Recipient
	Address         = core.Address
	Message         = core.Message
	DeliveryPolicy  = core.DeliveryPolicy
	DeliveryOutcome = core.DeliveryOutcome
	ValidationError = core.ValidationError
	TransportError  = core.TransportError
	HistoryError    = core.HistoryError
	HistoryEntry    = core.HistoryEntry
)

// Record field names.
const (
	FieldEmail     = core.FieldEmail
	FieldName      = core.FieldName
	FieldGroupCode = core.FieldGroupCode
)

// Error constructor functions
var (
	NewValidationError          = core.NewValidationError
	NewValidationErrorWithValue = core.NewValidationErrorWithValue
	NewTransportError           = core.NewTransportError
)

// Public interfaces for the pipeline
type (
	// HistoryRecorder delivers history entries to the analytics service.
	// Implementations must be safe for concurrent use.
	HistoryRecorder interface {
		// RecordHistory posts one successful delivery.
		RecordHistory(ctx context.Context, entry HistoryEntry) error
	}

	// Sleeper blocks for d or until ctx is done.
	Sleeper func(ctx context.Context, d time.Duration) error

	// RenderFunc renders the message body for one recipient.
	RenderFunc func(r Recipient) string

	// DeliverFunc delivers a rendered body to one recipient.
	DeliverFunc func(ctx context.Context, r Recipient, body string) DeliveryOutcome
)

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
