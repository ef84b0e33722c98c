package smartmailer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Engine delivers one message per recipient over a Transport, retrying failed
// attempts with exponential backoff. Every attempt uses its own connection.
// All methods are safe for concurrent use when the Transport is.
type Engine struct {
	transport Transport
	from      Address
	headers   map[string]string
	sleep     Sleeper
	log       zerolog.Logger
	tracer    trace.Tracer
	attempts  metric.Int64Counter
	outcomes  metric.Int64Counter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineSleeper replaces the backoff sleep, mainly for tests.
func WithEngineSleeper(s Sleeper) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithEngineTracer sets the tracer used for delivery spans.
func WithEngineTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithEngineMeter sets the meter used for attempt and delivery counters.
func WithEngineMeter(m metric.Meter) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.attempts, e.outcomes = newDeliveryCounters(m)
		}
	}
}

// WithEngineHeaders adds headers to every message.
func WithEngineHeaders(h map[string]string) EngineOption {
	return func(e *Engine) {
		e.headers = h
	}
}

// NewEngine creates a delivery engine sending as from over t.
func NewEngine(t Transport, from Address, opts ...EngineOption) (*Engine, error) {
	if t == nil {
		return nil, NewValidationError("transport", "transport is required")
	}
	if !IsValidEmail(from.Email) {
		return nil, NewValidationErrorWithValue("from", "invalid sender address", from.Email)
	}

	e := &Engine{
		transport: t,
		from:      from,
		sleep:     sleepContext,
		log:       zerolog.Nop(),
		tracer:    tracenoop.NewTracerProvider().Tracer(""),
	}
	e.attempts, e.outcomes = newDeliveryCounters(noop.NewMeterProvider().Meter(""))

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

func newDeliveryCounters(m metric.Meter) (attempts, outcomes metric.Int64Counter) {
	// Instrument creation only fails on invalid names; the returned
	// counter is still usable (noop) in that case.
	attempts, _ = m.Int64Counter("smartmailer.attempts",
		metric.WithDescription("Transport send attempts"))
	outcomes, _ = m.Int64Counter("smartmailer.deliveries",
		metric.WithDescription("Final per-recipient delivery outcomes"))
	return attempts, outcomes
}

// Deliver sends body to r, making up to policy.MaxAttempts attempts. It never
// returns an error: the final state is reported in the outcome.
//
// Once Deliver starts it is not interrupted by ctx cancellation; the
// attempt in flight completes and the retry budget is exhausted normally.
func (e *Engine) Deliver(ctx context.Context, r Recipient, subject, body string, policy DeliveryPolicy) DeliveryOutcome {
	ctx = context.WithoutCancel(ctx)

	ctx, span := e.tracer.Start(ctx, "smartmailer.Engine.Deliver",
		trace.WithAttributes(
			attribute.String("smartmailer.to", r.Email),
			attribute.String("smartmailer.group", r.GroupCode),
			attribute.String("smartmailer.transport", e.transport.Name()),
			attribute.Int("smartmailer.max_attempts", policy.MaxAttempts),
		),
	)
	defer span.End()

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	msg := &Message{
		From:     e.from,
		To:       r.Address(),
		Subject:  subject,
		HTMLBody: body,
		Headers:  e.headers,
	}

	backoff := NewBackoff(policy)
	outcome := DeliveryOutcome{Recipient: r}

	for i := 0; i < maxAttempts; i++ {
		outcome.Attempts = i + 1
		startTime := time.Now()

		err := e.attempt(ctx, msg)
		e.attempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))

		if err == nil {
			outcome.Succeeded = true
			outcome.LastError = ""
			span.AddEvent("attempt", trace.WithAttributes(
				attribute.Int("attempt", outcome.Attempts),
				attribute.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			))
			e.log.Info().
				Str("recipient", r.Email).
				Int("attempt", outcome.Attempts).
				Msg("email sent")
			break
		}

		outcome.LastError = err.Error()
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", outcome.Attempts),
			attribute.String("error", outcome.LastError),
		))

		if outcome.Attempts == maxAttempts {
			break
		}

		delay := backoff.Delay(i)
		e.log.Warn().
			Err(err).
			Str("recipient", r.Email).
			Int("attempt", outcome.Attempts).
			Int("max_attempts", maxAttempts).
			Dur("backoff", delay).
			Msg("send attempt failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			// Only reachable with a custom Sleeper; the delivery context is never cancelled.
			outcome.LastError = fmt.Sprintf("%s (backoff interrupted: %v)", outcome.LastError, err)
			break
		}
	}

	status := "delivered"
	if !outcome.Succeeded {
		status = "failed"
		span.SetStatus(codes.Error, outcome.LastError)
		e.log.Error().
			Str("recipient", r.Email).
			Int("attempts", outcome.Attempts).
			Str("last_error", outcome.LastError).
			Msg("delivery failed")
	} else {
		span.SetStatus(codes.Ok, "email delivered")
	}

	span.SetAttributes(attribute.Int("smartmailer.attempts", outcome.Attempts))
	e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))

	return outcome
}

// attempt opens a connection, sends msg and closes the connection on every path.
func (e *Engine) attempt(ctx context.Context, msg *Message) error {
	conn, err := e.transport.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// A failed QUIT does not undo an accepted message.
		if cerr := conn.Close(); cerr != nil {
			e.log.Debug().Err(cerr).Msg("closing transport connection")
		}
	}()

	return conn.Send(ctx, msg)
}
