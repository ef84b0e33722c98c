package smartmailer

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/lattiq/smartmailer/internal/analytics"
	"github.com/lattiq/smartmailer/internal/logger"
	"github.com/lattiq/smartmailer/internal/transport/smtp"
)

const instrumentationName = "github.com/lattiq/smartmailer"

// SendRequest describes one dispatch run.
type SendRequest struct {
	// Records are the raw recipient rows, in source order.
	Records []Record

	// TargetGroup selects recipients by group code; "ALL" selects everyone.
	TargetGroup string

	// Subject is the message subject.
	Subject string

	// Template is the HTML body template with #name# and #department# placeholders.
	Template string

	// Policy overrides the configured delivery policy for this run (optional).
	Policy *DeliveryPolicy
}

// Summary is the end-of-run tally.
type Summary struct {
	SessionID string `json:"session_id"`

	// Total is the number of input records.
	Total int `json:"total"`

	// Rejected is the number of records that failed validation.
	Rejected int `json:"rejected"`

	// Admitted is the number of records that passed validation.
	Admitted int `json:"admitted"`

	// Selected is the number of admitted recipients matching the target group.
	Selected int `json:"selected"`

	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`

	// Skipped is the number of selected recipients never attempted because
	// the run was cancelled.
	Skipped int `json:"skipped"`

	Rejections []Rejection       `json:"-"`
	Outcomes   []DeliveryOutcome `json:"outcomes"`
}

// Client runs the dispatch pipeline: admission, personalization, paced
// delivery and history reporting. All methods are safe for concurrent use.
type Client struct {
	config    Config
	log       zerolog.Logger
	transport Transport
	recorder  HistoryRecorder
	sleeper   Sleeper
	headers   map[string]string

	engine    *Engine
	scheduler *Scheduler
	reporter  *Reporter
	endpoint  *url.URL

	tracer     trace.Tracer
	rejections metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// New creates a new dispatch client with the given configuration.
// The client must be closed when no longer needed so queued history
// reports are flushed.
func New(config Config, opts ...Option) (*Client, error) {
	client := &Client{
		config: config,
		log:    zerolog.Nop(),
	}

	// Apply functional options
	for _, opt := range opts {
		opt(client)
	}

	if err := client.config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	endpoint, err := client.config.TrackingEndpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	client.endpoint = endpoint

	var meter metric.Meter
	if client.config.Monitoring.Tracing.Enabled {
		client.tracer = otel.Tracer(instrumentationName)
	} else {
		client.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if client.config.Monitoring.Metrics.Enabled {
		meter = otel.Meter(instrumentationName)
	} else {
		meter = noop.NewMeterProvider().Meter(instrumentationName)
	}
	client.rejections, _ = meter.Int64Counter("smartmailer.rejections",
		metric.WithDescription("Recipient records rejected at admission"))

	if client.transport == nil {
		client.transport, err = newSMTPTransport(client.config.SMTP)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	headers := map[string]string{"X-Mailer": GetVersionInfo().UserAgent()}
	for k, v := range client.headers {
		headers[k] = v
	}

	client.engine, err = NewEngine(client.transport,
		Address{Name: client.config.Sender.Name, Email: client.config.Sender.Address},
		WithEngineLogger(client.log),
		WithEngineSleeper(client.sleeper),
		WithEngineTracer(client.tracer),
		WithEngineMeter(meter),
		WithEngineHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery engine: %w", err)
	}

	client.scheduler = NewScheduler(client.sleeper, logger.WithComponent(client.log, "scheduler"))

	if client.config.History.Enabled {
		if client.recorder == nil {
			client.recorder, err = analytics.New(analytics.Config{
				BaseURL:   client.config.History.BaseURL,
				Token:     client.config.History.Token,
				Timeout:   client.config.History.Timeout,
				UserAgent: GetVersionInfo().UserAgent(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create analytics client: %w", err)
			}
		}
		client.reporter = NewReporter(client.recorder,
			client.config.History.QueueSize,
			client.config.History.Timeout,
			logger.WithComponent(client.log, "history"))
	}

	return client, nil
}

// Dispatch runs the pipeline over req and returns the end-of-run summary.
//
// Only input errors (an empty template, an invalid policy, a closed client)
// are returned. Rejected records and failed deliveries are reported in the
// summary. Cancelling ctx stops recipients from entering delivery; the
// summary is still returned with the unstarted recipients marked skipped.
//
// Close does not wait for a running Dispatch. Deliveries that succeed after
// Close are not reported to the analytics service.
func (c *Client) Dispatch(ctx context.Context, req *SendRequest) (*Summary, error) {
	ctx, span := c.tracer.Start(ctx, "smartmailer.Client.Dispatch")
	defer span.End()

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		span.RecordError(ErrClientClosed)
		span.SetStatus(codes.Error, ErrClientClosed.Error())
		return nil, ErrClientClosed
	}

	if err := c.validateRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	policy := c.config.Delivery
	if req.Policy != nil {
		policy = *req.Policy
	}

	session := NewSession(req.Subject, req.Template, req.TargetGroup)
	sessionID := session.ID.String()
	log := c.log.With().Str("session_id", sessionID).Logger()

	span.SetAttributes(
		attribute.String("smartmailer.session_id", sessionID),
		attribute.String("smartmailer.target_group", req.TargetGroup),
		attribute.String("smartmailer.subject", req.Subject),
		attribute.Int("smartmailer.records", len(req.Records)),
		attribute.String("smartmailer.transport", c.transport.Name()),
	)

	admission := AdmitRecords(req.Records, req.TargetGroup)
	for _, rej := range admission.Rejections {
		log.Warn().
			Int("row", rej.Index+1).
			Str("email", rej.Email).
			Err(rej.Err).
			Msg("recipient rejected")
	}
	if n := admission.Rejected(); n > 0 {
		c.rejections.Add(ctx, int64(n))
	}

	log.Info().
		Int("records", len(req.Records)).
		Int("admitted", admission.Admitted).
		Int("rejected", admission.Rejected()).
		Int("selected", len(admission.Accepted)).
		Str("target_group", CanonicalGroup(req.TargetGroup)).
		Msg("recipients admitted")

	tpl := ParseTemplate(req.Template)
	render := func(r Recipient) string {
		return tpl.Render(r, Beacon{Endpoint: c.endpoint, SessionID: sessionID, Email: r.Email})
	}

	total := len(admission.Accepted)
	if c.reporter != nil {
		release := c.reporter.Reserve(total)
		defer release()
	}

	var progress sync.Mutex
	done := 0
	deliver := func(ctx context.Context, r Recipient, body string) DeliveryOutcome {
		outcome := c.engine.Deliver(ctx, r, req.Subject, body, policy)
		if outcome.Succeeded && c.reporter != nil {
			c.reporter.Report(sessionID, r.Email, r.GroupCode, req.Subject)
		}

		progress.Lock()
		done++
		n := done
		progress.Unlock()

		log.Info().
			Str("progress", strconv.Itoa(n)+"/"+strconv.Itoa(total)).
			Str("recipient", r.Email).
			Bool("succeeded", outcome.Succeeded).
			Int("attempts", outcome.Attempts).
			Msg("recipient processed")
		return outcome
	}

	outcomes := c.scheduler.Run(ctx, admission.Accepted, render, deliver, policy)

	summary := &Summary{
		SessionID:  sessionID,
		Total:      len(req.Records),
		Rejected:   admission.Rejected(),
		Admitted:   admission.Admitted,
		Selected:   total,
		Rejections: admission.Rejections,
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.Succeeded:
			summary.Delivered++
		case o.Skipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("smartmailer.delivered", summary.Delivered),
		attribute.Int("smartmailer.failed", summary.Failed),
		attribute.Int("smartmailer.skipped", summary.Skipped),
	)
	if summary.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d/%d deliveries failed", summary.Failed, total))
	} else {
		span.SetStatus(codes.Ok, "dispatch completed")
	}

	log.Info().
		Int("admitted", summary.Admitted).
		Int("rejected", summary.Rejected).
		Int("selected", summary.Selected).
		Int("delivered", summary.Delivered).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("dispatch finished")

	return summary, nil
}

// Close flushes queued history reports, bounded by History.DrainTimeout,
// and marks the client closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.reporter == nil {
		return nil
	}

	ctx := context.Background()
	if c.config.History.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.History.DrainTimeout)
		defer cancel()
	}

	if err := c.reporter.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush history reports: %w", err)
	}
	return nil
}

func (c *Client) validateRequest(req *SendRequest) error {
	if req == nil {
		return NewValidationError("request", "send request is required")
	}

	if req.Template == "" {
		return NewTemplateError("request", "parse", "template has no content", ErrTemplateEmpty)
	}

	if req.Policy != nil {
		if err := ValidatePolicy(*req.Policy); err != nil {
			return err
		}
	}

	return nil
}

func newSMTPTransport(cfg SMTPConfig) (Transport, error) {
	t, err := smtp.New(smtp.Config{
		Host:               cfg.Host,
		Port:               strconv.Itoa(cfg.Port),
		Username:           cfg.Username,
		Password:           cfg.Password,
		LocalName:          cfg.LocalName,
		RequireTLS:         cfg.RequireTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		DialTimeout:        cfg.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
