package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/lattiq/smartmailer/internal/core"
)

const transportName = "smtp"

// Config holds relay connection settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string

	// LocalName is sent in EHLO. Empty uses the net/smtp default.
	LocalName string

	// RequireTLS fails the connection when the relay does not offer STARTTLS.
	RequireTLS bool

	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration
}

// Transport implements core.Transport for an authenticated SMTP relay.
// Each Open dials a fresh connection, upgrades it with STARTTLS and
// authenticates; nothing is shared between connections, so a Transport is
// safe for concurrent use.
type Transport struct {
	config Config
	now    func() time.Time
}

// New creates a new SMTP transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Host == "" {
		return nil, core.NewValidationError("host", "SMTP host is required")
	}

	if cfg.Port == "" {
		return nil, core.NewValidationError("port", "SMTP port is required")
	}

	// Validate port number
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, core.NewValidationErrorWithValue("port", "invalid port number", cfg.Port)
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}

	return &Transport{
		config: cfg,
		now:    time.Now,
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return transportName
}

// Open connects to the relay, upgrades the session to TLS and authenticates.
func (t *Transport) Open(ctx context.Context) (core.Conn, error) {
	addr := net.JoinHostPort(t.config.Host, t.config.Port)

	dialer := net.Dialer{Timeout: t.config.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, core.NewTransportError(transportName, "dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(nc, t.config.Host)
	if err != nil {
		_ = nc.Close()
		return nil, core.NewTransportError(transportName, "greeting", err)
	}

	if err := t.handshake(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &conn{client: client, host: t.config.Host, now: t.now}, nil
}

// handshake runs EHLO, STARTTLS and AUTH in that order.
func (t *Transport) handshake(client *smtp.Client) error {
	if t.config.LocalName != "" {
		if err := client.Hello(t.config.LocalName); err != nil {
			return core.NewTransportError(transportName, "ehlo", err)
		}
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName:         t.config.Host,
			InsecureSkipVerify: t.config.InsecureSkipVerify, // #nosec G402 -- opt-in for development relays
			MinVersion:         tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return core.NewTransportError(transportName, "starttls", err)
		}
	} else if t.config.RequireTLS {
		return core.NewTransportError(transportName, "starttls", errors.New("relay does not support STARTTLS"))
	}

	if t.config.Username == "" {
		return nil
	}

	if ok, _ := client.Extension("AUTH"); !ok {
		return core.NewTransportError(transportName, "auth", errors.New("relay does not support AUTH"))
	}

	auth := smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
	if err := client.Auth(auth); err != nil {
		return core.NewTransportError(transportName, "auth", err)
	}

	return nil
}

type conn struct {
	client *smtp.Client
	host   string
	now    func() time.Time
	closed bool
}

// Send transmits one message.
func (c *conn) Send(_ context.Context, msg *core.Message) error {
	if c.closed {
		return core.NewTransportError(transportName, "send", errors.New("connection closed"))
	}

	body, err := buildMessage(msg, c.host, c.now())
	if err != nil {
		return core.NewTransportError(transportName, "message_build", err)
	}

	if err := c.client.Mail(msg.From.Email); err != nil {
		return core.NewTransportError(transportName, "mail_from", err)
	}

	if err := c.client.Rcpt(msg.To.Email); err != nil {
		return core.NewTransportError(transportName, "rcpt_to", err)
	}

	w, err := c.client.Data()
	if err != nil {
		return core.NewTransportError(transportName, "data", err)
	}

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return core.NewTransportError(transportName, "data", err)
	}

	if err := w.Close(); err != nil {
		return core.NewTransportError(transportName, "data", fmt.Errorf("relay rejected message: %w", err))
	}

	return nil
}

// Close ends the session with QUIT, falling back to dropping the connection.
func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.client.Quit(); err != nil {
		_ = c.client.Close()
		return core.NewTransportError(transportName, "quit", err)
	}

	return nil
}
