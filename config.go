package smartmailer

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete dispatcher configuration.
type Config struct {
	// SMTP contains relay connection settings.
	SMTP SMTPConfig `mapstructure:"smtp"`

	// Sender is the From address used for every message.
	Sender SenderConfig `mapstructure:"sender"`

	// Delivery contains batching and retry policy.
	Delivery DeliveryPolicy `mapstructure:"delivery"`

	// Tracking contains open-tracking beacon configuration.
	Tracking TrackingConfig `mapstructure:"tracking"`

	// History contains analytics service configuration.
	History HistoryConfig `mapstructure:"history"`

	// Monitoring contains observability configuration.
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// SMTPConfig contains relay connection settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// LocalName is the hostname announced in EHLO (optional).
	LocalName string `mapstructure:"local_name"`

	// RequireTLS refuses relays that do not offer STARTTLS.
	RequireTLS bool `mapstructure:"require_tls"`

	// InsecureSkipVerify disables certificate verification.
	// WARNING: development relays only.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	// DialTimeout bounds the TCP connect of each attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// SenderConfig is the From identity of a run.
type SenderConfig struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

// TrackingConfig contains open-tracking beacon configuration.
type TrackingConfig struct {
	// Endpoint is the absolute URL the beacon image points at. When empty it
	// defaults to History.BaseURL + "/tracking".
	Endpoint string `mapstructure:"endpoint"`
}

// HistoryConfig contains analytics service configuration.
type HistoryConfig struct {
	// Enabled indicates whether successful deliveries are reported.
	Enabled bool `mapstructure:"enabled"`

	// BaseURL is the analytics service root, e.g. "https://analytics.example.com".
	BaseURL string `mapstructure:"base_url"`

	// Token is the bearer token for the analytics service.
	Token string `mapstructure:"token"`

	// Timeout bounds each analytics request.
	Timeout time.Duration `mapstructure:"timeout"`

	// QueueSize is the number of reports buffered before new ones are dropped.
	QueueSize int `mapstructure:"queue_size"`

	// DrainTimeout bounds how long Close waits for queued reports.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// MonitoringConfig contains observability configuration.
type MonitoringConfig struct {
	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Logging contains logging configuration.
	Logging LoggingConfig `mapstructure:"logging"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled indicates whether spans are recorded through the global tracer provider.
	Enabled bool `mapstructure:"enabled"`

	// ServiceName is the instrumentation name used for the tracer.
	ServiceName string `mapstructure:"service_name"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled indicates whether counters are recorded through the global meter provider.
	Enabled bool `mapstructure:"enabled"`

	// Namespace is the metrics namespace/prefix.
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is the log format (json, console).
	Format string `mapstructure:"format"`

	// Output is where to write logs (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SMTP: SMTPConfig{
			Port:        587,
			RequireTLS:  true,
			DialTimeout: 30 * time.Second,
		},
		Delivery: DefaultDeliveryPolicy(),
		History: HistoryConfig{
			Enabled:      true,
			Timeout:      10 * time.Second,
			QueueSize:    1024,
			DrainTimeout: 30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Tracing: TracingConfig{
				Enabled:     true,
				ServiceName: "smartmailer",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "smartmailer",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stdout",
			},
		},
	}
}

// DefaultDeliveryPolicy returns the default batching and retry policy.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		BatchSize:       50,
		InterBatchDelay: 10 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		BackoffFactor:   2.0,
		Workers:         1,
	}
}

// TrackingEndpoint returns the resolved beacon endpoint.
func (c *Config) TrackingEndpoint() (*url.URL, error) {
	raw := c.Tracking.Endpoint
	if raw == "" && c.History.BaseURL != "" {
		raw = strings.TrimRight(c.History.BaseURL, "/") + "/tracking"
	}
	if raw == "" {
		return nil, &ValidationError{Field: "tracking.endpoint", Message: "tracking endpoint is required"}
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, NewValidationErrorWithValue("tracking.endpoint", "must be an absolute URL", raw)
	}
	return u, nil
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.SMTP.Host == "" {
		return &ValidationError{Field: "smtp.host", Message: "SMTP host is required"}
	}

	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return NewValidationErrorWithValue("smtp.port", "port must be between 1 and 65535", strconv.Itoa(c.SMTP.Port))
	}

	if c.SMTP.Username != "" && c.SMTP.Password == "" {
		return &ValidationError{Field: "smtp.password", Message: "password is required when username is set"}
	}

	if !IsValidEmail(c.Sender.Address) {
		return NewValidationErrorWithValue("sender.address", "invalid or missing sender address", c.Sender.Address)
	}

	if err := ValidatePolicy(c.Delivery); err != nil {
		return err
	}

	if _, err := c.TrackingEndpoint(); err != nil {
		return err
	}

	if c.History.Enabled {
		if c.History.BaseURL == "" {
			return &ValidationError{Field: "history.base_url", Message: "base URL is required when history is enabled"}
		}
		if u, err := url.Parse(c.History.BaseURL); err != nil || !u.IsAbs() {
			return NewValidationErrorWithValue("history.base_url", "must be an absolute URL", c.History.BaseURL)
		}
		if c.History.QueueSize < 1 {
			return &ValidationError{Field: "history.queue_size", Message: "queue size must be at least 1"}
		}
	}

	return nil
}

// ValidatePolicy checks a delivery policy.
func ValidatePolicy(p DeliveryPolicy) error {
	if p.BatchSize < 1 {
		return &ValidationError{Field: "delivery.batch_size", Message: "batch size must be at least 1"}
	}

	if p.MaxAttempts < 1 {
		return &ValidationError{Field: "delivery.max_attempts", Message: "max attempts must be at least 1"}
	}

	if p.BackoffFactor < 1.0 {
		return &ValidationError{Field: "delivery.backoff_factor", Message: "backoff factor must be at least 1.0"}
	}

	if p.BackoffBase < 0 || p.InterBatchDelay < 0 || p.MaxBackoff < 0 {
		return &ValidationError{Field: "delivery", Message: "durations must not be negative"}
	}

	if p.Workers < 1 {
		return &ValidationError{Field: "delivery.workers", Message: "workers must be at least 1"}
	}

	return nil
}
