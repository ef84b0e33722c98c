package smartmailer

import (
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for configuring the dispatch client.
type Option func(*Client)

// WithLogger sets the logger used by every pipeline stage.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithTransport replaces the SMTP relay transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHistoryRecorder replaces the analytics service client used for
// history reports.
func WithHistoryRecorder(r HistoryRecorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithSleeper replaces the sleep used for retry backoff and inter-batch pauses.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

// WithHeaders adds custom headers to every message.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithSMTP sets the relay address.
func WithSMTP(host string, port int) Option {
	return func(c *Client) {
		c.config.SMTP.Host = host
		c.config.SMTP.Port = port
	}
}

// WithSMTPAuth sets the relay address and credentials.
func WithSMTPAuth(host string, port int, username, password string) Option {
	return func(c *Client) {
		c.config.SMTP.Host = host
		c.config.SMTP.Port = port
		c.config.SMTP.Username = username
		c.config.SMTP.Password = password
	}
}

// WithInsecureTLS allows relays without STARTTLS and skips certificate
// verification. Development relays only.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.config.SMTP.RequireTLS = false
		c.config.SMTP.InsecureSkipVerify = true
	}
}

// WithSender sets the From identity.
func WithSender(address, name string) Option {
	return func(c *Client) {
		c.config.Sender.Address = address
		c.config.Sender.Name = name
	}
}

// WithPolicy replaces the delivery policy.
func WithPolicy(p DeliveryPolicy) Option {
	return func(c *Client) {
		c.config.Delivery = p
	}
}

// WithBatching sets the batch size and the pause between batches.
func WithBatching(size int, delay time.Duration) Option {
	return func(c *Client) {
		c.config.Delivery.BatchSize = size
		c.config.Delivery.InterBatchDelay = delay
	}
}

// WithRetry configures per-recipient retry behavior.
func WithRetry(maxAttempts int, base time.Duration, factor float64) Option {
	return func(c *Client) {
		c.config.Delivery.MaxAttempts = maxAttempts
		c.config.Delivery.BackoffBase = base
		c.config.Delivery.BackoffFactor = factor
	}
}

// WithMaxBackoff caps a single backoff sleep.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.config.Delivery.MaxBackoff = d
	}
}

// WithJitter enables or disables jitter in retry delays.
func WithJitter(enabled bool) Option {
	return func(c *Client) {
		c.config.Delivery.Jitter = enabled
	}
}

// WithWorkers sets the number of concurrent deliveries inside a batch.
func WithWorkers(n int) Option {
	return func(c *Client) {
		c.config.Delivery.Workers = n
	}
}

// WithTrackingEndpoint sets the beacon endpoint.
func WithTrackingEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.config.Tracking.Endpoint = endpoint
	}
}

// WithHistory enables history reporting to the analytics service.
func WithHistory(baseURL, token string) Option {
	return func(c *Client) {
		c.config.History.Enabled = true
		c.config.History.BaseURL = baseURL
		c.config.History.Token = token
	}
}

// WithoutHistory disables history reporting.
func WithoutHistory() Option {
	return func(c *Client) {
		c.config.History.Enabled = false
	}
}

// WithTracing enables spans through the global tracer provider.
func WithTracing(serviceName string) Option {
	return func(c *Client) {
		c.config.Monitoring.Tracing.Enabled = true
		c.config.Monitoring.Tracing.ServiceName = serviceName
	}
}

// WithoutTracing disables distributed tracing.
func WithoutTracing() Option {
	return func(c *Client) {
		c.config.Monitoring.Tracing.Enabled = false
	}
}

// WithMetrics enables counters through the global meter provider.
func WithMetrics(namespace string) Option {
	return func(c *Client) {
		c.config.Monitoring.Metrics.Enabled = true
		c.config.Monitoring.Metrics.Namespace = namespace
	}
}

// WithoutMetrics disables metrics collection.
func WithoutMetrics() Option {
	return func(c *Client) {
		c.config.Monitoring.Metrics.Enabled = false
	}
}
