package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lattiq/smartmailer"
)

// EnvPrefix is the prefix of environment overrides, e.g. SMARTMAILER_SMTP_HOST.
const EnvPrefix = "SMARTMAILER"

// Load reads configuration from defaults, an optional YAML file and
// environment variables, in increasing precedence.
//
// When path is empty, "smartmailer.yaml" is searched for in the working
// directory, ./config and /etc/smartmailer; a missing file is not an error.
// An explicit path must exist.
func Load(path string) (*smartmailer.Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("smartmailer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/smartmailer")
	}

	setDefaults(v)

	// Read config file (optional when searched for)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg smartmailer.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := smartmailer.DefaultConfig()

	// SMTP defaults
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.local_name", "")
	v.SetDefault("smtp.require_tls", d.SMTP.RequireTLS)
	v.SetDefault("smtp.insecure_skip_verify", d.SMTP.InsecureSkipVerify)
	v.SetDefault("smtp.dial_timeout", d.SMTP.DialTimeout)

	// Sender defaults
	v.SetDefault("sender.address", "")
	v.SetDefault("sender.name", "")

	// Delivery defaults
	v.SetDefault("delivery.batch_size", d.Delivery.BatchSize)
	v.SetDefault("delivery.inter_batch_delay", d.Delivery.InterBatchDelay)
	v.SetDefault("delivery.max_attempts", d.Delivery.MaxAttempts)
	v.SetDefault("delivery.backoff_base", d.Delivery.BackoffBase)
	v.SetDefault("delivery.backoff_factor", d.Delivery.BackoffFactor)
	v.SetDefault("delivery.max_backoff", d.Delivery.MaxBackoff)
	v.SetDefault("delivery.jitter", d.Delivery.Jitter)
	v.SetDefault("delivery.workers", d.Delivery.Workers)

	// Tracking and history defaults
	v.SetDefault("tracking.endpoint", "")
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.base_url", "")
	v.SetDefault("history.token", "")
	v.SetDefault("history.timeout", d.History.Timeout)
	v.SetDefault("history.queue_size", d.History.QueueSize)
	v.SetDefault("history.drain_timeout", d.History.DrainTimeout)

	// Monitoring defaults
	v.SetDefault("monitoring.tracing.enabled", d.Monitoring.Tracing.Enabled)
	v.SetDefault("monitoring.tracing.service_name", d.Monitoring.Tracing.ServiceName)
	v.SetDefault("monitoring.metrics.enabled", d.Monitoring.Metrics.Enabled)
	v.SetDefault("monitoring.metrics.namespace", d.Monitoring.Metrics.Namespace)
	v.SetDefault("monitoring.logging.level", d.Monitoring.Logging.Level)
	v.SetDefault("monitoring.logging.format", d.Monitoring.Logging.Format)
	v.SetDefault("monitoring.logging.output", d.Monitoring.Logging.Output)
}
