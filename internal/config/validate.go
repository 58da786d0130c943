package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/incident-alerts/internal/delivery"
)

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if err := validatePort("server.port", c.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("server.metrics_port", c.Server.MetricsPort); err != nil {
		errs = append(errs, err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unsupported value %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported value %q", c.Log.Format))
	}

	if !oneOf(c.Rules.Store, BackendMemory, BackendPostgres) {
		errs = append(errs, fmt.Errorf("rules.store: unsupported value %q", c.Rules.Store))
	}
	if !oneOf(c.Delivery.Store, BackendMemory, BackendPostgres) {
		errs = append(errs, fmt.Errorf("delivery.store: unsupported value %q", c.Delivery.Store))
	}
	if !oneOf(c.Dedup.Backend, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Errorf("dedup.backend: unsupported value %q", c.Dedup.Backend))
	}

	if c.UsesPostgres() && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url: required when a postgres store is configured"))
	}
	if c.Dedup.Backend == BackendRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr: required when dedup.backend is redis"))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers: required when kafka is enabled"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic: required when kafka is enabled"))
		}
	}

	if c.Rules.RefreshInterval <= 0 {
		errs = append(errs, errors.New("rules.refresh_interval: must be positive"))
	}

	d := c.Delivery
	if d.Workers <= 0 {
		errs = append(errs, errors.New("delivery.workers: must be positive"))
	}
	if d.MaxAttempts <= 0 {
		errs = append(errs, errors.New("delivery.max_attempts: must be positive"))
	}
	if d.InitialBackoff <= 0 || d.MaxBackoff < d.InitialBackoff {
		errs = append(errs, errors.New("delivery: initial_backoff must be positive and not exceed max_backoff"))
	}
	if d.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("delivery.backoff_multiplier: must be at least 1"))
	}
	if d.Jitter < 0 || d.Jitter >= 1 {
		errs = append(errs, errors.New("delivery.jitter: must be in [0, 1)"))
	}
	if d.SendTimeout <= 0 {
		errs = append(errs, errors.New("delivery.send_timeout: must be positive"))
	}

	if horizon := c.RetryHorizon(); c.Dedup.Retention < horizon {
		errs = append(errs, fmt.Errorf("dedup.retention: %s is shorter than the delivery retry horizon %s",
			c.Dedup.Retention, horizon))
	}

	return errors.Join(errs...)
}

// Pipeline converts the delivery section into pipeline settings.
func (d DeliveryConfig) Pipeline() delivery.Config {
	return delivery.Config{
		Workers:           d.Workers,
		MaxAttempts:       d.MaxAttempts,
		InitialBackoff:    d.InitialBackoff,
		MaxBackoff:        d.MaxBackoff,
		BackoffMultiplier: d.BackoffMultiplier,
		Jitter:            d.Jitter,
		SendTimeout:       d.SendTimeout,
		Retention:         d.Retention,
		SweepInterval:     d.SweepInterval,
	}
}

// RetryHorizon is the longest a delivery can stay pending. Dedup keys must
// outlive it or a replayed event could deliver twice.
func (c *Config) RetryHorizon() time.Duration {
	return c.Delivery.Pipeline().MaxRetryHorizon()
}

// UsesPostgres reports whether any store is backed by PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.Rules.Store == BackendPostgres || c.Delivery.Store == BackendPostgres
}

func validatePort(name, port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%s: invalid port %q", name, port)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
