// Package config loads application configuration from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: ALERTING_DELIVERY__MAX_ATTEMPTS sets delivery.max_attempts.
const EnvPrefix = "ALERTING_"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Log      LogConfig      `koanf:"log"`
	Rules    RulesConfig    `koanf:"rules"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Channels ChannelsConfig `koanf:"channels"`
	CORS     CORSConfig     `koanf:"cors"`
}

type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	// Migrate applies migrations from MigrationsPath on startup.
	Migrate        bool   `koanf:"migrate"`
	MigrationsPath string `koanf:"migrations_path"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
	Readers int      `koanf:"readers"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RulesConfig struct {
	Store           string        `koanf:"store"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

type DedupConfig struct {
	Backend       string        `koanf:"backend"`
	Retention     time.Duration `koanf:"retention"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type DeliveryConfig struct {
	Store             string        `koanf:"store"`
	Workers           int           `koanf:"workers"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	Jitter            float64       `koanf:"jitter"`
	SendTimeout       time.Duration `koanf:"send_timeout"`
	Retention         time.Duration `koanf:"retention"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
}

type ChannelsConfig struct {
	Email   EmailConfig   `koanf:"email"`
	Webhook WebhookConfig `koanf:"webhook"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type EmailConfig struct {
	Enabled      bool    `koanf:"enabled"`
	SMTPHost     string  `koanf:"smtp_host"`
	SMTPPort     int     `koanf:"smtp_port"`
	SMTPUser     string  `koanf:"smtp_user"`
	SMTPPassword string  `koanf:"smtp_password"`
	FromAddress  string  `koanf:"from_address"`
	RateLimit    float64 `koanf:"rate_limit"`
	Burst        int     `koanf:"burst"`
}

type WebhookConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Username       string        `koanf:"username"`
	Timeout        time.Duration `koanf:"timeout"`
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Topic:   "incidents",
			GroupID: "incident-alerts",
			Readers: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Rules: RulesConfig{
			Store:           BackendMemory,
			RefreshInterval: 5 * time.Second,
		},
		Dedup: DedupConfig{
			Backend:       BackendMemory,
			Retention:     24 * time.Hour,
			SweepInterval: time.Minute,
		},
		Delivery: DeliveryConfig{
			Store:             BackendMemory,
			Workers:           5,
			MaxAttempts:       5,
			InitialBackoff:    time.Second,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2.0,
			Jitter:            0.2,
			SendTimeout:       10 * time.Second,
			Retention:         24 * time.Hour,
			SweepInterval:     5 * time.Minute,
		},
		Channels: ChannelsConfig{
			Email: EmailConfig{
				SMTPPort: 587,
				Burst:    1,
			},
			Webhook: WebhookConfig{
				Enabled:        true,
				Timeout:        10 * time.Second,
				BreakerTimeout: 30 * time.Second,
			},
		},
	}
}

// Load reads configuration from path (skipped if empty or missing) and then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envValue maps ALERTING_DELIVERY__MAX_ATTEMPTS to delivery.max_attempts and
// splits comma-separated lists.
func envValue(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	switch key {
	case "kafka.brokers", "cors.allowed_origins":
		return key, splitList(value)
	}
	return key, value
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
