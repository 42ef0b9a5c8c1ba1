// Package config loads orchestrator configuration from defaults, an optional
// YAML file and ORCH_-prefixed environment variables, in that order.
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

// EnvPrefix prefixes every environment override. Double underscores separate
// nested keys: ORCH_SERVER__PORT sets server.port.
const EnvPrefix = "ORCH_"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Storage       StorageConfig       `koanf:"storage"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Auth          AuthConfig          `koanf:"auth"`
	Runbooks      RunbooksConfig      `koanf:"runbooks"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// StorageConfig selects the incident, audit and runbook backend.
type StorageConfig struct {
	Driver  string        `koanf:"driver"`
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig configures bearer tokens and API keys.
type AuthConfig struct {
	JWTSecret string         `koanf:"jwt_secret"`
	TokenTTL  time.Duration  `koanf:"token_ttl"`
	Issuer    string         `koanf:"issuer"`
	APIKeys   []APIKeyConfig `koanf:"api_keys"`
}

// APIKeyConfig is one machine credential. Hash is a bcrypt hash.
type APIKeyConfig struct {
	Name string `koanf:"name"`
	Hash string `koanf:"hash"`
	Role string `koanf:"role"`
}

// RunbooksConfig points at the YAML templates loaded at startup.
type RunbooksConfig struct {
	Dir string `koanf:"dir"`
}

// NotificationsConfig configures the status-change hook.
type NotificationsConfig struct {
	Enabled   bool          `koanf:"enabled"`
	QueueSize int           `koanf:"queue_size"`
	Workers   int           `koanf:"workers"`
	Retry     RetryConfig   `koanf:"retry"`
	Webhook   WebhookConfig `koanf:"webhook"`
	Kafka     KafkaConfig   `koanf:"kafka"`
}

// RetryConfig configures delivery retries.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"multiplier"`
}

// WebhookConfig configures the chat webhook sender. An empty URL disables it.
type WebhookConfig struct {
	URL       string        `koanf:"url"`
	Username  string        `koanf:"username"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
	Burst     int           `koanf:"burst"`
}

// KafkaConfig configures the Kafka sender. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Storage: StorageConfig{
			Driver:  DriverPostgres,
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
			Issuer:   "incident-orchestrator",
		},
		Notifications: NotificationsConfig{
			Enabled:   true,
			QueueSize: 1024,
			Workers:   4,
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        time.Minute,
				BackoffMultiplier: 2.0,
			},
			Webhook: WebhookConfig{
				Username: "incident-orchestrator",
				Timeout:  10 * time.Second,
			},
			Kafka: KafkaConfig{
				Topic:        "incident-status-changes",
				WriteTimeout: 10 * time.Second,
			},
		},
	}
}

// Load reads configuration. A missing file at path is not an error unless
// required is set.
func Load(path string, required bool) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if required || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver))
	}
	if c.Storage.Timeout < 0 {
		errs = append(errs, errors.New("storage.timeout must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}

	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 characters"))
	}
	for i, key := range c.Auth.APIKeys {
		if key.Name == "" || key.Hash == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d] needs name and hash", i))
		}
		switch key.Role {
		case "viewer", "operator", "admin", "system":
		default:
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].role %q is invalid", i, key.Role))
		}
	}

	n := c.Notifications
	if n.Enabled {
		if n.QueueSize <= 0 {
			errs = append(errs, errors.New("notifications.queue_size must be positive"))
		}
		if n.Workers <= 0 {
			errs = append(errs, errors.New("notifications.workers must be positive"))
		}
		if n.Retry.MaxAttempts <= 0 {
			errs = append(errs, errors.New("notifications.retry.max_attempts must be positive"))
		}
		if n.Retry.BackoffMultiplier < 1 {
			errs = append(errs, errors.New("notifications.retry.multiplier must be at least 1"))
		}
		if len(n.Kafka.Brokers) > 0 && n.Kafka.Topic == "" {
			errs = append(errs, errors.New("notifications.kafka.topic is required when brokers are set"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
