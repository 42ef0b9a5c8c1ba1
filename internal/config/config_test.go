package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeFile(t, `
storage:
  driver: memory
  timeout: 2s
auth:
  jwt_secret: `+testSecret+`
  api_keys:
    - name: prometheus
      hash: $2a$10$abcdefghijklmnopqrstuu
      role: system
notifications:
  workers: 8
  kafka:
    brokers: [kafka-1:9092, kafka-2:9092]
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, 8, cfg.Notifications.Workers)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notifications.Kafka.Brokers)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "system", cfg.Auth.APIKeys[0].Role)

	// untouched defaults survive
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1024, cfg.Notifications.QueueSize)
	assert.Equal(t, "incident-status-changes", cfg.Notifications.Kafka.Topic)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
server:
  port: "8000"
storage:
  driver: memory
`)
	t.Setenv("ORCH_SERVER__PORT", "9999")
	t.Setenv("ORCH_AUTH__JWT_SECRET", testSecret)
	t.Setenv("ORCH_NOTIFICATIONS__RETRY__MAX_ATTEMPTS", "7")
	t.Setenv("ORCH_LOG__FORMAT", "text")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Notifications.Retry.MaxAttempts)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("ORCH_STORAGE__DRIVER", "memory")
	t.Setenv("ORCH_AUTH__JWT_SECRET", testSecret)
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)

	_, err = Load(missing, true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Storage.Driver = DriverMemory
		cfg.Auth.JWTSecret = testSecret
		return cfg
	}

	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "database.url"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"api key role", func(c *Config) {
			c.Auth.APIKeys = []APIKeyConfig{{Name: "m", Hash: "h", Role: "root"}}
		}, "api_keys[0].role"},
		{"zero workers", func(c *Config) { c.Notifications.Workers = 0 }, "workers"},
		{"kafka without topic", func(c *Config) {
			c.Notifications.Kafka.Brokers = []string{"k:9092"}
			c.Notifications.Kafka.Topic = ""
		}, "kafka.topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_DisabledNotificationsSkipChecks(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = DriverMemory
	cfg.Auth.JWTSecret = testSecret
	cfg.Notifications.Enabled = false
	cfg.Notifications.Workers = 0

	assert.NoError(t, cfg.Validate())
}
