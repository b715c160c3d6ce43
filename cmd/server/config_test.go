package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, ":9443", cfg.Server.GRPCAddress)
	assert.Equal(t, "sqlite", cfg.Events.Backend)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, 10, cfg.Alerting.EscalationThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Auth.MachineTokenTTL)
	assert.Equal(t, 10*time.Second, cfg.Alerting.RuleCacheTTL)
	assert.Equal(t, []string{"localhost:9000"}, cfg.Events.ClickHouse.Addresses)

	// No secret is shipped by default.
	assert.Error(t, cfg.Validate())
	cfg.Auth.JWTSecret = testSecret
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siemlite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_address: ":18080"
alerting:
  escalation_threshold: 25
  rule_cache_ttl: 5s
lock:
  backend: redis
  redis:
    addr: "redis:6379"
notify:
  email:
    host: smtp.example.com
    recipients: ["soc@example.com"]
`), 0o600))

	t.Setenv("SIEMLITE_AUTH_JWT_SECRET", testSecret)
	t.Setenv("SIEMLITE_LOG_LEVEL", "debug")
	t.Setenv("SIEMLITE_API_CORS_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":18080", cfg.Server.HTTPAddress)
	assert.Equal(t, 25, cfg.Alerting.EscalationThreshold)
	assert.Equal(t, 5*time.Second, cfg.Alerting.RuleCacheTTL)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, []string{"soc@example.com"}, cfg.Notify.Email.Recipients)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.API.CORSOrigins)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"unknown events backend", func(c *Config) { c.Events.Backend = "postgres" }},
		{"clickhouse without addresses", func(c *Config) {
			c.Events.Backend = "clickhouse"
			c.Events.ClickHouse.Addresses = nil
		}},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"redis without addr", func(c *Config) {
			c.Lock.Backend = "redis"
			c.Lock.Redis.Addr = ""
		}},
		{"tls without key", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.CertFile = "server.crt"
		}},
		{"zero escalation threshold", func(c *Config) { c.Alerting.EscalationThreshold = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
