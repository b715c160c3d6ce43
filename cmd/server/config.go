// Package main provides the SIEM-Lite server CLI.
package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix prefixes every environment override, e.g. SIEMLITE_AUTH_JWT_SECRET.
const envPrefix = "SIEMLITE"

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Lock     LockConfig     `mapstructure:"lock"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress     string        `mapstructure:"http_address"`
	GRPCAddress     string        `mapstructure:"grpc_address"` // empty disables gRPC ingestion
	MetricsAddress  string        `mapstructure:"metrics_address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig contains TLS settings for the gRPC listener.
type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	ClientCAFile string `mapstructure:"client_ca_file"` // optional, enables mTLS
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EventsConfig selects the event store.
type EventsConfig struct {
	Backend    string           `mapstructure:"backend"` // sqlite or clickhouse
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
}

// ClickHouseConfig contains ClickHouse settings.
type ClickHouseConfig struct {
	Addresses     []string      `mapstructure:"addresses"`
	Database      string        `mapstructure:"database"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	Compression   bool          `mapstructure:"compression"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// AlertingConfig contains detection settings.
type AlertingConfig struct {
	EscalationThreshold int           `mapstructure:"escalation_threshold"`
	RulesFile           string        `mapstructure:"rules_file"`
	WatchRules          bool          `mapstructure:"watch_rules"`
	RuleCacheTTL        time.Duration `mapstructure:"rule_cache_ttl"`
	RuleCacheSize       int           `mapstructure:"rule_cache_size"`
}

// LockConfig selects the dedup-key locker.
type LockConfig struct {
	Backend string        `mapstructure:"backend"` // local or redis
	Wait    time.Duration `mapstructure:"wait"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains Redis settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AuthConfig contains token and admin settings.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	MachineTokenTTL   time.Duration `mapstructure:"machine_token_ttl"`
	AdminTokenTTL     time.Duration `mapstructure:"admin_token_ttl"`
	AdminUsername     string        `mapstructure:"admin_username"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
}

// NotifyConfig contains notification settings.
type NotifyConfig struct {
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Email     EmailConfig     `mapstructure:"email"`
	Slack     WebhookConfig   `mapstructure:"slack"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Teams     WebhookConfig   `mapstructure:"teams"`
}

// RateLimitConfig limits notifications per channel.
type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxPerWindow int           `mapstructure:"max_per_window"`
	Window       time.Duration `mapstructure:"window"`
}

// EmailConfig contains SMTP settings.
type EmailConfig struct {
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

// WebhookConfig contains an incoming webhook URL.
type WebhookConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// TelegramConfig contains Telegram bot settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	RateLimitPerIP   int           `mapstructure:"rate_limit_per_ip"`
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// defaults are registered with viper so that every key can be overridden
// from the environment.
var defaults = map[string]any{
	"server.http_address":       ":8080",
	"server.grpc_address":       ":9443",
	"server.metrics_address":    ":9090",
	"server.shutdown_timeout":   10 * time.Second,
	"server.tls.enabled":        false,
	"server.tls.cert_file":      "",
	"server.tls.key_file":       "",
	"server.tls.client_ca_file": "",

	"database.path": "./data/siemlite.db",

	"events.backend":                   "sqlite",
	"events.clickhouse.addresses":      []string{"localhost:9000"},
	"events.clickhouse.database":       "siemlite",
	"events.clickhouse.username":       "default",
	"events.clickhouse.password":       "",
	"events.clickhouse.max_open_conns": 10,
	"events.clickhouse.dial_timeout":   10 * time.Second,
	"events.clickhouse.compression":    true,
	"events.clickhouse.retention_days": 30,

	"alerting.escalation_threshold": 10,
	"alerting.rules_file":           "",
	"alerting.watch_rules":          true,
	"alerting.rule_cache_ttl":       10 * time.Second,
	"alerting.rule_cache_size":      256,

	"lock.backend":        "local",
	"lock.wait":           5 * time.Second,
	"lock.ttl":            30 * time.Second,
	"lock.redis.addr":     "localhost:6379",
	"lock.redis.password": "",
	"lock.redis.db":       0,
	"lock.redis.prefix":   "siemlite:lock:",

	"auth.jwt_secret":          "",
	"auth.machine_token_ttl":   30 * time.Minute,
	"auth.admin_token_ttl":     8 * time.Hour,
	"auth.admin_username":      "admin",
	"auth.admin_password_hash": "",

	"notify.timeout":                   10 * time.Second,
	"notify.rate_limit.enabled":        true,
	"notify.rate_limit.max_per_window": 10,
	"notify.rate_limit.window":         time.Minute,
	"notify.email.host":                "",
	"notify.email.port":                587,
	"notify.email.username":            "",
	"notify.email.password":            "",
	"notify.email.from":                "",
	"notify.email.recipients":          []string{},
	"notify.slack.webhook_url":         "",
	"notify.telegram.bot_token":        "",
	"notify.telegram.chat_id":          "",
	"notify.teams.webhook_url":         "",

	"api.cors_origins":      []string{},
	"api.rate_limit_per_ip": 30,
	"api.lockout_threshold": 5,
	"api.lockout_duration":  15 * time.Minute,

	"log.level":  "info",
	"log.format": "json",
}

// newViper returns a viper instance with defaults and environment
// overrides registered.
func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads path (optional), applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddress == "" {
		errs = append(errs, errors.New("server.http_address is required"))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls.cert_file and server.tls.key_file are required when TLS is enabled"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch c.Events.Backend {
	case "sqlite":
	case "clickhouse":
		if len(c.Events.ClickHouse.Addresses) == 0 {
			errs = append(errs, errors.New("events.clickhouse.addresses is required for the clickhouse backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.backend must be sqlite or clickhouse, got %q", c.Events.Backend))
	}

	if c.Alerting.EscalationThreshold <= 0 {
		errs = append(errs, errors.New("alerting.escalation_threshold must be positive"))
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			errs = append(errs, errors.New("lock.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be local or redis, got %q", c.Lock.Backend))
	}
	if c.Lock.Wait <= 0 {
		errs = append(errs, errors.New("lock.wait must be positive"))
	}

	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters (set %s_AUTH_JWT_SECRET)", envPrefix))
	}
	if c.Auth.AdminUsername == "" {
		errs = append(errs, errors.New("auth.admin_username is required"))
	}
	if c.Auth.MachineTokenTTL <= 0 || c.Auth.AdminTokenTTL <= 0 {
		errs = append(errs, errors.New("auth token TTLs must be positive"))
	}

	if c.API.RateLimitPerIP < 0 {
		errs = append(errs, errors.New("api.rate_limit_per_ip must not be negative"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
