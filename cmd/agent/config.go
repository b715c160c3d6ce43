// Package main provides the SIEM-Lite agent CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/siemlite/internal/agent"
	"github.com/good-yellow-bee/siemlite/internal/parser"
	"github.com/good-yellow-bee/siemlite/internal/security"
)

// tokenEnv overrides the API token from the credentials file.
const tokenEnv = "SIEMLITE_AGENT_TOKEN"

// Config represents the agent configuration file.
type Config struct {
	Server  ServerConfig      `yaml:"server"`
	Agent   AgentConfig       `yaml:"agent"`
	Sources []SourceConfig    `yaml:"sources"`
	Labels  map[string]string `yaml:"labels"`
	Log     LogConfig         `yaml:"log"`
}

// ServerConfig contains server connection settings.
type ServerConfig struct {
	// Address is the gRPC ingestion endpoint, host:port.
	Address string `yaml:"address"`
	// APIURL is the HTTP API base URL used for registration.
	APIURL string    `yaml:"api_url"`
	TLS    TLSConfig `yaml:"tls"`
}

// TLSConfig enables TLS towards the server. Cert and key are needed when the
// server requires agent certificates.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AgentConfig contains agent settings.
type AgentConfig struct {
	Name      string `yaml:"name"`
	IPAddress string `yaml:"ip_address"`
	// APIToken skips registration when the machine was registered with
	// siemctl.
	APIToken        string        `yaml:"api_token"`
	CredentialsFile string        `yaml:"credentials_file"`
	BufferDir       string        `yaml:"buffer_dir"`
	BufferMaxSize   int64         `yaml:"buffer_max_size"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

// SourceConfig defines a log file to follow.
type SourceConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	FromStart bool   `yaml:"from_start"`
}

// LogConfig configures the agent's own logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	if token := os.Getenv(tokenEnv); token != "" {
		cfg.Agent.APIToken = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Agent.Name == "" {
		c.Agent.Name, _ = os.Hostname()
	}
	home, _ := os.UserHomeDir()
	if c.Agent.CredentialsFile == "" {
		c.Agent.CredentialsFile = filepath.Join(home, ".siemlite", "agent.json")
	}
	if c.Agent.BufferDir == "" {
		c.Agent.BufferDir = filepath.Join(home, ".siemlite", "buffer")
	}
	if c.Agent.BatchSize <= 0 {
		c.Agent.BatchSize = 100
	}
	if c.Agent.FlushInterval <= 0 {
		c.Agent.FlushInterval = time.Second
	}
	for i := range c.Sources {
		if c.Sources[i].Type == "" {
			c.Sources[i].Type = "auth"
		}
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = filepath.Base(c.Sources[i].Path)
		}
	}
	if c.Labels == nil {
		c.Labels = make(map[string]string)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Agent.APIToken == "" && c.Server.APIURL == "" {
		if _, err := os.Stat(c.Agent.CredentialsFile); err != nil {
			errs = append(errs, errors.New("server.api_url is required to register the machine (or set agent.api_token)"))
		}
	}
	if c.Server.TLS.Enabled && c.Server.TLS.CAFile == "" {
		errs = append(errs, errors.New("server.tls.ca_file is required when TLS is enabled"))
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls.cert_file and key_file must be set together"))
	}
	for i, src := range c.Sources {
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("sources[%d].path is required", i))
		}
		if _, err := parser.New(src.Type, nil); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ClientTLS returns the TLS settings for the gRPC connection, or nil.
func (c *Config) ClientTLS() *security.ClientTLSConfig {
	if !c.Server.TLS.Enabled {
		return nil
	}
	return &security.ClientTLSConfig{
		CAFile:   c.Server.TLS.CAFile,
		CertFile: c.Server.TLS.CertFile,
		KeyFile:  c.Server.TLS.KeyFile,
	}
}

// AgentSources converts the configured sources.
func (c *Config) AgentSources() []agent.SourceConfig {
	out := make([]agent.SourceConfig, len(c.Sources))
	for i, src := range c.Sources {
		out[i] = agent.SourceConfig{Name: src.Name, Type: src.Type, Path: src.Path, FromStart: src.FromStart}
	}
	return out
}
