package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "localhost:9443"
  api_url: "http://localhost:8080/"

agent:
  name: "web-01"
  batch_size: 50
  flush_interval: 2s
  credentials_file: "/tmp/siemlite-test/agent.json"

sources:
  - name: "auth"
    path: "/var/log/auth.log"
  - type: "json"
    path: "/var/log/app/events.jsonl"
    from_start: true

labels:
  env: "test"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Address != "localhost:9443" {
		t.Errorf("Server.Address = %v, want 'localhost:9443'", cfg.Server.Address)
	}
	if cfg.Agent.Name != "web-01" {
		t.Errorf("Agent.Name = %v, want 'web-01'", cfg.Agent.Name)
	}
	if cfg.Agent.BatchSize != 50 {
		t.Errorf("Agent.BatchSize = %d, want 50", cfg.Agent.BatchSize)
	}
	if cfg.Agent.FlushInterval != 2*time.Second {
		t.Errorf("Agent.FlushInterval = %v, want 2s", cfg.Agent.FlushInterval)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].Type != "auth" {
		t.Errorf("Sources[0].Type = %v, want default 'auth'", cfg.Sources[0].Type)
	}
	if cfg.Sources[1].Name != "events.jsonl" {
		t.Errorf("Sources[1].Name = %v, want 'events.jsonl'", cfg.Sources[1].Name)
	}
	if cfg.Labels["env"] != "test" {
		t.Errorf("Labels[env] = %v, want 'test'", cfg.Labels["env"])
	}
	if cfg.ClientTLS() != nil {
		t.Error("ClientTLS() should be nil when TLS is disabled")
	}

	srcs := cfg.AgentSources()
	if len(srcs) != 2 || !srcs[1].FromStart || srcs[1].Type != "json" {
		t.Errorf("AgentSources() = %+v", srcs)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "localhost:9443"
agent:
  api_token: "slm_abc"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.Agent.BatchSize)
	}
	if cfg.Agent.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.Agent.FlushInterval)
	}
	if cfg.Agent.Name == "" {
		t.Error("Name should default to the hostname")
	}
	if !strings.HasSuffix(cfg.Agent.CredentialsFile, filepath.Join(".siemlite", "agent.json")) {
		t.Errorf("CredentialsFile = %v", cfg.Agent.CredentialsFile)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v, want info/console", cfg.Log)
	}
}

func TestLoadConfig_TokenFromEnv(t *testing.T) {
	t.Setenv(tokenEnv, "slm_from_env")
	path := writeConfig(t, `
server:
  address: "localhost:9443"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.APIToken != "slm_from_env" {
		t.Errorf("APIToken = %v, want slm_from_env", cfg.Agent.APIToken)
	}
}

func TestLoadConfig_TLS(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "siem.example.com:9443"
  tls:
    enabled: true
    ca_file: /etc/siemlite/ca.crt
    cert_file: /etc/siemlite/agent.crt
    key_file: /etc/siemlite/agent.key
agent:
  api_token: "slm_abc"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	tlsCfg := cfg.ClientTLS()
	if tlsCfg == nil {
		t.Fatal("ClientTLS() = nil")
	}
	if tlsCfg.CAFile != "/etc/siemlite/ca.crt" || tlsCfg.CertFile != "/etc/siemlite/agent.crt" {
		t.Errorf("ClientTLS() = %+v", tlsCfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server: ServerConfig{Address: "localhost:9443"},
			Agent:  AgentConfig{APIToken: "slm_abc"},
			Sources: []SourceConfig{
				{Name: "auth", Type: "auth", Path: "/var/log/auth.log"},
			},
		}
		cfg.setDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:    "missing server address",
			modify:  func(c *Config) { c.Server.Address = "" },
			wantErr: "server.address is required",
		},
		{
			name: "no token and no api url",
			modify: func(c *Config) {
				c.Agent.APIToken = ""
				c.Agent.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
			},
			wantErr: "server.api_url is required",
		},
		{
			name:    "source without path",
			modify:  func(c *Config) { c.Sources[0].Path = "" },
			wantErr: "sources[0].path is required",
		},
		{
			name:    "unknown parser",
			modify:  func(c *Config) { c.Sources[0].Type = "nginx" },
			wantErr: "unknown parser type",
		},
		{
			name:    "tls without ca",
			modify:  func(c *Config) { c.Server.TLS.Enabled = true },
			wantErr: "ca_file is required",
		},
		{
			name:    "cert without key",
			modify:  func(c *Config) { c.Server.TLS.CertFile = "agent.crt" },
			wantErr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/agent.yaml"); err == nil {
		t.Error("LoadConfig() should fail for a missing file")
	}
}

func TestBurstEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := burstEvents(now, 5, 4, "10.0.0.5", "admin")

	if len(events) != 5 {
		t.Fatalf("len = %d, want 5", len(events))
	}
	if !events[0].Timestamp.Equal(now.Add(-4 * time.Second)) {
		t.Errorf("first timestamp = %v", events[0].Timestamp)
	}
	if !events[4].Timestamp.Equal(now) {
		t.Errorf("last timestamp = %v, want %v", events[4].Timestamp, now)
	}
	for i, e := range events {
		if e.EventType != "ssh_failed_login" || e.SourceIP != "10.0.0.5" || e.Username != "admin" {
			t.Errorf("event %d = %+v", i, e)
		}
		if e.Metadata["port"] != 4444+i {
			t.Errorf("event %d port = %v", i, e.Metadata["port"])
		}
	}

	single := burstEvents(now, 1, 5, "10.0.0.5", "root")
	if !single[0].Timestamp.Equal(now) {
		t.Errorf("single event timestamp = %v, want now", single[0].Timestamp)
	}
}
