package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
gateway:
  id: "test-gw"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
transport:
  port: 15002
  mismatch:
    allow: true
    depth: 3
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 16002
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "test-gw" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "test-gw")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.Transport.Mismatch.Depth != 3 {
		t.Errorf("Transport.Mismatch.Depth = %d, want 3", cfg.Transport.Mismatch.Depth)
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
gateway:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 16002
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty gateway.id, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
gateway:
  id: "test-gw"
database:
  path: "/tmp/test.db"
transport:
  port: 15002
mqtt:
  qos: 1
api:
  port: 16002
security:
  jwt:
    secret: "file-secret-that-is-long-enough-xx"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("APGW_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("APGW_JWT_SECRET", "env-secret-that-is-long-enough-!!!")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Security.JWT.Secret != "env-secret-that-is-long-enough-!!!" {
		t.Error("JWT.Secret was not overridden by environment")
	}
}

func TestConfig_Validate(t *testing.T) {
	// validJWTSecret is a secret that meets the 32-character minimum requirement
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		return &Config{
			Gateway:  GatewayConfig{ID: "apgw-001"},
			Database: DatabaseConfig{Path: "/data/apgw.db"},
			Transport: TransportConfig{
				Port: 15002,
			},
			Command: CommandConfig{
				SchedulerInterval: 30,
				BatchSize:         200,
			},
			MQTT:     MQTTConfig{QoS: 1},
			API:      APIConfig{Port: 16002},
			Security: SecurityConfig{JWT: JWTConfig{Secret: validJWTSecret}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing gateway ID", func(c *Config) { c.Gateway.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid API port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid API port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"invalid transport port", func(c *Config) { c.Transport.Port = 0 }, true},
		{"negative mismatch depth", func(c *Config) { c.Transport.Mismatch.Depth = -1 }, true},
		{"zero batch size", func(c *Config) { c.Command.BatchSize = 0 }, true},
		{"missing JWT secret", func(c *Config) { c.Security.JWT.Secret = "" }, true},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}

func TestCommandConfig_Durations(t *testing.T) {
	cc := CommandConfig{
		SchedulerInterval: 30,
		JanitorInterval:   600,
		ResponseTimeout:   600,
		MaxAge:            3600,
	}

	if got := cc.SchedulerIntervalDuration(); got != 30*time.Second {
		t.Errorf("SchedulerIntervalDuration() = %v, want 30s", got)
	}
	if got := cc.JanitorIntervalDuration(); got != 10*time.Minute {
		t.Errorf("JanitorIntervalDuration() = %v, want 10m", got)
	}
	if got := cc.ResponseTimeoutDuration(); got != 10*time.Minute {
		t.Errorf("ResponseTimeoutDuration() = %v, want 10m", got)
	}
	if got := cc.MaxAgeDuration(); got != time.Hour {
		t.Errorf("MaxAgeDuration() = %v, want 1h", got)
	}
}
