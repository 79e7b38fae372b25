package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the AP Gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	Transport TransportConfig `yaml:"transport"`
	Command   CommandConfig   `yaml:"command"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// GatewayConfig contains gateway-wide identity settings.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TransportConfig contains the device-facing WebSocket endpoint settings.
type TransportConfig struct {
	Host           string         `yaml:"host"`
	Port           int            `yaml:"port"`
	Path           string         `yaml:"path"`
	MaxMessageSize int64          `yaml:"max_message_size"`
	PingInterval   int            `yaml:"ping_interval"`
	PongTimeout    int            `yaml:"pong_timeout"`
	SessionTimeout int            `yaml:"session_timeout"`
	SweepInterval  int            `yaml:"sweep_interval"`
	Mismatch       MismatchConfig `yaml:"mismatch"`
	AutoProvision  bool           `yaml:"auto_provision"`
}

// MismatchConfig gates how a reconnection claiming an already-bound serial
// number is handled. When Allow is true, up to Depth replacements are
// tolerated before the new connection is rejected.
type MismatchConfig struct {
	Allow bool `yaml:"allow"`
	Depth int  `yaml:"depth"`
}

// CommandConfig contains command scheduling and expiry settings.
type CommandConfig struct {
	SchedulerInterval int `yaml:"scheduler_interval"`
	SchedulerDelay    int `yaml:"scheduler_delay"`
	BatchSize         int `yaml:"batch_size"`
	JanitorInterval   int `yaml:"janitor_interval"`
	ResponseTimeout   int `yaml:"response_timeout"`
	MaxAge            int `yaml:"max_age"`
	RetentionDays     int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings for the
// notification fan-out.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains the event-stream sink settings. When enabled,
// full device state frames and telemetry are mirrored to InfluxDB.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the operator-facing HTTP API settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings for the operator API.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: APGW_SECTION_KEY
// For example: APGW_DATABASE_PATH, APGW_API_PORT
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "apgw-001",
			Name: "AP Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/apgw.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Transport: TransportConfig{
			Host:           "0.0.0.0",
			Port:           15002,
			Path:           "/ws",
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    10,
			SessionTimeout: 600,
			SweepInterval:  10,
			Mismatch: MismatchConfig{
				Allow: true,
				Depth: 2,
			},
			AutoProvision: true,
		},
		Command: CommandConfig{
			SchedulerInterval: 30,
			SchedulerDelay:    10,
			BatchSize:         200,
			JanitorInterval:   600,
			ResponseTimeout:   600,
			MaxAge:            3600,
			RetentionDays:     7,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "apgw-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 16002,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: APGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("APGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Transport
	if v := os.Getenv("APGW_TRANSPORT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Transport.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("APGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("APGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("APGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("APGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("APGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("APGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Transport validation
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		errs = append(errs, "transport.port must be between 1 and 65535")
	}
	if c.Transport.Mismatch.Depth < 0 {
		errs = append(errs, "transport.mismatch.depth must not be negative")
	}

	// Command validation
	if c.Command.BatchSize < 1 {
		errs = append(errs, "command.batch_size must be at least 1")
	}
	if c.Command.SchedulerInterval < 1 {
		errs = append(errs, "command.scheduler_interval must be at least 1 second")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// An empty or weak secret would let anyone forge operator tokens and
	// push arbitrary commands to the whole fleet.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set APGW_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// SchedulerIntervalDuration returns the command scheduler period as a Duration.
func (c *CommandConfig) SchedulerIntervalDuration() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}

// JanitorIntervalDuration returns the outstanding-command sweep period.
func (c *CommandConfig) JanitorIntervalDuration() time.Duration {
	return time.Duration(c.JanitorInterval) * time.Second
}

// ResponseTimeoutDuration returns the per-command response deadline.
func (c *CommandConfig) ResponseTimeoutDuration() time.Duration {
	return time.Duration(c.ResponseTimeout) * time.Second
}

// MaxAgeDuration returns the hard age cutoff for pending commands.
func (c *CommandConfig) MaxAgeDuration() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

// SchedulerDelayDuration returns the startup delay before the first
// scheduler cycle.
func (c *CommandConfig) SchedulerDelayDuration() time.Duration {
	return time.Duration(c.SchedulerDelay) * time.Second
}

// RetentionDuration returns the retention window for terminal command
// records.
func (c *CommandConfig) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
