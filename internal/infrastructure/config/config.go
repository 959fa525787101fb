package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the devsync core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Remote    RemoteConfig    `yaml:"remote"`
	Queue     QueueConfig     `yaml:"queue"`
	Sync      SyncConfig      `yaml:"sync"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// NodeConfig identifies this client installation.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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

// JWTConfig contains settings for validating API bearer tokens.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// RemoteConfig describes the backend the sync engine reconciles against.
type RemoteConfig struct {
	// BaseURL of the device-management backend, e.g. https://api.example.com.
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token presented to the backend. It is normally a JWT
	// issued to the signed-in user and is supplied via DEVSYNC_REMOTE_TOKEN.
	Token string `yaml:"token"`

	// UserID scopes the device and configuration pull.
	UserID string `yaml:"user_id"`

	// Timeout is the per-request HTTP timeout (seconds).
	Timeout int `yaml:"timeout"`
}

// QueueConfig contains command queue policy.
// All durations are in seconds.
type QueueConfig struct {
	BaseDelay         int `yaml:"base_delay"`
	MaxDelay          int `yaml:"max_delay"`
	DefaultMaxRetries int `yaml:"default_max_retries"`
	DispatchTimeout   int `yaml:"dispatch_timeout"`
	SentTimeout       int `yaml:"sent_timeout"`
	BatchSize         int `yaml:"batch_size"`
	PollInterval      int `yaml:"poll_interval"`
	Workers           int `yaml:"workers"`
}

// SyncConfig contains sync engine settings.
// Interval is in seconds, retention values are in hours.
type SyncConfig struct {
	Enabled            bool `yaml:"enabled"`
	Interval           int  `yaml:"interval"`
	BatchSize          int  `yaml:"batch_size"`
	TelemetryRetention int  `yaml:"telemetry_retention"`
	CommandsRetention  int  `yaml:"commands_retention"`
	ConfigRetention    int  `yaml:"config_retention"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVSYNC_SECTION_KEY
// For example: DEVSYNC_DATABASE_PATH, DEVSYNC_REMOTE_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "devsync-001",
			Name: "devsync",
		},
		Database: DatabaseConfig{
			Path:        "./data/devsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devsync-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
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
		Remote: RemoteConfig{
			Timeout: 10,
		},
		Queue: QueueConfig{
			BaseDelay:         5,
			MaxDelay:          600,
			DefaultMaxRetries: 3,
			DispatchTimeout:   15,
			SentTimeout:       3600,
			BatchSize:         20,
			PollInterval:      2,
			Workers:           4,
		},
		Sync: SyncConfig{
			Enabled:            true,
			Interval:           900,
			BatchSize:          100,
			TelemetryRetention: 24 * 7,
			CommandsRetention:  24 * 30,
			ConfigRetention:    24 * 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DEVSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DEVSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DEVSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("DEVSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DEVSYNC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("DEVSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Remote backend
	if v := os.Getenv("DEVSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("DEVSYNC_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("DEVSYNC_REMOTE_USER_ID"); v != "" {
		cfg.Remote.UserID = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("DEVSYNC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set DEVSYNC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	// Queue policy
	if c.Queue.BaseDelay <= 0 {
		errs = append(errs, "queue.base_delay must be positive")
	}
	if c.Queue.MaxDelay < c.Queue.BaseDelay {
		errs = append(errs, "queue.max_delay must be >= queue.base_delay")
	}
	if c.Queue.DefaultMaxRetries < 0 {
		errs = append(errs, "queue.default_max_retries must not be negative")
	}
	if c.Queue.DispatchTimeout <= 0 {
		errs = append(errs, "queue.dispatch_timeout must be positive")
	}
	if c.Queue.SentTimeout < c.Queue.DispatchTimeout {
		errs = append(errs, "queue.sent_timeout must be >= queue.dispatch_timeout")
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, "queue.workers must be at least 1")
	}

	// Sync
	if c.Sync.Enabled {
		if c.Remote.BaseURL == "" {
			errs = append(errs, "remote.base_url is required when sync is enabled")
		}
		if c.Sync.Interval <= 0 {
			errs = append(errs, "sync.interval must be positive")
		}
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, "sync.batch_size must be at least 1")
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

// BaseDelayDuration returns the first retry backoff step.
func (q QueueConfig) BaseDelayDuration() time.Duration {
	return time.Duration(q.BaseDelay) * time.Second
}

// MaxDelayDuration returns the backoff ceiling.
func (q QueueConfig) MaxDelayDuration() time.Duration {
	return time.Duration(q.MaxDelay) * time.Second
}

// DispatchTimeoutDuration returns the per-command hardware dispatch timeout.
func (q QueueConfig) DispatchTimeoutDuration() time.Duration {
	return time.Duration(q.DispatchTimeout) * time.Second
}

// SentTimeoutDuration returns how long a command may stay SENT without an
// outcome.
func (q QueueConfig) SentTimeoutDuration() time.Duration {
	return time.Duration(q.SentTimeout) * time.Second
}

// PollIntervalDuration returns how often the processor looks for ready commands.
func (q QueueConfig) PollIntervalDuration() time.Duration {
	return time.Duration(q.PollInterval) * time.Second
}

// IntervalDuration returns the periodic sync interval.
func (s SyncConfig) IntervalDuration() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// TelemetryRetentionDuration returns how long synced telemetry is kept.
func (s SyncConfig) TelemetryRetentionDuration() time.Duration {
	return time.Duration(s.TelemetryRetention) * time.Hour
}

// CommandsRetentionDuration returns how long finished commands are kept.
func (s SyncConfig) CommandsRetentionDuration() time.Duration {
	return time.Duration(s.CommandsRetention) * time.Hour
}

// ConfigRetentionDuration returns how long failed configuration rows are kept.
func (s SyncConfig) ConfigRetentionDuration() time.Duration {
	return time.Duration(s.ConfigRetention) * time.Hour
}

// TimeoutDuration returns the remote HTTP timeout.
func (r RemoteConfig) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
