package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

// validConfig returns defaults plus the fields Validate requires.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	cfg.Remote.BaseURL = "https://backend.example.com"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node:
  id: "test-node"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
remote:
  base_url: "https://backend.example.com"
  user_id: "user-1"
queue:
  base_delay: 2
  max_delay: 120
  default_max_retries: 5
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

	if cfg.Node.ID != "test-node" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "test-node")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Remote.UserID != "user-1" {
		t.Errorf("Remote.UserID = %q, want %q", cfg.Remote.UserID, "user-1")
	}
	if cfg.Queue.DefaultMaxRetries != 5 {
		t.Errorf("Queue.DefaultMaxRetries = %d, want 5", cfg.Queue.DefaultMaxRetries)
	}
	// Unset keys keep their defaults.
	if cfg.Queue.DispatchTimeout != 15 {
		t.Errorf("Queue.DispatchTimeout = %d, want default 15", cfg.Queue.DispatchTimeout)
	}
	if cfg.Sync.BatchSize != 100 {
		t.Errorf("Sync.BatchSize = %d, want default 100", cfg.Sync.BatchSize)
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
node:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty node.id, got nil")
	}
	if !strings.Contains(err.Error(), "node.id is required") {
		t.Errorf("Load() error = %v, want node.id message", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing node ID", mutate: func(c *Config) { c.Node.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "zero base delay", mutate: func(c *Config) { c.Queue.BaseDelay = 0 }, wantErr: true},
		{name: "max delay below base", mutate: func(c *Config) { c.Queue.MaxDelay = 1; c.Queue.BaseDelay = 5 }, wantErr: true},
		{name: "negative max retries", mutate: func(c *Config) { c.Queue.DefaultMaxRetries = -1 }, wantErr: true},
		{name: "zero max retries allowed", mutate: func(c *Config) { c.Queue.DefaultMaxRetries = 0 }, wantErr: false},
		{name: "sent timeout below dispatch timeout", mutate: func(c *Config) { c.Queue.SentTimeout = 10 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Queue.Workers = 0 }, wantErr: true},
		{name: "sync without remote", mutate: func(c *Config) { c.Remote.BaseURL = "" }, wantErr: true},
		{name: "sync disabled without remote", mutate: func(c *Config) { c.Remote.BaseURL = ""; c.Sync.Enabled = false }, wantErr: false},
		{name: "zero sync batch", mutate: func(c *Config) { c.Sync.BatchSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Node.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"node.id", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
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

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Queue.BaseDelayDuration(); got != 5*time.Second {
		t.Errorf("BaseDelayDuration() = %v, want 5s", got)
	}
	if got := cfg.Queue.MaxDelayDuration(); got != 10*time.Minute {
		t.Errorf("MaxDelayDuration() = %v, want 10m", got)
	}
	if got := cfg.Queue.DispatchTimeoutDuration(); got != 15*time.Second {
		t.Errorf("DispatchTimeoutDuration() = %v, want 15s", got)
	}
	if got := cfg.Queue.SentTimeoutDuration(); got != time.Hour {
		t.Errorf("SentTimeoutDuration() = %v, want 1h", got)
	}
	if got := cfg.Sync.TelemetryRetentionDuration(); got != 7*24*time.Hour {
		t.Errorf("TelemetryRetentionDuration() = %v, want 168h", got)
	}
	if got := cfg.Remote.TimeoutDuration(); got != 10*time.Second {
		t.Errorf("TimeoutDuration() = %v, want 10s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("DEVSYNC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DEVSYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("DEVSYNC_MQTT_USERNAME", "testuser")
	t.Setenv("DEVSYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("DEVSYNC_API_HOST", "192.168.1.1")
	t.Setenv("DEVSYNC_API_PORT", "9090")
	t.Setenv("DEVSYNC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("DEVSYNC_REMOTE_URL", "https://remote.example.com")
	t.Setenv("DEVSYNC_REMOTE_TOKEN", "remote-token")
	t.Setenv("DEVSYNC_REMOTE_USER_ID", "user-42")
	t.Setenv("DEVSYNC_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Remote.BaseURL", cfg.Remote.BaseURL, "https://remote.example.com"},
		{"Remote.Token", cfg.Remote.Token, "remote-token"},
		{"Remote.UserID", cfg.Remote.UserID, "user-42"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("DEVSYNC_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Node.ID == "" {
		t.Error("defaultConfig should have non-empty Node.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Queue.DefaultMaxRetries != 3 {
		t.Errorf("defaultConfig Queue.DefaultMaxRetries = %d, want 3", cfg.Queue.DefaultMaxRetries)
	}
}
