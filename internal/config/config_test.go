package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: livewatch-1
live:
  base_url: https://console.example.com/ws/status
  token: abc123
  reconnect_delay: 2s
  max_reconnect_attempts: 3
database:
  enabled: true
  host: localhost
  port: 5432
  name: status_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "livewatch-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "livewatch-1")
	}
	if cfg.Live.BaseURL != "https://console.example.com/ws/status" {
		t.Errorf("Live.BaseURL = %q, want %q", cfg.Live.BaseURL, "https://console.example.com/ws/status")
	}
	if cfg.Live.ReconnectDelay != 2*time.Second {
		t.Errorf("Live.ReconnectDelay = %v, want %v", cfg.Live.ReconnectDelay, 2*time.Second)
	}
	if cfg.Live.MaxReconnectAttempts != 3 {
		t.Errorf("Live.MaxReconnectAttempts = %d, want 3", cfg.Live.MaxReconnectAttempts)
	}
	if !cfg.Database.Enabled {
		t.Error("Database.Enabled = false, want true")
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_LIVE_TOKEN", "secret-token")
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: livewatch-1
live:
  base_url: https://console.example.com/ws/status
  token: ${TEST_LIVE_TOKEN}
database:
  host: localhost
  name: status_db
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Live.Token != "secret-token" {
		t.Errorf("Live.Token = %q, want %q", cfg.Live.Token, "secret-token")
	}
	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load should fail for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeTempFile(t, "live: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load should fail for malformed yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: livewatch-1
live:
  base_url: https://console.example.com/ws/status
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Live.ReconnectDelay", cfg.Live.ReconnectDelay, DefaultReconnectDelay},
		{"Live.MaxReconnectAttempts", cfg.Live.MaxReconnectAttempts, DefaultMaxReconnectAttempts},
		{"Live.StableAfter", cfg.Live.StableAfter, DefaultStableAfter},
		{"Live.DialTimeout", cfg.Live.DialTimeout, DefaultDialTimeout},
		{"Live.HandshakeTimeout", cfg.Live.HandshakeTimeout, DefaultHandshakeTimeout},
		{"Live.PingInterval", cfg.Live.PingInterval, DefaultPingInterval},
		{"Live.PingTimeout", cfg.Live.PingTimeout, DefaultPingTimeout},
		{"Live.WriteTimeout", cfg.Live.WriteTimeout, DefaultWriteTimeout},
		{"Live.BufferSize", cfg.Live.BufferSize, DefaultBufferSize},
		{"Live.StatsInterval", cfg.Live.StatsInterval, DefaultStatsInterval},
		{"Database.Port", cfg.Database.Port, DefaultDBPort},
		{"Database.SSLMode", cfg.Database.SSLMode, DefaultDBSSLMode},
		{"Database.MaxConns", cfg.Database.MaxConns, DefaultMaxConns},
		{"Database.MinConns", cfg.Database.MinConns, DefaultMinConns},
		{"Recorder.BatchSize", cfg.Recorder.BatchSize, DefaultBatchSize},
		{"Recorder.FlushInterval", cfg.Recorder.FlushInterval, DefaultFlushInterval},
		{"Health.Port", cfg.Health.Port, DefaultHealthPort},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadWithDefaults_KeepsExplicitValues(t *testing.T) {
	yaml := `
instance:
  id: livewatch-1
live:
  base_url: wss://console.example.com/ws/status
  reconnect_delay: 750ms
  buffer_size: 16
recorder:
  batch_size: 10
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Live.ReconnectDelay != 750*time.Millisecond {
		t.Errorf("Live.ReconnectDelay = %v, want 750ms", cfg.Live.ReconnectDelay)
	}
	if cfg.Live.BufferSize != 16 {
		t.Errorf("Live.BufferSize = %d, want 16", cfg.Live.BufferSize)
	}
	if cfg.Recorder.BatchSize != 10 {
		t.Errorf("Recorder.BatchSize = %d, want 10", cfg.Recorder.BatchSize)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, `
instance:
  id: livewatch-1
`)
	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("LoadAndValidate should fail without live.base_url")
	}
	if !strings.Contains(err.Error(), "live.base_url is required") {
		t.Errorf("error = %q, want it to mention live.base_url", err.Error())
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Instance: InstanceConfig{ID: "livewatch-1"},
			Live:     LiveConfig{BaseURL: "https://console.example.com/ws/status"},
			Database: DatabaseConfig{
				Enabled:  true,
				Host:     "localhost",
				Name:     "status_db",
				User:     "user",
				Password: "pass",
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			modify:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing base url",
			modify:  func(c *Config) { c.Live.BaseURL = "" },
			wantErr: "live.base_url is required",
		},
		{
			name:    "unsupported scheme",
			modify:  func(c *Config) { c.Live.BaseURL = "ftp://console.example.com" },
			wantErr: `live.base_url scheme must be http, https, ws or wss, got "ftp"`,
		},
		{
			name:    "negative reconnect delay",
			modify:  func(c *Config) { c.Live.ReconnectDelay = -time.Second },
			wantErr: "live.reconnect_delay must be > 0",
		},
		{
			name:    "jitter out of range",
			modify:  func(c *Config) { c.Live.ReconnectJitter = 1.5 },
			wantErr: "live.reconnect_jitter must be in [0, 1), got 1.5",
		},
		{
			name:    "negative max attempts",
			modify:  func(c *Config) { c.Live.MaxReconnectAttempts = -1 },
			wantErr: "live.max_reconnect_attempts must be >= 1",
		},
		{
			name: "ping timeout not above interval",
			modify: func(c *Config) {
				c.Live.PingInterval = 30 * time.Second
				c.Live.PingTimeout = 30 * time.Second
			},
			wantErr: "live.ping_timeout (30s) must exceed ping_interval (30s)",
		},
		{
			name:    "missing db host",
			modify:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database.host is required",
		},
		{
			name:    "missing db password",
			modify:  func(c *Config) { c.Database.Password = "" },
			wantErr: "database.password is required",
		},
		{
			name: "min conns above max",
			modify: func(c *Config) {
				c.Database.MinConns = 8
				c.Database.MaxConns = 2
			},
			wantErr: "database.min_conns (8) cannot exceed max_conns (2)",
		},
		{
			name: "database disabled skips db checks",
			modify: func(c *Config) {
				c.Database = DatabaseConfig{}
			},
			wantErr: "",
		},
		{
			name:    "health port out of range",
			modify:  func(c *Config) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad batch size",
			modify:  func(c *Config) { c.Recorder.BatchSize = -5 },
			wantErr: "recorder.batch_size must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				return
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}
