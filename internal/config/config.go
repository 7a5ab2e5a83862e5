package config

import "time"

// Config is the root configuration for a livewatch instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Live     LiveConfig     `yaml:"live"`
	Database DatabaseConfig `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this process in logs and stored rows.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LiveConfig holds the live-status connection settings.
type LiveConfig struct {
	BaseURL              string        `yaml:"base_url"` // http(s) or ws(s); http(s) is upgraded
	Token                string        `yaml:"token"`    // Usually ${LIVESTATUS_TOKEN}
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectJitter      float64       `yaml:"reconnect_jitter"` // Fraction of reconnect_delay, 0 = exact
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	StableAfter          time.Duration `yaml:"stable_after"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
	StatsInterval        time.Duration `yaml:"stats_interval"`
}

// DatabaseConfig holds the PostgreSQL connection for the status recorder.
// When Enabled is false nothing is persisted.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds device status batching settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
