package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultStableAfter          = 30 * time.Second
	DefaultDialTimeout          = 15 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 256
	DefaultStatsInterval        = time.Minute
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 2 * time.Second
	DefaultHealthPort           = 8080
)

func (c *Config) applyDefaults() {
	// Live connection defaults
	if c.Live.ReconnectDelay == 0 {
		c.Live.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Live.MaxReconnectAttempts == 0 {
		c.Live.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Live.StableAfter == 0 {
		c.Live.StableAfter = DefaultStableAfter
	}
	if c.Live.DialTimeout == 0 {
		c.Live.DialTimeout = DefaultDialTimeout
	}
	if c.Live.HandshakeTimeout == 0 {
		c.Live.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Live.PingInterval == 0 {
		c.Live.PingInterval = DefaultPingInterval
	}
	if c.Live.PingTimeout == 0 {
		c.Live.PingTimeout = DefaultPingTimeout
	}
	if c.Live.WriteTimeout == 0 {
		c.Live.WriteTimeout = DefaultWriteTimeout
	}
	if c.Live.BufferSize == 0 {
		c.Live.BufferSize = DefaultBufferSize
	}
	if c.Live.StatsInterval == 0 {
		c.Live.StatsInterval = DefaultStatsInterval
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
