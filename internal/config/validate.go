package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Live.validate(); err != nil {
		return err
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (l *LiveConfig) validate() error {
	if l.BaseURL == "" {
		return errors.New("live.base_url is required")
	}
	u, err := url.Parse(l.BaseURL)
	if err != nil {
		return fmt.Errorf("live.base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("live.base_url scheme must be http, https, ws or wss, got %q", u.Scheme)
	}
	if l.ReconnectDelay <= 0 {
		return errors.New("live.reconnect_delay must be > 0")
	}
	if l.ReconnectJitter < 0 || l.ReconnectJitter >= 1 {
		return fmt.Errorf("live.reconnect_jitter must be in [0, 1), got %v", l.ReconnectJitter)
	}
	if l.MaxReconnectAttempts < 1 {
		return errors.New("live.max_reconnect_attempts must be >= 1")
	}
	if l.BufferSize < 1 {
		return errors.New("live.buffer_size must be >= 1")
	}
	if l.PingInterval > 0 && l.PingTimeout > 0 && l.PingTimeout <= l.PingInterval {
		return fmt.Errorf("live.ping_timeout (%v) must exceed ping_interval (%v)", l.PingTimeout, l.PingInterval)
	}
	return nil
}

func (db *DatabaseConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
