package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/livestatus/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// schema is applied on startup. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS device_status_events (
	device_id      TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	status         TEXT        NOT NULL DEFAULT '',
	payload        JSONB       NOT NULL,
	event_time     BIGINT      NOT NULL,
	received_at    BIGINT      NOT NULL,
	correlation_id TEXT        NOT NULL DEFAULT '',
	instance_id    TEXT        NOT NULL,
	PRIMARY KEY (device_id, event_type, event_time)
)`

// EnsureSchema creates the tables the recorder writes to.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
