package recorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/livestatus/internal/connection"
)

// Subscriber is the part of connection.Manager the recorder needs.
type Subscriber interface {
	On(t connection.MessageType, h connection.Handler) (connection.ListenerID, error)
	Off(id connection.ListenerID)
}

// Execer sends a batch of statements. *pgxpool.Pool satisfies it.
type Execer interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config configures batching.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
	}
}

// Stats holds recorder counters.
type Stats struct {
	Received  int64 // Device messages accepted into a batch
	Malformed int64 // Device messages dropped because the payload did not decode
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// devicePayload is the payload shape of device_* messages.
type devicePayload struct {
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"`
}

type statusRow struct {
	DeviceID      string
	EventType     string
	Status        string
	Payload       []byte
	EventTime     int64 // Unix ms from the message, or receive time when absent
	ReceivedAt    int64 // Unix ms
	CorrelationID string
}
