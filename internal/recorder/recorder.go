package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/livestatus/internal/connection"
)

// deviceTypes are the message types the recorder subscribes to.
var deviceTypes = []connection.MessageType{
	connection.TypeDeviceOnline,
	connection.TypeDeviceOffline,
	connection.TypeDeviceStatus,
}

const insertStatus = `
	INSERT INTO device_status_events
		(device_id, event_type, status, payload, event_time, received_at, correlation_id, instance_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (device_id, event_type, event_time) DO NOTHING
`

// Recorder batches device status messages and writes them to PostgreSQL.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	src Subscriber
	db  Execer
	ids []connection.ListenerID

	// Batching
	batch   []statusRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kick   chan struct{}

	stats Stats
}

// New creates a Recorder. Call Start to subscribe and begin flushing.
func New(cfg Config, src Subscriber, db Execer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		src:    src,
		db:     db,
		batch:  make([]statusRow, 0, cfg.BatchSize),
		kick:   make(chan struct{}, 1),
	}
}

// Start subscribes to device messages and starts the flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	if r.cancel != nil {
		return errors.New("recorder already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, t := range deviceTypes {
		id, err := r.src.On(t, r.handleMessage)
		if err != nil {
			r.unsubscribe()
			r.cancel()
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		r.ids = append(r.ids, id)
	}

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("device recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, waits for the flush loop, and writes what is left.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping device recorder")

	r.unsubscribe()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("device recorder stop timed out")
	}

	// Final flush runs on the caller's context; ours is already cancelled.
	if err := r.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	r.logger.Info("device recorder stopped")
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.stats
}

func (r *Recorder) unsubscribe() {
	for _, id := range r.ids {
		r.src.Off(id)
	}
	r.ids = nil
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.flush(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("flush device events", "error", err)
		}
	}
}

// handleMessage runs on the manager's callback goroutine, so it never
// touches the database.
func (r *Recorder) handleMessage(msg connection.Message) {
	row, err := r.transform(msg)
	if err != nil {
		r.logger.Warn("dropping device message", "type", msg.Type, "error", err)
		r.batchMu.Lock()
		r.stats.Malformed++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	r.stats.Received++
	full := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) transform(msg connection.Message) (statusRow, error) {
	var p devicePayload
	if err := msg.Decode(&p); err != nil {
		return statusRow{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.DeviceID == "" {
		return statusRow{}, errors.New("missing deviceId")
	}

	received := r.now().UnixMilli()
	eventTime := msg.Timestamp
	if eventTime == 0 {
		eventTime = received
	}

	status := p.Status
	if status == "" {
		switch msg.Type {
		case connection.TypeDeviceOnline:
			status = "online"
		case connection.TypeDeviceOffline:
			status = "offline"
		}
	}

	return statusRow{
		DeviceID:      p.DeviceID,
		EventType:     string(msg.Type),
		Status:        status,
		Payload:       []byte(msg.Payload),
		EventTime:     eventTime,
		ReceivedAt:    received,
		CorrelationID: msg.CorrelationID,
	}, nil
}

// flush writes the current batch. Rows are dropped on error.
func (r *Recorder) flush(ctx context.Context) error {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return nil
	}
	rows := r.batch
	r.batch = make([]statusRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()
	conflicts, err := r.batchInsert(ctx, rows)

	r.batchMu.Lock()
	if err != nil {
		r.stats.Errors++
	} else {
		r.stats.Inserts += int64(len(rows) - conflicts)
		r.stats.Conflicts += int64(conflicts)
		r.stats.Flushes++
	}
	r.batchMu.Unlock()

	if err != nil {
		return fmt.Errorf("insert %d rows: %w", len(rows), err)
	}

	r.logger.Debug("flushed device events",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []statusRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertStatus,
			row.DeviceID, row.EventType, row.Status, row.Payload,
			row.EventTime, row.ReceivedAt, row.CorrelationID, r.cfg.InstanceID,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
