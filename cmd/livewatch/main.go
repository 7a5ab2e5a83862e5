// livewatch holds one live-status connection to the console backend, tracks
// sync task progress and records device presence to PostgreSQL.
//
// Usage: livewatch --config configs/livewatch.example.yaml [--token TOKEN]
//
// The token falls back to live.token in config, then LIVESTATUS_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livestatus/internal/config"
	"github.com/rickgao/livestatus/internal/connection"
	"github.com/rickgao/livestatus/internal/database"
	"github.com/rickgao/livestatus/internal/progress"
	"github.com/rickgao/livestatus/internal/recorder"
	"github.com/rickgao/livestatus/internal/version"
)

const tokenEnv = "LIVESTATUS_TOKEN"

func main() {
	configPath := flag.String("config", "configs/livewatch.example.yaml", "path to config file")
	token := flag.String("token", "", "live-status credential (overrides config and "+tokenEnv+")")
	verbose := flag.Bool("verbose", false, "log every received message")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting livewatch",
		"version", version.String(),
		"config", *configPath,
	)

	if err := run(*configPath, *token, *verbose, logger); err != nil {
		logger.Error("livewatch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("livewatch stopped")
}

func run(configPath, token string, verbose bool, logger *slog.Logger) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	credential := resolveToken(token, cfg.Live.Token, os.Getenv(tokenEnv))
	if credential == "" {
		return fmt.Errorf("no credential: pass -token, set live.token or %s", tokenEnv)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"base_url", cfg.Live.BaseURL,
		"database_enabled", cfg.Database.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")
	}

	dialer := connection.NewDialer(connection.ClientConfig{
		HandshakeTimeout: cfg.Live.HandshakeTimeout,
		PingInterval:     cfg.Live.PingInterval,
		PingTimeout:      cfg.Live.PingTimeout,
		WriteTimeout:     cfg.Live.WriteTimeout,
		BufferSize:       cfg.Live.BufferSize,
	}, logger)

	mgr := connection.NewManager(connection.ManagerConfig{
		BaseURL:         cfg.Live.BaseURL,
		ReconnectDelay:  cfg.Live.ReconnectDelay,
		ReconnectJitter: cfg.Live.ReconnectJitter,
		MaxAttempts:     cfg.Live.MaxReconnectAttempts,
		StableAfter:     cfg.Live.StableAfter,
		DialTimeout:     cfg.Live.DialTimeout,
	}, dialer, logger)

	mgr.OnStateChange(func(from, to connection.State) {
		logger.Info("connection state changed", "from", from, "to", to)
	})

	if verbose {
		if _, err := mgr.On(connection.Wildcard, func(msg connection.Message) {
			logger.Debug("message", "type", msg.Type, "correlation_id", msg.CorrelationID, "payload", string(msg.Payload))
		}); err != nil {
			return fmt.Errorf("register message logger: %w", err)
		}
	}

	tracker, err := progress.NewTracker(mgr, logger)
	if err != nil {
		return fmt.Errorf("start progress tracker: %w", err)
	}
	defer tracker.Close()

	var rec *recorder.Recorder
	if pool != nil {
		rec = recorder.New(recorder.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, mgr, pool, logger)
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
	}

	var db pinger
	if pool != nil {
		db = pool
	}
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHealthHandler(mgr, tracker, rec, db),
		ReadHeaderTimeout: 5 * time.Second,
	}

	mgr.Connect(credential)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logStats(gctx, cfg.Live.StatsInterval, mgr, tracker, rec, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		mgr.Disconnect()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if rec != nil {
			if err := rec.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop recorder: %w", err))
			}
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown health server: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// resolveToken returns the first non-empty credential in priority order.
func resolveToken(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// logStats periodically logs connection, sync and recorder counters.
func logStats(ctx context.Context, every time.Duration, mgr connection.Manager, tracker *progress.Tracker, rec *recorder.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ms := mgr.Stats()
		snap := tracker.Snapshot()
		attrs := []any{
			"state", ms.State,
			"attempts", ms.Attempts,
			"messages", ms.MessagesReceived,
			"decode_failures", ms.DecodeFailures,
			"unknown_types", ms.UnknownTypes,
			"listener_panics", ms.ListenerPanics,
			"sync_tasks", len(snap.Tasks),
			"sync_running", snap.Running,
			"sync_percent", fmt.Sprintf("%.1f", snap.Percent),
		}
		if rec != nil {
			rs := rec.Stats()
			attrs = append(attrs,
				"device_inserts", rs.Inserts,
				"device_conflicts", rs.Conflicts,
				"device_errors", rs.Errors,
			)
		}
		logger.Info("stats", attrs...)
	}
}
