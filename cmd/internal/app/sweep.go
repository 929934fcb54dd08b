package app

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/metrics"
)

// Sweep is the entrypoint used by cmd/tracker-sweep.
// It removes every expired session from Postgres and returns.
func Sweep() error {
	if err := LoadDotEnv(); err != nil {
		slog.Warn("dotenv.load.fail", "err", err)
	}

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	if cfg.DatabaseURL == "" {
		return errors.New("sweep: TRACKER_DATABASE_URL is required")
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTimeout()

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	mgr := session.NewManager(sessCfg, session.NewPostgresStore(pool), hasher,
		session.WithLogger(log),
		session.WithMetrics(metrics.New(metrics.NewRegistry())),
	)

	start := time.Now()
	n, err := mgr.CleanupExpiredSessions(ctx)
	if err != nil {
		log.Error("session.sweep.fail", "err", err)
		return err
	}
	log.Info("session.sweep.done", "removed", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
