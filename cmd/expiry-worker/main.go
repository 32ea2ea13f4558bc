package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/db"
	"github.com/hackgods/emergency-dispatch/internal/logging"
	"github.com/hackgods/emergency-dispatch/internal/queue"
)

// Sweeper lapses queue items and payment windows that are past due.
type Sweeper interface {
	SweepExpired(ctx context.Context, scope queue.Scope, now time.Time) (queue.SweepResult, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("expiry-worker", "dev")
		l.Error().Err(err).Msg("config load error")
		os.Exit(1)
	}

	logger := logging.New("expiry-worker", cfg.Env)
	logger.Info().Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		return
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	repo := queue.NewPgRepository(pgPool)

	runOnce(rootCtx, repo, time.Now(), logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case now := <-ticker.C:
			runOnce(rootCtx, repo, now, logger)
		}
	}
}

func runOnce(ctx context.Context, sweeper Sweeper, now time.Time, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := sweeper.SweepExpired(runCtx, queue.Scope{}, now)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run error")
		return
	}
	logger.Info().
		Int64("items_expired", res.Items).
		Int64("payments_expired", res.Payments).
		Dur("took", time.Since(start)).
		Msg("expiry run complete")
}
