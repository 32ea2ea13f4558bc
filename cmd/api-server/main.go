package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/emergency-dispatch/internal/api"
	"github.com/hackgods/emergency-dispatch/internal/arbiter"
	"github.com/hackgods/emergency-dispatch/internal/auth"
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/consultation"
	"github.com/hackgods/emergency-dispatch/internal/db"
	"github.com/hackgods/emergency-dispatch/internal/dispatch"
	"github.com/hackgods/emergency-dispatch/internal/emergency"
	"github.com/hackgods/emergency-dispatch/internal/logging"
	"github.com/hackgods/emergency-dispatch/internal/nearby"
	"github.com/hackgods/emergency-dispatch/internal/notify"
	"github.com/hackgods/emergency-dispatch/internal/payment"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/profile"
	"github.com/hackgods/emergency-dispatch/internal/queue"
	"github.com/hackgods/emergency-dispatch/internal/quota"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
	"github.com/hackgods/emergency-dispatch/internal/telemetry"
)

const notifyTimeout = 5 * time.Second

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("api-server", "dev")
		l.Error().Err(err).Msg("config load error")
		return 1
	}

	logger := logging.New("api-server", cfg.Env)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	shutdownTracing := telemetry.Setup("emergency-dispatch-api", logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		return 1
	}
	defer pgPool.Close()

	applied, err := db.Migrate(rootCtx, pgPool)
	if err != nil {
		logger.Error().Err(err).Msg("migration error")
		return 1
	}
	logger.Info().Int("applied", applied).Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error().Err(err).Msg("redis connection error")
		return 1
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	// leaves
	profiles := profile.NewPgRepository(pgPool)
	queueRepo := queue.NewPgRepository(pgPool)
	index := presence.NewIndex(rdb, cfg.PresenceTTL, logger)
	groups := emergency.NewStore(rdb, cfg.GroupTTL)
	limiter := quota.NewLimiter(rdb)
	notifier := notify.NewAsync(notify.NewRedisPublisher(rdb), logger, notifyTimeout)
	defer notifier.Wait()

	// coordination
	arb := arbiter.New(rdb, groups, queueRepo, logger)
	gate := payment.NewGate(
		payment.NewPgRepository(pgPool),
		payment.NewHTTPProvider(cfg.PaymentProviderURL, cfg.PaymentProviderToken, cfg.PaymentProviderTimeout),
		notifier,
		payment.GateConfig{
			Currency:        cfg.PaymentCurrency,
			TTL:             cfg.PaymentTTL,
			NotificationURL: cfg.PaymentNotificationURL,
		},
		logger,
	)
	launcher := consultation.NewLauncher(
		consultation.NewPgRepository(pgPool), notifier, cfg.LiveKitURL, cfg.VideoBaseURL, logger)

	// services
	queueSvc := queue.NewService(queueRepo, arb, gate, launcher, profiles, notifier, cfg, logger)
	dispatcher := dispatch.NewDispatcher(
		index, profiles, limiter, profiles, queueRepo, groups, notifier, cfg, cfg.QueueTTL, logger)
	matcher := nearby.NewMatcher(index, profiles, cfg)

	router := api.NewRouter(api.RouterConfig{
		Presence:      index,
		Nearby:        matcher,
		Emergencies:   dispatcher,
		Queue:         queueSvc,
		Payments:      gate,
		Verifier:      auth.NewVerifier(cfg.JWTSecret),
		WebhookSecret: cfg.PaymentWebhookSecret,
		PgPool:        pgPool,
		Redis:         rdb,
		Logger:        logger,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	code := 0
	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutting down api-server")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown error")
	}

	return code
}
