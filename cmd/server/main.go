package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericadamski/stream-rewards/internal/adapter/httpserver"
	"github.com/ericadamski/stream-rewards/internal/adapter/metrics"
	"github.com/ericadamski/stream-rewards/internal/adapter/postgres"
	"github.com/ericadamski/stream-rewards/internal/adapter/redis"
	"github.com/ericadamski/stream-rewards/internal/adapter/twitch"
	"github.com/ericadamski/stream-rewards/internal/app"
	"github.com/ericadamski/stream-rewards/internal/domain"
	"github.com/ericadamski/stream-rewards/internal/platform/config"
	"github.com/ericadamski/stream-rewards/internal/platform/crypto"
	"github.com/ericadamski/stream-rewards/internal/platform/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const (
	circuitBreakerDelay  = 10 * time.Second
	rewardEvictionPeriod = time.Minute
	resubscribeTimeout   = 5 * time.Minute
	webhookSetupTimeout  = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
	connectTimeout       = 10 * time.Second
)

type webhookResult struct {
	eventsubManager *twitch.EventSubManager
	webhookHandler  *twitch.WebhookHandler
}

func initWebhooks(cfg *config.Config, reg prometheus.Registerer, tracker twitch.StreamTracker, eventSubRepo domain.EventSubRepository) webhookResult {
	ctx, cancel := context.WithTimeout(context.Background(), webhookSetupTimeout)
	defer cancel()

	client, err := twitch.NewClient(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret)
	if err != nil {
		slog.Error("Failed to create Twitch API client", "error", err)
		os.Exit(1)
	}

	eventsubMetrics := metrics.NewEventSubMetrics(reg)
	eventsubManager := twitch.NewEventSubManager(client, eventSubRepo, cfg.WebhookCallbackURL, cfg.WebhookSecret,
		twitch.WithMetrics(eventsubMetrics),
	)
	if err := eventsubManager.Setup(ctx); err != nil {
		slog.Error("Failed to setup webhook conduit", "error", err)
		os.Exit(1)
	}

	return webhookResult{
		eventsubManager: eventsubManager,
		webhookHandler:  twitch.NewWebhookHandler(cfg.WebhookSecret, tracker, eventsubMetrics),
	}
}

func runGracefulShutdown(srv *httpserver.Server, conduitMgr *twitch.EventSubManager) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cleanupCancel()
		if err := conduitMgr.Cleanup(cleanupCtx); err != nil {
			slog.Error("Failed to clean up conduit", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, reg prometheus.Registerer, clock clockwork.Clock) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	tracer := postgres.NewMetricsTracer(metrics.NewDBMetrics(reg), clock)
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, tracer)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, reg prometheus.Registerer, clock clockwork.Clock) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// The breaker sits outermost so metrics only see commands that reached Redis.
	breaker := redis.NewCircuitBreakerHook(metrics.NewCircuitBreakerMetrics(reg), circuitBreakerDelay)
	metricsHook := redis.NewMetricsHook(metrics.NewRedisMetrics(reg), clock)

	client, err := redis.NewClient(ctx, cfg.RedisURL, breaker, metricsHook)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	registry := metrics.NewRegistry()

	pool := setupDB(cfg, registry, clock)
	defer pool.Close()

	redisClient := setupRedis(cfg, registry, clock)
	defer func() { _ = redisClient.Close() }()

	cryptoSvc, err := crypto.New(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}

	userRepo := postgres.NewUserRepo(pool, cryptoSvc)
	rewardRepo := postgres.NewRewardRepo(pool)
	eventSubRepo := postgres.NewEventSubRepo(pool)
	streamEventRepo := postgres.NewStreamEventRepo(pool)

	rewardCache := redis.NewRewardCache(redisClient, rewardRepo, cfg.ProgressCacheTTL, clock, metrics.NewCacheMetrics(registry))
	stopEviction := rewardCache.StartEvictionTimer(rewardEvictionPeriod)
	defer stopEviction()

	tracker := app.NewTracker(streamEventRepo, redis.NewStreamStateStore(redisClient), clock)

	wh := initWebhooks(cfg, registry, tracker, eventSubRepo)

	appSvc := app.NewService(userRepo, rewardRepo, rewardCache, rewardCache, eventSubRepo, wh.eventsubManager, tracker)

	// A conduit created on this boot starts empty; restore everyone's
	// subscriptions without holding up the listener.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
		defer cancel()
		if err := appSvc.ResubscribeAll(ctx); err != nil {
			slog.Warn("Resubscribe incomplete", "error", err)
		}
	}()

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}

	srv, err := httpserver.NewServer(cfg, appSvc, wh.webhookHandler, registry, healthChecks, clock)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, wh.eventsubManager)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
