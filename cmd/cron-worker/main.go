package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/custody-backend/internal/abuse"
	"github.com/angelmondragon/custody-backend/internal/cron"
	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/instance"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
	"github.com/angelmondragon/custody-backend/pkg/migrate"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
	"github.com/angelmondragon/custody-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Fields:      map[string]string{"instance": instance.GetID(), "env": cfg.App.Env},
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey("cron-worker:" + env)
}

// buildRegistry wires the decay sweep, the stale hold scan and outbox retention.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	abuseService, err := abuse.NewService(abuse.ServiceParams{
		Tx:          dbClient,
		Repo:        abuse.NewRepository(dbClient.DB()),
		Outbox:      emitter,
		Limiter:     redisClient,
		Config:      cfg.Abuse,
		LockTimeout: cfg.Ledger.LockTimeout,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("abuse service: %w", err)
	}
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Tx:     dbClient,
		Repo:   ledger.NewRepository(dbClient.DB()),
		Outbox: emitter,
		Config: cfg.Ledger,
		Logger: logg,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	decayJob, err := cron.NewAbuseDecayJob(cron.AbuseDecayJobParams{Logger: logg, Abuse: abuseService})
	if err != nil {
		return nil, err
	}
	staleHoldJob, err := cron.NewStaleHoldJob(cron.StaleHoldJobParams{
		Logger: logg,
		DB:     dbClient,
		Ledger: ledgerService,
		Outbox: emitter,
		MaxAge: cfg.Cron.StaleHoldAge,
		Batch:  cfg.Cron.StaleHoldBatch,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outboxRepo,
		DLQ:           outbox.NewDLQRepository(dbClient.DB()),
		RetentionDays: cfg.Cron.OutboxRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(decayJob, staleHoldJob, retentionJob), nil
}
