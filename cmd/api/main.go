package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/custody-backend/api/controllers"
	"github.com/angelmondragon/custody-backend/api/routes"
	"github.com/angelmondragon/custody-backend/internal/abuse"
	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/internal/sequences"
	"github.com/angelmondragon/custody-backend/internal/webhooks"
	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/instance"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
	"github.com/angelmondragon/custody-backend/pkg/migrate"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
	"github.com/angelmondragon/custody-backend/pkg/redis"
	"github.com/angelmondragon/custody-backend/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Fields:      map[string]string{"instance": instance.GetID(), "env": cfg.App.Env},
	})

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing, "custody-api", logg)
	if err != nil {
		logg.Error(context.Background(), "failed to init tracing", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logg.Error(ctx, "error flushing traces", err)
		}
	}()

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	abuseService, err := abuse.NewService(abuse.ServiceParams{
		Tx:          dbClient,
		Repo:        abuse.NewRepository(dbClient.DB()),
		Outbox:      emitter,
		Limiter:     redisClient,
		Config:      cfg.Abuse,
		LockTimeout: cfg.Ledger.LockTimeout,
		Logger:      logg,
		Metrics:     metrics.NewPolicyMetrics(registry),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create abuse service", err)
		os.Exit(1)
	}

	var gate ledger.PolicyGate
	if cfg.FeatureFlags.PolicyGate {
		gate = abuseService
	}
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Tx:      dbClient,
		Repo:    ledger.NewRepository(dbClient.DB()),
		Outbox:  emitter,
		Gate:    gate,
		Config:  cfg.Ledger,
		Logger:  logg,
		Metrics: metrics.NewLedgerMetrics(registry),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sequenceService, err := sequences.NewService(dbClient, sequences.NewRepository(dbClient.DB()), cfg.Ledger, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sequence service", err)
		os.Exit(1)
	}

	webhookParams := webhooks.ServiceParams{
		Repo:    webhooks.NewRepository(dbClient.DB()),
		Ledger:  ledgerService,
		Secrets: cfg.Webhooks,
		Config:  cfg.Webhooks,
		Retry:   cfg.Ledger,
		Logger:  logg,
		Metrics: metrics.NewIngestMetrics(registry),
	}
	if cfg.FeatureFlags.WebhookRedisGuard {
		guard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Webhooks.GuardTTL, "webhook")
		if err != nil {
			logg.Error(context.Background(), "failed to create webhook guard", err)
			os.Exit(1)
		}
		webhookParams.Guard = guard
	}
	webhookService, err := webhooks.NewService(webhookParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "addr", addr)
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:      cfg,
			Logger:      logg,
			Redis:       redisClient,
			Gatherer:    registry,
			HTTPMetrics: metrics.NewHTTPMetrics(registry),
			Readiness: []controllers.ReadinessCheck{
				{Name: "database", Pinger: dbClient},
				{Name: "redis", Pinger: redisClient},
			},
			Ledger:    ledgerService,
			Sequences: sequenceService,
			Abuse:     abuseService,
			Webhooks:  webhookService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shutting down gracefully")
	}
}
