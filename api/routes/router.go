package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/custody-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/custody-backend/api/controllers/webhooks"
	"github.com/angelmondragon/custody-backend/api/middleware"
	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/custody-backend/pkg/redis"
)

// ledgerService covers every wallet and hold route.
type ledgerService interface {
	controllers.WalletService
	controllers.HoldService
}

type webhookService interface {
	webhookcontrollers.IngestService
	webhookcontrollers.AdminService
}

// redisStore backs both the idempotency replay cache and ingress counters.
type redisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies is everything the HTTP surface needs. Nil readiness pingers
// are skipped.
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	Redis       redisStore
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Readiness   []controllers.ReadinessCheck

	Ledger    ledgerService
	Sequences controllers.SequenceService
	Abuse     controllers.AbuseService
	Webhooks  webhookService
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	moneyMovers := middleware.RequireRole(logg, enums.OperatorRoleService, enums.OperatorRoleAdmin)
	reviewers := middleware.RequireRole(logg, enums.OperatorRoleAdmin, enums.OperatorRoleSupport)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	ingressPolicy := middleware.NewIngressPolicy(
		"webhooks",
		cfg.Webhooks.IngressWindow,
		cfg.Webhooks.IngressIPLimit,
		cfg.Webhooks.IngressProviderLimit,
	)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.IngressRateLimit(ingressPolicy, deps.Redis, logg)).
			Post("/{provider}", webhookcontrollers.Ingest(deps.Webhooks, cfg.Webhooks.MaxBody, logg))
	})

	money := middleware.Idempotent(deps.Redis, middleware.MoneyTTL, logg)
	command := middleware.Idempotent(deps.Redis, middleware.CommandTTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.OperatorPing())

		r.Route("/sequences", func(r chi.Router) {
			r.With(moneyMovers, money).Post("/next", controllers.SequenceNext(deps.Sequences, logg))
			r.Get("/", controllers.SequencePeek(deps.Sequences, logg))
		})

		r.Route("/tenants/{"+middleware.TenantParam+"}", func(r chi.Router) {
			r.Use(middleware.TenantContext(logg))

			r.Get("/balance", controllers.WalletBalance(deps.Ledger, logg))
			r.Get("/entries", controllers.WalletEntries(deps.Ledger, logg))
			r.Get("/holds", controllers.HoldsOpen(deps.Ledger, logg))
			r.Get("/policy", controllers.TenantPolicy(deps.Abuse, logg))

			r.Group(func(r chi.Router) {
				r.Use(moneyMovers)
				r.With(command).Put("/wallet", controllers.WalletEnsure(deps.Ledger, logg))
				r.With(money).Post("/credits", controllers.WalletCredit(deps.Ledger, logg))
				r.With(money).Post("/debits", controllers.WalletDebit(deps.Ledger, logg))
				r.With(command).Post("/holds", controllers.HoldCreate(deps.Ledger, logg))
				r.With(money).Post("/holds/{holdID}/release", controllers.HoldRelease(deps.Ledger, logg))
				r.With(money).Post("/holds/{holdID}/settle", controllers.HoldSettle(deps.Ledger, logg))
			})

			r.Route("/abuse", func(r chi.Router) {
				r.Use(reviewers)
				r.Get("/events", controllers.AbuseEventList(deps.Abuse, logg))
				r.With(command).Post("/events", controllers.AbuseEventCreate(deps.Abuse, logg))
				r.Put("/approval", controllers.AbuseApproval(deps.Abuse, logg))
				r.Post("/decay", controllers.AbuseDecay(deps.Abuse, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(reviewers)

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", webhookcontrollers.List(deps.Webhooks, logg))
			r.Get("/{eventID}", webhookcontrollers.Detail(deps.Webhooks, logg))
			r.With(command).Post("/{eventID}/reprocess", webhookcontrollers.Reprocess(deps.Webhooks, logg))
		})
	})

	return r
}
