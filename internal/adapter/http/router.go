package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/presaleledger/internal/adapter/http/handler"
	"github.com/iho/presaleledger/internal/adapter/http/middleware"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/auth"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
	"github.com/iho/presaleledger/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	AccountHandler    *handler.AccountHandler
	EntryHandler      *handler.EntryHandler
	DepositHandler    *handler.DepositHandler
	StageHandler      *handler.StageHandler
	SettlementHandler *handler.SettlementHandler
	ReferralHandler   *handler.ReferralHandler
	LedgerHandler     *handler.LedgerHandler
	HealthHandler     *handler.HealthHandler
	AuthHandler       *handler.AuthHandler

	Logger zerolog.Logger

	// IdempotencyStore enables Idempotency-Key replay on mutating routes.
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration

	// JWTManager guards /api/v1 when set. Without it the API is open, which
	// is only meant for local runs.
	JWTManager *auth.JWTManager

	// WebhookSecrets maps provider name to its signing secret.
	WebhookSecrets     map[string]string
	WebhookRateLimiter *middleware.RateLimiter

	HTTPMetrics    *middleware.HTTPMetrics
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery)
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Wrap)
	}

	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider callbacks authenticate by signature, not by token.
	r.Route("/webhooks", func(r chi.Router) {
		if cfg.WebhookRateLimiter != nil {
			r.Use(cfg.WebhookRateLimiter.Limit)
		}
		r.With(middleware.WebhookSignature(cfg.WebhookSecrets, cfg.Metrics)).
			Post("/{provider}", cfg.SettlementHandler.Webhook)
	})

	var idempotent func(http.Handler) http.Handler
	if cfg.IdempotencyStore != nil {
		idempotent = middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL).Wrap
	} else {
		idempotent = func(next http.Handler) http.Handler { return next }
	}

	requireRole := func(role domain.Role) func(http.Handler) http.Handler {
		if cfg.JWTManager == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RequireRole(role)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTManager != nil {
			r.Use(middleware.AuthMiddleware(cfg.JWTManager, cfg.Metrics))
			r.Use(middleware.WithUser)
		}

		r.Get("/me", cfg.AuthHandler.Me)

		r.Route("/presale", func(r chi.Router) {
			r.Get("/stage", cfg.StageHandler.Active)
			r.Get("/stages", cfg.StageHandler.List)
			r.Get("/stages/{ordinal}", cfg.StageHandler.Get)
		})

		r.With(requireRole(domain.RoleOperator), idempotent).
			Post("/settlements", cfg.SettlementHandler.Settle)

		r.Route("/accounts", func(r chi.Router) {
			r.With(requireRole(domain.RoleOperator), idempotent).Post("/", cfg.AccountHandler.Create)
			r.Get("/", cfg.AccountHandler.List)
			r.Get("/{id}", cfg.AccountHandler.Get)
			r.Get("/{id}/entries", cfg.EntryHandler.ListByAccount)
			r.Get("/{id}/deposits", cfg.DepositHandler.ListByAccount)
			r.Get("/{id}/referrals", cfg.ReferralHandler.ListByReferrer)
			r.Get("/{id}/reconcile", cfg.LedgerHandler.ReconcileAccount)
		})

		r.Route("/deposits", func(r chi.Router) {
			r.With(requireRole(domain.RoleOperator), idempotent).Post("/", cfg.DepositHandler.Create)
			r.Get("/{id}", cfg.DepositHandler.Get)
		})

		r.Get("/ledger/consistency", cfg.LedgerHandler.CheckConsistency)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(domain.RoleAdmin))
			r.Use(idempotent)

			r.Post("/stages", cfg.StageHandler.Create)
			r.Post("/stages/{ordinal}/open", cfg.StageHandler.Open)
			r.Post("/stages/close", cfg.StageHandler.Close)
			r.Put("/stages/{ordinal}/inventory", cfg.StageHandler.AdjustInventory)

			r.Post("/accounts/{id}/suspend", cfg.AccountHandler.Suspend)
			r.Post("/accounts/{id}/unsuspend", cfg.AccountHandler.Unsuspend)

			r.Post("/deposits/{id}/fail", cfg.DepositHandler.Fail)
			r.Post("/deposits/{id}/refund", cfg.DepositHandler.Refund)

			r.Post("/referrals/{deposit_id}/payout", cfg.ReferralHandler.Payout)

			if cfg.AuthHandler != nil {
				r.Post("/tokens", cfg.AuthHandler.IssueToken)
			}
		})
	})

	return r
}
