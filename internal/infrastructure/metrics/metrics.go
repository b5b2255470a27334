package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Settlement metrics
	SettlementsTotal    *prometheus.CounterVec
	SettlementDuration  prometheus.Histogram
	SettlementRetries   prometheus.Counter
	SettlementAmount    *prometheus.HistogramVec
	TokensSold          prometheus.Counter
	SettlementCacheHits prometheus.Counter

	// Stage metrics
	StageTransitions *prometheus.CounterVec
	ActiveStage      prometheus.Gauge
	StageTokensSold  *prometheus.GaugeVec

	// Referral metrics
	ReferralPayouts *prometheus.CounterVec
	ReferralAmount  *prometheus.CounterVec

	// Account and deposit metrics
	AccountsCreated   prometheus.Counter
	AccountOperations *prometheus.CounterVec
	DepositTransition *prometheus.CounterVec

	// Outbox metrics
	OutboxPublished prometheus.Counter
	OutboxErrors    prometheus.Counter

	// Database metrics
	DBErrors *prometheus.CounterVec

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Audit metrics
	AuditLogsCreated *prometheus.CounterVec
}

// New creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Settlement metrics
		SettlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_settlements_total",
				Help: "Total settlement requests by outcome",
			},
			[]string{"status"},
		),
		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "presale_settlement_duration_seconds",
			Help:    "Duration of settlement operations",
			Buckets: prometheus.DefBuckets,
		}),
		SettlementRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "presale_settlement_retries_total",
			Help: "Settlement attempts replayed after a transient conflict",
		}),
		SettlementAmount: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_settlement_amount",
				Help:    "Settled payment amounts",
				Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
			},
			[]string{"currency"},
		),
		TokensSold: f.NewCounter(prometheus.CounterOpts{
			Name: "presale_tokens_sold_total",
			Help: "Total tokens credited by settlements",
		}),
		SettlementCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "presale_settlement_cache_hits_total",
			Help: "Duplicate settlements answered from cache",
		}),

		// Stage metrics
		StageTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_stage_transitions_total",
				Help: "Stage activations and closures",
			},
			[]string{"kind", "reason"},
		),
		ActiveStage: f.NewGauge(prometheus.GaugeOpts{
			Name: "presale_active_stage",
			Help: "Ordinal of the active stage, zero when none",
		}),
		StageTokensSold: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presale_stage_tokens_sold",
				Help: "Tokens sold per stage",
			},
			[]string{"ordinal"},
		),

		// Referral metrics
		ReferralPayouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_referral_payouts_total",
				Help: "Referral payouts by outcome",
			},
			[]string{"outcome"},
		),
		ReferralAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_referral_amount_total",
				Help: "Referral bonus paid per currency",
			},
			[]string{"currency"},
		),

		// Account and deposit metrics
		AccountsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "presale_accounts_created_total",
			Help: "Total number of accounts created",
		}),
		AccountOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_account_operations_total",
				Help: "Total account operations by type",
			},
			[]string{"operation"},
		),
		DepositTransition: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_deposit_transitions_total",
				Help: "Deposit status transitions",
			},
			[]string{"status"},
		),

		// Outbox metrics
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "presale_outbox_published_total",
			Help: "Outbox events published",
		}),
		OutboxErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "presale_outbox_errors_total",
			Help: "Outbox events that failed to publish",
		}),

		// Database metrics
		DBErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_db_errors_total",
				Help: "Total database errors",
			},
			[]string{"operation"},
		),

		// Authentication metrics
		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		// Rate limiting metrics
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"route"},
		),

		// Audit metrics
		AuditLogsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_audit_logs_total",
				Help: "Total audit logs created",
			},
			[]string{"action", "status"},
		),
	}
}
