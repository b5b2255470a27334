package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpAdapter "github.com/iho/presaleledger/internal/adapter/http"
	"github.com/iho/presaleledger/internal/adapter/http/handler"
	"github.com/iho/presaleledger/internal/adapter/http/middleware"
	memoryRepo "github.com/iho/presaleledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/presaleledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/presaleledger/internal/adapter/repository/redis"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/auth"
	"github.com/iho/presaleledger/internal/infrastructure/config"
	"github.com/iho/presaleledger/internal/infrastructure/eventpublisher"
	"github.com/iho/presaleledger/internal/infrastructure/logger"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
	"github.com/iho/presaleledger/internal/infrastructure/postgres"
	"github.com/iho/presaleledger/internal/infrastructure/redis"
	"github.com/iho/presaleledger/internal/infrastructure/referralworker"
	"github.com/iho/presaleledger/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := newLogger(cfg)
	log.Logger = l

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}).With().Str("service", "presaleledger").Logger()
}

// policyFromConfig builds the presale business parameters.
func policyFromConfig(cfg *config.Config) (usecase.Policy, error) {
	bonus, err := cfg.BonusPercent()
	if err != nil {
		return usecase.Policy{}, err
	}
	capPerStage, err := cfg.ReferralCap()
	if err != nil {
		return usecase.Policy{}, err
	}

	policy := usecase.Policy{
		TokenSymbol: cfg.TokenSymbol,
		Currencies: domain.CurrencyPolicy{
			Fiat:   cfg.ReferenceCurrency,
			Stable: cfg.StableCurrencies,
		},
		FiatScale:            cfg.FiatScale,
		ReferralBonusPercent: bonus,
		ReferralCapPerStage:  capPerStage,
	}
	if policy.TokenSymbol == "" {
		policy.TokenSymbol = domain.DefaultTokenSymbol
	}
	return policy, nil
}

// repositories is the storage backend selected by STORAGE_DRIVER.
type repositories struct {
	txManager usecase.TransactionManager
	accounts  usecase.AccountRepository
	stages    usecase.StageRepository
	deposits  usecase.DepositRepository
	entries   usecase.EntryRepository
	referrals usecase.ReferralRepository
	outbox    usecase.OutboxRepository
	audit     usecase.AuditRepository
	checks    []handler.Check
	close     func()
}

func newMemoryRepositories() *repositories {
	store := memoryRepo.NewStore()
	return &repositories{
		txManager: memoryRepo.NewTxManager(store),
		accounts:  memoryRepo.NewAccountRepository(store),
		stages:    memoryRepo.NewStageRepository(store),
		deposits:  memoryRepo.NewDepositRepository(store),
		entries:   memoryRepo.NewEntryRepository(store),
		referrals: memoryRepo.NewReferralRepository(store),
		outbox:    memoryRepo.NewOutboxRepository(store),
		audit:     memoryRepo.NewAuditRepository(store),
		close:     func() {},
	}
}

func newPostgresRepositories(ctx context.Context, cfg *config.Config, l zerolog.Logger) (*repositories, error) {
	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, l).Up(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return nil, err
	}
	l.Info().Msg("connected to postgres")

	return &repositories{
		txManager: postgresRepo.NewTxManager(pool),
		accounts:  postgresRepo.NewAccountRepository(pool),
		stages:    postgresRepo.NewStageRepository(pool),
		deposits:  postgresRepo.NewDepositRepository(pool),
		entries:   postgresRepo.NewEntryRepository(pool),
		referrals: postgresRepo.NewReferralRepository(pool),
		outbox:    postgresRepo.NewOutboxRepository(pool),
		audit:     postgresRepo.NewAuditRepository(pool),
		checks:    []handler.Check{{Name: "postgres", Ping: pingPool(pool)}},
		close:     pool.Close,
	}, nil
}

func pingPool(pool *pgxpool.Pool) func(context.Context) error {
	return pool.Ping
}

func pingRedis(client *goredis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// app is the wired service: the HTTP handler plus its background loops.
type app struct {
	router      http.Handler
	publisher   *eventpublisher.EventPublisher
	referrals   *referralworker.Worker
	rateLimiter *middleware.RateLimiter
}

func newApp(cfg *config.Config, l zerolog.Logger, repos *repositories, redisClient *goredis.Client, reg *prometheus.Registry) (*app, error) {
	policy, err := policyFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	idGen := postgresRepo.NewULIDGenerator()
	retrier := postgresRepo.NewRetrier(cfg.SettlementMaxRetries, l)

	var (
		cache            usecase.SettlementCache
		idempotencyStore usecase.IdempotencyStore
		sink             eventpublisher.Publisher = eventpublisher.NewLogPublisher(l)
	)
	checks := repos.checks
	if redisClient != nil {
		cache = redisRepo.NewSettlementCache(redisClient)
		idempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
		sink = eventpublisher.NewStreamPublisher(redisClient, cfg.OutboxStream, cfg.OutboxStreamMaxLen)
		checks = append(checks, handler.Check{Name: "redis", Ping: pingRedis(redisClient)})
	}

	accountUC := usecase.NewAccountUseCase(repos.txManager, repos.accounts, repos.outbox, repos.audit, idGen, m)
	stageUC := usecase.NewStageUseCase(repos.txManager, repos.stages, repos.outbox, repos.audit, idGen, m)
	depositUC := usecase.NewDepositUseCase(repos.txManager, repos.accounts, repos.deposits, repos.outbox, repos.audit, idGen, m, policy)
	settlementUC := usecase.NewSettlementUseCase(usecase.SettlementDeps{
		TxManager:   repos.txManager,
		AccountRepo: repos.accounts,
		StageRepo:   repos.stages,
		DepositRepo: repos.deposits,
		EntryRepo:   repos.entries,
		OutboxRepo:  repos.outbox,
		AuditRepo:   repos.audit,
		IDGen:       idGen,
		Retrier:     retrier,
		Cache:       cache,
		CacheTTL:    cfg.SettlementCacheTTL,
		Metrics:     m,
	}, policy)
	referralUC := usecase.NewReferralUseCase(repos.txManager, repos.accounts, repos.deposits, repos.entries,
		repos.referrals, repos.outbox, repos.audit, idGen, retrier, m, policy)
	entryUC := usecase.NewEntryUseCase(repos.entries)
	reconciliationUC := usecase.NewReconciliationUseCase(repos.accounts, repos.entries, repos.stages, policy)

	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	}
	routerJWT := jwtManager
	if !cfg.AuthEnabled {
		routerJWT = nil
	}

	rateLimiter := middleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst, "webhook", m)
	if len(cfg.WebhookSecrets) == 0 {
		l.Warn().Msg("no WEBHOOK_SECRETS configured, provider callbacks will be rejected")
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		AccountHandler:     handler.NewAccountHandler(accountUC),
		EntryHandler:       handler.NewEntryHandler(entryUC),
		DepositHandler:     handler.NewDepositHandler(depositUC),
		StageHandler:       handler.NewStageHandler(stageUC),
		SettlementHandler:  handler.NewSettlementHandler(settlementUC, depositUC),
		ReferralHandler:    handler.NewReferralHandler(referralUC),
		LedgerHandler:      handler.NewLedgerHandler(reconciliationUC),
		HealthHandler:      handler.NewHealthHandler(checks...),
		AuthHandler:        authHandler(jwtManager),
		Logger:             l,
		IdempotencyStore:   idempotencyStore,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		JWTManager:         routerJWT,
		WebhookSecrets:     cfg.WebhookSecrets,
		WebhookRateLimiter: rateLimiter,
		HTTPMetrics:        middleware.NewHTTPMetrics(reg),
		Metrics:            m,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	return &app{
		router: router,
		publisher: eventpublisher.NewEventPublisher(eventpublisher.Config{
			OutboxRepo: repos.outbox,
			Publisher:  sink,
			Logger:     l,
			Metrics:    m,
			BatchSize:  cfg.OutboxBatchSize,
			Interval:   cfg.OutboxPollInterval,
			Retention:  cfg.OutboxRetention,
		}),
		referrals: referralworker.New(referralworker.Config{
			Processor: referralUC,
			Logger:    l,
			BatchSize: cfg.ReferralBatchSize,
			Interval:  cfg.ReferralSweepInterval,
		}),
		rateLimiter: rateLimiter,
	}, nil
}

func authHandler(jwtManager *auth.JWTManager) *handler.AuthHandler {
	if jwtManager == nil {
		return nil
	}
	return handler.NewAuthHandler(jwtManager)
}

// startBackground runs the outbox publisher, the referral sweep and the
// rate limiter cleanup until ctx is done.
func (a *app) startBackground(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.publisher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.referrals.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.rateLimiter.RunCleanup(ctx, time.Minute, 10*time.Minute)
	}()
	return &wg
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	var (
		repos *repositories
		err   error
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		l.Warn().Msg("using in-memory storage, state is lost on restart")
		repos = newMemoryRepositories()
	default:
		repos, err = newPostgresRepositories(ctx, cfg, l)
		if err != nil {
			return err
		}
	}
	defer repos.close()

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		l.Info().Msg("connected to redis")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, l, repos, redisClient, reg)
	if err != nil {
		return err
	}

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	wg := a.startBackground(bgCtx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      a.router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancelBackground()
			wg.Wait()
			return err
		}
	}

	l.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	// Stop the loops only after in-flight requests have written their outbox rows.
	cancelBackground()
	wg.Wait()

	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	l.Info().Msg("server stopped")
	return nil
}
