// Package app wires configuration, storage and services into the runtime
// graph shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/api"
	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/pricing"
	"github.com/algo-portfolio/internal/ratelimit"
	"github.com/algo-portfolio/internal/service"
	"github.com/algo-portfolio/internal/storage"
)

// App holds the connections and services of one process
type App struct {
	Config *config.Config

	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB

	Indexer      *adapter.IndexerClient
	Algod        *adapter.AlgodClient
	Prices       *pricing.Service
	Snapshots    *service.SnapshotService
	Portfolio    *service.PortfolioService
	Verification *service.VerificationService
	Accounts     *service.AccountService
}

// InitLogging configures the global logger from config
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")
	return logger
}

// NewLedgerOnly builds the indexer and price layers without any database,
// for commands that compute snapshots directly.
func NewLedgerOnly(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.initLedger(); err != nil {
		return nil, err
	}
	a.initPricing(pricing.NewMemoryCache())
	a.Snapshots = service.NewSnapshotService(a.Indexer, a.Prices, service.NewDefaultDefiRegistry(cfg.Defi, a.Indexer, a.Prices))
	return a, nil
}

// New connects every configured backend and builds the services. Postgres
// is required; Redis and ClickHouse are optional.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)
	a := &App{Config: cfg}

	logger.Info("Connecting to databases...")
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.Postgres = postgres

	if redis, err := storage.NewRedisCache(&cfg.Database.Redis); err != nil {
		logger.WithError(err).Warn("Redis unavailable, continuing without cache")
	} else {
		a.Redis = redis
	}

	if cfg.Database.ClickHouse.Enabled {
		if ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse); err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, history will use transaction prices only")
		} else {
			a.ClickHouse = ch
		}
	}
	logger.Info("Database connections established")

	if err := a.initLedger(); err != nil {
		a.Close()
		return nil, err
	}

	var priceCache pricing.Cache = pricing.NewMemoryCache()
	if cfg.Price.CacheBackend == "redis" {
		if a.Redis != nil {
			priceCache = storage.NewRedisPriceCache(a.Redis, storage.DefaultPriceCacheTTL)
		} else {
			logger.Warn("PRICE_CACHE_BACKEND=redis but Redis is unavailable, using memory cache")
		}
	}
	a.initPricing(priceCache)

	defi := service.NewDefaultDefiRegistry(cfg.Defi, a.Indexer, a.Prices)
	a.Snapshots = service.NewSnapshotService(a.Indexer, a.Prices, defi)

	pool := postgres.Pool()
	snapshotRepo := storage.NewSnapshotRepository(pool)
	walletRepo := storage.NewWalletRepository(pool)
	challengeRepo := storage.NewChallengeRepository(pool)
	auditRepo := storage.NewAuditRepository(pool)

	var snapshots service.SnapshotStore = snapshotRepo
	if a.Redis != nil {
		snapshots = storage.NewCachedSnapshotStore(snapshotRepo, a.Redis, storage.DefaultSnapshotCacheTTL)
	}

	deps := service.PortfolioServiceDeps{
		Snapshots: snapshots,
		Wallets:   walletRepo,
		Audit:     auditRepo,
		Computer:  a.Snapshots,
		Assets:    a.Indexer,
		Prices:    a.Prices,
		Metrics:   service.NewSnapshotMetrics(),
	}
	if a.ClickHouse != nil {
		deps.Daily = storage.NewDailyPriceRepository(a.ClickHouse)
	}
	a.Portfolio = service.NewPortfolioService(deps, cfg.Refresh)

	var submitter adapter.TransactionSubmitter
	if cfg.Algod.URL != "" {
		algod, err := adapter.NewAlgodClient(cfg.Algod.URL, cfg.Algod.Token)
		if err != nil {
			logger.WithError(err).Warn("Algod client unavailable, signed verification will only search the ledger")
		} else {
			a.Algod = algod
			submitter = algod
		}
	}
	a.Verification = service.NewVerificationService(a.Indexer, submitter, walletRepo, challengeRepo, snapshots, auditRepo, cfg.Verification)
	a.Accounts = service.NewAccountService(walletRepo, challengeRepo, snapshots, auditRepo)

	logger.Info("Services initialized")
	return a, nil
}

func (a *App) initLedger() error {
	cfg := a.Config.Indexer
	indexer, err := adapter.NewIndexerClient(adapter.IndexerConfig{
		URL:         cfg.URL,
		FallbackURL: cfg.FallbackURL,
		Token:       cfg.Token,
		TxLimit:     cfg.TxLimit,
		RPS:         cfg.RPS,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return err
	}
	a.Indexer = indexer
	return nil
}

func (a *App) initPricing(cache pricing.Cache) {
	cfg := a.Config.Price
	ids := pricing.NewIDMap(cfg.AssetIDMap)
	history := adapter.NewCoinGeckoHistoryClient(cfg.CoinGeckoURL, cfg.CoinGeckoKey, cfg.RequestTimeout)
	a.Prices = pricing.NewService(pricing.NewDefaultResolvers(cfg, ids), ids, cache, history)
}

// Limiter returns the public API limiter: shared through Redis when it is
// connected, otherwise per process.
func (a *App) Limiter() api.Limiter {
	return a.newLimiter("public", a.Config.RateLimit.MaxRequests)
}

// AccountLimiter guards account deletion with half the public budget. The
// server namespaces its keys, so it may share Redis with Limiter.
func (a *App) AccountLimiter() api.Limiter {
	limit := a.Config.RateLimit.MaxRequests / 2
	if limit < 1 {
		limit = 1
	}
	return a.newLimiter("account-delete", limit)
}

func (a *App) newLimiter(scope string, maxRequests int) api.Limiter {
	window := a.Config.RateLimit.Window
	if a.Redis != nil {
		limiter, err := ratelimit.NewWindowLimiter(&ratelimit.WindowLimiterConfig{
			Redis:       a.Redis.Client(),
			Window:      window,
			MaxRequests: maxRequests,
		})
		if err == nil {
			return limiter
		}
		logging.WithError(err).WithField("scope", scope).Warn("Falling back to in-process rate limiter")
	}
	return api.NewRateLimiter(window, maxRequests)
}

// HealthChecks lists a check per connected dependency
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if a.Postgres != nil {
		checks["postgres"] = a.Postgres.Ping
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}
	if a.ClickHouse != nil {
		checks["clickhouse"] = a.ClickHouse.Ping
	}
	if a.Algod != nil {
		checks["algod"] = a.Algod.Ping
	}
	if a.Indexer != nil {
		checks["indexer"] = func(ctx context.Context) error {
			if health := a.Indexer.Health(); !health.IsHealthy {
				return fmt.Errorf("indexer unhealthy: %d consecutive failures", health.ConsecutiveFails)
			}
			return nil
		}
	}
	return checks
}

// Close releases every open connection
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			logging.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logging.WithError(err).Warn("Error closing Redis connection")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
