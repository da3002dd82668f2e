// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/service"
	"github.com/algo-portfolio/internal/types"
)

// PortfolioServiceInterface defines the portfolio operations the API serves
type PortfolioServiceInterface interface {
	GetSnapshot(ctx context.Context, userID string) (*models.PortfolioSnapshot, error)
	Refresh(ctx context.Context, userID, email string) (*models.PortfolioSnapshot, error)
	RefreshAll(ctx context.Context) (*service.RefreshSummary, error)
	GetHistory(ctx context.Context, userID string) ([]types.HistoryPoint, error)
	GetWalletSeries(ctx context.Context, userID string, assetKey types.AssetKey) (*service.WalletSeriesResult, error)
	Metrics() *service.SnapshotMetrics
}

// WalletServiceInterface defines wallet linking and verification operations
type WalletServiceInterface interface {
	ListWallets(ctx context.Context, userID string) ([]models.LinkedWallet, error)
	LinkWallet(ctx context.Context, userID, address string, label *string) (*models.LinkedWallet, error)
	DeleteWallet(ctx context.Context, userID, walletID string) error
	CreateChallenge(ctx context.Context, userID, walletID string) (*models.VerificationChallenge, error)
	ConfirmChallenge(ctx context.Context, userID, challengeID, signedTxn string) (*models.LinkedWallet, error)
}

// AccountServiceInterface removes a user's stored data
type AccountServiceInterface interface {
	DeleteAccount(ctx context.Context, userID string) error
}

// QuoteServiceInterface resolves spot price quotes
type QuoteServiceInterface interface {
	GetSpotPriceQuotes(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]types.PriceQuote
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router           *mux.Router
	httpServer       *http.Server
	portfolioService PortfolioServiceInterface
	walletService    WalletServiceInterface
	accountService   AccountServiceInterface
	quoteService     QuoteServiceInterface
	limiter          Limiter
	accountLimiter   Limiter
	healthChecks     map[string]HealthCheck
	config           *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CronSecret      string
}

// Dependencies groups the collaborators of a Server. Limiter defaults to an
// in-process limiter of 60 requests per minute and AccountLimiter, which
// guards account deletion, to 30.
type Dependencies struct {
	Portfolio      PortfolioServiceInterface
	Wallets        WalletServiceInterface
	Accounts       AccountServiceInterface
	Quotes         QuoteServiceInterface
	Limiter        Limiter
	AccountLimiter Limiter
	HealthChecks   map[string]HealthCheck
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(time.Minute, 60)
	}
	accountLimiter := deps.AccountLimiter
	if accountLimiter == nil {
		accountLimiter = NewRateLimiter(time.Minute, 30)
	}

	s := &Server{
		router:           mux.NewRouter(),
		portfolioService: deps.Portfolio,
		walletService:    deps.Wallets,
		accountService:   deps.Accounts,
		quoteService:     deps.Quotes,
		limiter:          limiter,
		accountLimiter:   PrefixLimiter("account-delete", accountLimiter),
		healthChecks:     deps.HealthChecks,
		config:           config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Preflight requests only need the CORS headers
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Cron is authenticated by secret and not rate limited
	cron := s.router.PathPrefix("/api/cron").Subrouter()
	cron.HandleFunc("/daily-refresh", s.handleDailyRefresh).Methods(http.MethodGet)

	// Account deletion has its own, stricter budget
	deleteAccount := RateLimitMiddleware(s.accountLimiter)(http.HandlerFunc(s.handleDeleteAccount))
	s.router.Handle("/api/account", deleteAccount).Methods(http.MethodDelete)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(s.limiter))

	api.HandleFunc("/portfolio/snapshot", s.handleGetSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/portfolio/history", s.handleGetHistory).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/wallets/series", s.handleGetWalletSeries).Methods(http.MethodGet)

	api.HandleFunc("/wallets", s.handleListWallets).Methods(http.MethodGet)
	api.HandleFunc("/wallets", s.handleLinkWallet).Methods(http.MethodPost)
	api.HandleFunc("/wallets/verify", s.handleVerifyWallet).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{id}", s.handleDeleteWallet).Methods(http.MethodDelete)
	api.HandleFunc("/wallets/{id}/challenge", s.handleCreateChallenge).Methods(http.MethodPost)

	api.HandleFunc("/prices", s.handleGetPrices).Methods(http.MethodGet)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
