// Package main provides the API server entry point for the portfolio service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/algo-portfolio/internal/api"
	"github.com/algo-portfolio/internal/app"
	"github.com/algo-portfolio/internal/config"
)

func main() {
	fmt.Println("Algorand Portfolio API Server")
	log.Println("Server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)

	if cfg.Refresh.CronSecret == "" {
		logger.Warn("CRON_SECRET is not set, the daily refresh endpoint will reject every call")
	}
	if cfg.Verification.Receiver == "" {
		logger.Warn("ALGORAND_VERIFICATION_RECEIVER is not set, wallet verification is disabled")
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CronSecret:      cfg.Refresh.CronSecret,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Portfolio:      application.Portfolio,
		Wallets:        application.Verification,
		Accounts:       application.Accounts,
		Quotes:         application.Prices,
		Limiter:        application.Limiter(),
		AccountLimiter: application.AccountLimiter(),
		HealthChecks:   application.HealthChecks(),
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
