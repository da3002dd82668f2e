// Package main provides the scheduled refresh entry point.
// It refreshes every verified portfolio daily at 00:00 UTC, or once with
// the "run" argument.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/algo-portfolio/internal/app"
	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/worker"
)

func main() {
	fmt.Println("Portfolio Refresh Worker")
	log.Println("Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger.WithField("component", "refresh")))
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	refresher, err := worker.NewRefreshWorker(&worker.RefreshWorkerConfig{Refresher: application.Portfolio})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create refresh worker")
	}

	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("Running refresh immediately...")
		if _, err := refresher.RunOnce(ctx); err != nil {
			logger.WithError(err).Fatal("Refresh failed")
		}
		return
	}

	if err := refresher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start refresh scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down refresh worker...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := refresher.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Refresh worker did not stop cleanly")
	}
	status := refresher.GetStatus()
	logger.WithFields(map[string]interface{}{
		"runs":          status.Runs,
		"lastRunAt":     status.LastRunAt,
		"lastRefreshed": status.LastRefreshed,
		"lastFailed":    status.LastFailed,
		"lastError":     status.LastError,
	}).Info("Worker stopped")
}
