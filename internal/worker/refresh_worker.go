// Package worker runs the scheduled portfolio refresh.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/service"
)

// Refresher recomputes the snapshots of every user with verified wallets
type Refresher interface {
	RefreshAll(ctx context.Context) (*service.RefreshSummary, error)
}

// RefreshWorkerStatus is a point-in-time view of the worker
type RefreshWorkerStatus struct {
	Running        bool      `json:"running"`
	Runs           int       `json:"runs"`
	LastRunAt      time.Time `json:"lastRunAt,omitempty"`
	LastRefreshed  int       `json:"lastRefreshed"`
	LastFailed     int       `json:"lastFailed"`
	LastError      string    `json:"lastError,omitempty"`
	NextScheduleAt time.Time `json:"nextScheduleAt,omitempty"`
}

// RefreshWorker refreshes all portfolios once a day at 00:00 UTC
type RefreshWorker struct {
	refresher Refresher
	timeout   time.Duration

	mu      sync.RWMutex
	running bool
	status  RefreshWorkerStatus
	stopCh  chan struct{}
	doneCh  chan struct{}

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// RefreshWorkerConfig holds configuration for a refresh worker
type RefreshWorkerConfig struct {
	Refresher Refresher
	// Timeout bounds a single run. Default: 1h.
	Timeout time.Duration
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(cfg *RefreshWorkerConfig) (*RefreshWorker, error) {
	if cfg == nil || cfg.Refresher == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &RefreshWorker{
		refresher: cfg.Refresher,
		timeout:   timeout,
		now:       time.Now,
		after:     time.After,
	}, nil
}

// NextDailyRun returns the first 00:00 UTC strictly after now
func NextDailyRun(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// RunOnce performs a single refresh of every user. Per-user failures are
// counted in the summary and do not fail the run.
func (w *RefreshWorker) RunOnce(ctx context.Context) (*service.RefreshSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	started := w.now()
	logger := logging.FromContext(ctx)
	logger.WithField("date", started.UTC().Format("2006-01-02")).Info("Running daily refresh")

	summary, err := w.refresher.RefreshAll(ctx)

	w.mu.Lock()
	w.status.Runs++
	w.status.LastRunAt = started
	if err != nil {
		w.status.LastError = err.Error()
	} else {
		w.status.LastError = ""
		w.status.LastRefreshed = summary.RefreshedUsers
		w.status.LastFailed = summary.FailedUsers
	}
	w.mu.Unlock()

	if err != nil {
		logger.WithError(err).Error("Daily refresh failed")
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"refreshedUsers": summary.RefreshedUsers,
		"failedUsers":    summary.FailedUsers,
		"durationMs":     w.now().Sub(started).Milliseconds(),
	}).Info("Daily refresh complete")
	return summary, nil
}

// Start launches the scheduling loop
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("refresh worker is already running")
	}
	w.running = true
	w.status.Running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop(ctx)
	return nil
}

// Stop signals the loop and waits for an in-flight run to finish
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is not running")
	}
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.status.Running = false
	w.mu.Unlock()
	return nil
}

func (w *RefreshWorker) loop(ctx context.Context) {
	defer close(w.doneCh)
	logger := logging.FromContext(ctx)

	for {
		next := NextDailyRun(w.now())
		wait := next.Sub(w.now())

		w.mu.Lock()
		w.status.NextScheduleAt = next
		w.mu.Unlock()

		logger.WithFields(map[string]interface{}{
			"nextRun": next.Format(time.RFC3339),
			"wait":    wait.String(),
		}).Info("Waiting for next refresh")

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.after(wait):
			// errors are logged and recorded in the status
			_, _ = w.RunOnce(ctx)
		}
	}
}

// GetStatus returns a copy of the worker status
func (w *RefreshWorker) GetStatus() RefreshWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}
