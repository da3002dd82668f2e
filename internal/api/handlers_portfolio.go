package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/types"
)

// handleGetSnapshot handles GET /api/portfolio/snapshot
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	snapshot, err := s.portfolioService.GetSnapshot(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"snapshot": snapshot})
}

// handleRefresh handles POST /api/portfolio/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	snapshot, err := s.portfolioService.Refresh(r.Context(), userID, r.Header.Get(HeaderUserEmail))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"computedAt": snapshot.ComputedAt,
	})
}

// handleGetHistory handles GET /api/portfolio/history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	history, err := s.portfolioService.GetHistory(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// handleGetWalletSeries handles GET /api/portfolio/wallets/series?assetKey=
func (s *Server) handleGetWalletSeries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var assetKey types.AssetKey
	if raw := strings.TrimSpace(r.URL.Query().Get("assetKey")); raw != "" {
		key, valid := types.ParseAssetKey(raw)
		if !valid {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("assetKey", "must be ALGO or a positive asset id"))
			return
		}
		assetKey = key
	}

	result, err := s.portfolioService.GetWalletSeries(r.Context(), userID, assetKey)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleDailyRefresh handles GET /api/cron/daily-refresh
func (s *Server) handleDailyRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedCron(r) {
		respondServiceError(w, r, apperrors.NewUnauthorizedError("Unauthorized"))
		return
	}

	summary, err := s.portfolioService.RefreshAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"refreshedUsers": summary.RefreshedUsers,
		"failedUsers":    summary.FailedUsers,
	})
}

// authorizedCron requires "Bearer <CRON_SECRET>". An unset secret rejects
// every call.
func (s *Server) authorizedCron(r *http.Request) bool {
	if s.config.CronSecret == "" {
		return false
	}
	expected := "Bearer " + s.config.CronSecret
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) == 1
}
