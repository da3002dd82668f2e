package api

import (
	"net/http"
	"strings"

	apperrors "github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/types"
)

const maxQuoteAssets = 50

// handleGetPrices handles GET /api/prices?assets=ALGO,31566704
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	var keys []types.AssetKey
	seen := make(map[types.AssetKey]bool)
	for _, part := range strings.Split(r.URL.Query().Get("assets"), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, ok := types.ParseAssetKey(part)
		if !ok {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("assets", "unknown asset key "+strings.TrimSpace(part)))
			return
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("assets", "at least one asset is required"))
		return
	}
	if len(keys) > maxQuoteAssets {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("assets", "too many assets"))
		return
	}

	quotes := s.quoteService.GetSpotPriceQuotes(r.Context(), keys)
	respondJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}
