package service

import (
	"sort"

	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// IsFinitePrice reports whether p is a usable price
func IsFinitePrice(p *float64) bool {
	return p != nil && types.IsFinite(*p) && *p >= 0
}

// ChooseBestDailyPrices picks the daily price rows that drive the history
// chart. Fresh rows win over stored ones wherever they carry a price.
func ChooseBestDailyPrices(stored, fresh []models.DailyPrice, scoped []LatestAssetState) []models.DailyPrice {
	if len(fresh) == 0 {
		return stored
	}
	if merged := MergeDailyPrices(stored, fresh); len(merged) > 0 {
		return merged
	}

	storedCoverage := CalculateDailyCoverage(stored, scoped)
	freshCoverage := CalculateDailyCoverage(fresh, scoped)
	if freshCoverage >= storedCoverage+0.1 || storedCoverage < 0.6 {
		return fresh
	}
	if len(stored) > 0 {
		return stored
	}
	return fresh
}

// MergeDailyPrices merges rows by (asset, day). A fresh row replaces a stored
// one when it has a price or the stored one has none. The result is sorted by
// asset then day.
func MergeDailyPrices(stored, fresh []models.DailyPrice) []models.DailyPrice {
	merged := make(map[string]models.DailyPrice, len(stored)+len(fresh))
	for _, row := range stored {
		merged[row.AssetKey+":"+row.DayKey] = row
	}
	for _, row := range fresh {
		key := row.AssetKey + ":" + row.DayKey
		prev, ok := merged[key]
		if !ok || IsFinitePrice(row.PriceUSD) || !IsFinitePrice(prev.PriceUSD) {
			merged[key] = row
		}
	}

	out := make([]models.DailyPrice, 0, len(merged))
	for _, row := range merged {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetKey != out[j].AssetKey {
			return out[i].AssetKey < out[j].AssetKey
		}
		return out[i].DayKey < out[j].DayKey
	})
	return out
}

// CalculateDailyCoverage is the share of rows for held assets that carry a price
func CalculateDailyCoverage(rows []models.DailyPrice, scoped []LatestAssetState) float64 {
	if len(rows) == 0 {
		return 0
	}
	heldAssets := make(map[string]bool)
	for _, a := range scoped {
		if a.AssetKey != "" && a.Balance > 0 {
			heldAssets[string(a.AssetKey)] = true
		}
	}
	if len(heldAssets) == 0 {
		return 0
	}

	var populated, total int
	for _, row := range rows {
		if !heldAssets[row.AssetKey] {
			continue
		}
		total++
		if IsFinitePrice(row.PriceUSD) {
			populated++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(populated) / float64(total)
}
