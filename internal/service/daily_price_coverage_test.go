package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

func dailyRow(day string, price *float64) models.DailyPrice {
	return models.DailyPrice{AssetKey: "ALGO", DayKey: day, PriceUSD: price}
}

func TestCalculateDailyCoverage(t *testing.T) {
	p := types.Float64Ptr
	scoped := []LatestAssetState{{AssetKey: "ALGO", Balance: 10}}
	rows := []models.DailyPrice{
		dailyRow("2026-02-01", p(0.2)),
		dailyRow("2026-02-02", nil),
		dailyRow("2026-02-03", p(0.3)),
		{AssetKey: "999", DayKey: "2026-02-01", PriceUSD: nil},
	}

	assert.InDelta(t, 2.0/3.0, CalculateDailyCoverage(rows, scoped), 1e-9)
	assert.Zero(t, CalculateDailyCoverage(nil, scoped))
	assert.Zero(t, CalculateDailyCoverage(rows, []LatestAssetState{{AssetKey: "ALGO", Balance: 0}}))
}

func TestChooseBestDailyPrices(t *testing.T) {
	p := types.Float64Ptr
	scoped := []LatestAssetState{{AssetKey: "ALGO", Balance: 10}}

	t.Run("fresh rows replace poorly covered stored rows", func(t *testing.T) {
		stored := []models.DailyPrice{
			dailyRow("2026-02-01", p(0.2)),
			dailyRow("2026-02-02", nil),
			dailyRow("2026-02-03", nil),
		}
		fresh := []models.DailyPrice{
			dailyRow("2026-02-01", p(0.21)),
			dailyRow("2026-02-02", p(0.22)),
			dailyRow("2026-02-03", p(0.23)),
		}
		assert.Equal(t, fresh, ChooseBestDailyPrices(stored, fresh, scoped))
	})

	t.Run("fresh gaps keep stored prices", func(t *testing.T) {
		stored := []models.DailyPrice{
			dailyRow("2026-02-01", p(0.2)),
			dailyRow("2026-02-02", p(0.201)),
			dailyRow("2026-02-03", p(0.199)),
		}
		fresh := []models.DailyPrice{
			dailyRow("2026-02-01", nil),
			dailyRow("2026-02-02", p(0.202)),
			dailyRow("2026-02-03", nil),
		}
		assert.Equal(t, []models.DailyPrice{
			dailyRow("2026-02-01", p(0.2)),
			dailyRow("2026-02-02", p(0.202)),
			dailyRow("2026-02-03", p(0.199)),
		}, ChooseBestDailyPrices(stored, fresh, scoped))
	})

	t.Run("no fresh rows", func(t *testing.T) {
		stored := []models.DailyPrice{dailyRow("2026-02-01", p(0.2))}
		assert.Equal(t, stored, ChooseBestDailyPrices(stored, nil, scoped))
	})
}

func TestMergeDailyPrices(t *testing.T) {
	p := types.Float64Ptr
	stored := []models.DailyPrice{
		dailyRow("2026-02-01", p(0.2)),
		dailyRow("2026-02-02", nil),
		{AssetKey: "31566704", DayKey: "2026-02-01", PriceUSD: p(1)},
	}
	fresh := []models.DailyPrice{
		dailyRow("2026-02-02", p(0.22)),
		dailyRow("2026-02-03", p(0.23)),
	}

	assert.Equal(t, []models.DailyPrice{
		{AssetKey: "31566704", DayKey: "2026-02-01", PriceUSD: p(1)},
		dailyRow("2026-02-01", p(0.2)),
		dailyRow("2026-02-02", p(0.22)),
		dailyRow("2026-02-03", p(0.23)),
	}, MergeDailyPrices(stored, fresh))
}

func TestIsFinitePrice(t *testing.T) {
	p := types.Float64Ptr
	assert.True(t, IsFinitePrice(p(0)))
	assert.False(t, IsFinitePrice(nil))
	assert.False(t, IsFinitePrice(p(-1)))
}
