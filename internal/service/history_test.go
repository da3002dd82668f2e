package service

import (
	"testing"
	"time"

	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

func historyTx(ts int64, key types.AssetKey, amount float64, dir types.Direction, price *float64, fee float64) HistoryTransaction {
	return HistoryTransaction{Ts: ts, AssetKey: key, Amount: amount, Direction: dir, UnitPriceUSD: price, FeeAlgo: fee}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return ts
}

func TestHistoryForwardReplay(t *testing.T) {
	p := types.Float64Ptr
	latest := mustTime(t, "2025-02-17T08:00:00.000Z")

	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions: []HistoryTransaction{
			historyTx(1739606400, "ALGO", 10, types.DirectionIn, p(0.2), 0),
			historyTx(1739692800, "ALGO", 2, types.DirectionOut, p(0.3), 0.001),
		},
		LatestValueUSD: p(2.41),
		LatestTS:       latest,
	})

	if len(history) != 3 {
		t.Fatalf("expected 3 points, got %d", len(history))
	}
	if !approxEqual(history[0].ValueUSD, 2.0) {
		t.Errorf("expected 2.0, got %f", history[0].ValueUSD)
	}
	if !approxEqual(history[1].ValueUSD, 2.3997) {
		t.Errorf("expected 2.3997, got %f", history[1].ValueUSD)
	}
	if !history[2].TS.Equal(latest) || history[2].ValueUSD != 2.41 {
		t.Errorf("expected latest point, got %+v", history[2])
	}
}

func TestHistoryIgnoresInvalidTransactions(t *testing.T) {
	p := types.Float64Ptr
	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions: []HistoryTransaction{
			historyTx(0, "ALGO", 1, types.DirectionIn, p(0.1), 0),
			historyTx(1739606400, "ALGO", -3, types.DirectionIn, p(0.1), 0),
			historyTx(1739606400, "ALGO", 1, types.DirectionIn, p(0.1), 0),
		},
	})

	if len(history) != 1 {
		t.Fatalf("expected 1 point, got %d", len(history))
	}
	if !approxEqual(history[0].ValueUSD, 0.1) {
		t.Errorf("expected 0.1, got %f", history[0].ValueUSD)
	}
}

func TestHistoryWithoutTransactionsOrAnchor(t *testing.T) {
	history := BuildPortfolioHistoryFromTransactions(HistoryInput{})
	if len(history) != 0 {
		t.Errorf("expected no points, got %d", len(history))
	}
}

func TestHistoryAnchoredToLatestBalances(t *testing.T) {
	p := types.Float64Ptr
	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions: []HistoryTransaction{
			historyTx(1738022400, "ALGO", 25000, types.DirectionOut, p(0.12), 0),
			historyTx(1738022400, "2537013734", 23491.03, types.DirectionIn, p(0.09), 0),
		},
		LatestValueUSD: p(2189.38),
		LatestTS:       mustTime(t, "2026-02-18T11:57:26.000Z"),
		LatestAssets: []LatestAssetState{
			{AssetKey: "ALGO", Balance: 4.68, PriceUSD: p(0.09)},
			{AssetKey: "2537013734", Balance: 23491.03, PriceUSD: p(0.09)},
		},
	})

	if len(history) == 0 {
		t.Fatal("expected points")
	}
	last := history[len(history)-1]
	if !approxEqual(last.ValueUSD, 2189.38) {
		t.Errorf("expected the last point to equal the anchor, got %f", last.ValueUSD)
	}
	if history[0].ValueUSD <= 0 || history[0].ValueUSD >= 10000 {
		t.Errorf("expected a bounded first point, got %f", history[0].ValueUSD)
	}
	for i := 1; i < len(history); i++ {
		if !history[i-1].TS.Before(history[i].TS) {
			t.Fatalf("points not strictly ascending at %d", i)
		}
	}
}

func TestHistorySameTimestampDoesNotOverrideAnchor(t *testing.T) {
	p := types.Float64Ptr
	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions: []HistoryTransaction{
			historyTx(1739870400, "ALGO", 0, types.DirectionSelf, p(0.09), 0.001),
		},
		LatestValueUSD: p(2188.2),
		LatestTS:       mustTime(t, "2025-02-18T00:00:00.000Z"),
		LatestAssets:   []LatestAssetState{{AssetKey: "ALGO", Balance: 4.68, PriceUSD: p(0.09)}},
	})

	if len(history) != 1 {
		t.Fatalf("expected 1 point, got %d", len(history))
	}
	if !approxEqual(history[0].ValueUSD, 2188.2) {
		t.Errorf("expected 2188.2, got %f", history[0].ValueUSD)
	}
}

func TestHistoryAnchoredPointsAreDayEnds(t *testing.T) {
	p := types.Float64Ptr
	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions: []HistoryTransaction{
			historyTx(1738020000, "ALGO", 10, types.DirectionIn, p(0.1), 0),
			historyTx(1738106400, "ALGO", 5, types.DirectionOut, p(0.2), 0),
		},
		LatestValueUSD: p(1),
		LatestTS:       mustTime(t, "2025-01-29T23:30:00.000Z"),
		LatestAssets:   []LatestAssetState{{AssetKey: "ALGO", Balance: 5, PriceUSD: p(0.2)}},
	})

	if len(history) < 2 {
		t.Fatalf("expected at least 2 points, got %d", len(history))
	}
	for _, point := range history {
		h, m, s := point.TS.Clock()
		if h != 23 || m != 59 || s != 59 || point.TS.Nanosecond() != 999_000_000 {
			t.Errorf("expected a day-end timestamp, got %s", point.TS.Format(time.RFC3339Nano))
		}
	}
	// 2025-01-27 closes with 10 ALGO priced at the day's transaction price.
	if !approxEqual(history[0].ValueUSD, 1.0) {
		t.Errorf("expected first day value 1.0, got %f", history[0].ValueUSD)
	}
}

func TestHistoryPrefersStoredDailyPrices(t *testing.T) {
	p := types.Float64Ptr
	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions: []HistoryTransaction{
			historyTx(1738065600, "ALGO", 10, types.DirectionIn, p(0.1), 0),
		},
		LatestValueUSD: p(3),
		LatestTS:       mustTime(t, "2025-01-29T12:00:00.000Z"),
		LatestAssets:   []LatestAssetState{{AssetKey: "ALGO", Balance: 10, PriceUSD: p(0.3)}},
		DailyPrices: []models.DailyPrice{
			{AssetKey: "ALGO", DayKey: "2025-01-28", PriceUSD: p(0.25)},
			{AssetKey: "ALGO", DayKey: "2025-01-29", PriceUSD: nil},
		},
	})

	if len(history) != 2 {
		t.Fatalf("expected 2 points, got %d", len(history))
	}
	if !approxEqual(history[0].ValueUSD, 2.5) {
		t.Errorf("expected 10 x 0.25, got %f", history[0].ValueUSD)
	}
	if history[1].ValueUSD != 3 {
		t.Errorf("expected the anchor value, got %f", history[1].ValueUSD)
	}
}

func TestResolvePriceSeriesFills(t *testing.T) {
	days := []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04"}
	explicit := map[string]float64{"ALGO:2025-01-02": 0.2}
	fromTx := map[string]float64{"ALGO:2025-01-04": 0.4}
	spot := map[types.AssetKey]float64{"ALGO": 0.9, "777": 1.5}

	got := resolvePriceSeries(days, []types.AssetKey{"ALGO", "777", "888"}, explicit, fromTx, spot)

	want := map[string]float64{
		"ALGO:2025-01-01": 0.2, // backward fill
		"ALGO:2025-01-02": 0.2,
		"ALGO:2025-01-03": 0.2, // forward fill
		"ALGO:2025-01-04": 0.4,
		"777:2025-01-01":  1.5, // spot
		"888:2025-01-03":  0,
	}
	for key, price := range want {
		if got[key] != price {
			t.Errorf("%s: expected %f, got %f", key, price, got[key])
		}
	}
}
