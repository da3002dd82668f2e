package service

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algo-portfolio/internal/types"
)

func buy(ts int64, key types.AssetKey, amount float64, price *float64, fee float64) types.LotEvent {
	return types.LotEvent{TxID: "b", Ts: ts, AssetKey: key, Side: types.SideBuy, Amount: amount, UnitPriceUSD: price, FeeUSD: fee}
}

func sell(ts int64, key types.AssetKey, amount float64, price *float64, fee float64) types.LotEvent {
	return types.LotEvent{TxID: "s", Ts: ts, AssetKey: key, Side: types.SideSell, Amount: amount, UnitPriceUSD: price, FeeUSD: fee}
}

func TestRunFIFO(t *testing.T) {
	p := types.Float64Ptr

	tests := []struct {
		name         string
		events       []types.LotEvent
		key          types.AssetKey
		wantQty      float64
		wantCost     float64
		wantRealized float64
		wantGaps     bool
		wantUnmatch  float64
	}{
		{
			name:     "single buy with fee",
			events:   []types.LotEvent{buy(1, "ALGO", 10, p(2), 0.5)},
			key:      "ALGO",
			wantQty:  10,
			wantCost: 20.5,
		},
		{
			name: "oldest lot drained first",
			events: []types.LotEvent{
				buy(2, "ALGO", 5, p(3), 0),
				buy(1, "ALGO", 5, p(1), 0),
				sell(3, "ALGO", 6, p(4), 0),
			},
			key:          "ALGO",
			wantQty:      4,
			wantCost:     12,
			wantRealized: 24 - (5*1 + 1*3),
		},
		{
			name: "sell fee reduces proceeds",
			events: []types.LotEvent{
				buy(1, "31566704", 100, p(1), 0),
				sell(2, "31566704", 50, p(1.1), 0.01),
			},
			key:          "31566704",
			wantQty:      50,
			wantCost:     50,
			wantRealized: 55 - 0.01 - 50,
		},
		{
			name: "over-sell drops the unmatched remainder",
			events: []types.LotEvent{
				buy(1, "ALGO", 3, p(1), 0),
				sell(2, "ALGO", 5, p(2), 0),
			},
			key:          "ALGO",
			wantQty:      0,
			wantCost:     0,
			wantRealized: 10 - 3,
			wantUnmatch:  2,
		},
		{
			name: "unpriced buy flags a gap",
			events: []types.LotEvent{
				buy(1, "ALGO", 3, nil, 0),
				buy(2, "ALGO", 1, p(2), 0),
			},
			key:      "ALGO",
			wantQty:  1,
			wantCost: 2,
			wantGaps: true,
		},
		{
			name: "unpriced sell leaves lots untouched",
			events: []types.LotEvent{
				buy(1, "ALGO", 3, p(1), 0),
				sell(2, "ALGO", 2, nil, 0),
			},
			key:      "ALGO",
			wantQty:  3,
			wantCost: 3,
			wantGaps: true,
		},
		{
			name: "non-finite total flags a gap",
			events: []types.LotEvent{
				buy(1, "ALGO", 3, p(math.Inf(1)), 0),
			},
			key:      "ALGO",
			wantGaps: true,
		},
		{
			name: "zero and negative amounts are skipped",
			events: []types.LotEvent{
				buy(1, "ALGO", 0, p(1), 0),
				buy(2, "ALGO", -4, p(1), 0),
				buy(3, "ALGO", math.NaN(), p(1), 0),
				buy(4, "ALGO", 2, p(1), 0),
			},
			key:      "ALGO",
			wantQty:  2,
			wantCost: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RunFIFO(tt.events)
			summary, ok := got[tt.key]
			require.True(t, ok, "missing summary for %s", tt.key)

			assert.InDelta(t, tt.wantQty, summary.RemainingQty, 1e-9)
			assert.InDelta(t, tt.wantCost, summary.RemainingCostUSD, 1e-9)
			assert.InDelta(t, tt.wantRealized, summary.RealizedPnlUSD, 1e-9)
			assert.Equal(t, tt.wantGaps, summary.HasPriceGaps)
			assert.InDelta(t, tt.wantUnmatch, summary.UnmatchedSellQty, 1e-9)
		})
	}
}

func TestRunFIFODoesNotReorderInput(t *testing.T) {
	p := types.Float64Ptr
	events := []types.LotEvent{
		buy(5, "ALGO", 1, p(1), 0),
		buy(1, "ALGO", 1, p(1), 0),
	}
	RunFIFO(events)
	assert.Equal(t, int64(5), events[0].Ts)
}

func TestRunFIFORemainingQuantityProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("remaining qty is bought minus sold, never negative", prop.ForAll(
		func(buys []float64, sold float64) bool {
			events := make([]types.LotEvent, 0, len(buys)+1)
			total := 0.0
			for i, amt := range buys {
				events = append(events, buy(int64(i+1), "ALGO", amt, types.Float64Ptr(1), 0))
				total += amt
			}
			events = append(events, sell(int64(len(buys)+1), "ALGO", sold, types.Float64Ptr(1), 0))

			summary := RunFIFO(events)["ALGO"]
			if summary == nil {
				return false
			}
			if summary.RemainingQty < 0 {
				return false
			}
			want := math.Max(total-sold, 0)
			if math.Abs(summary.RemainingQty-want) > 1e-6 {
				return false
			}
			wantUnmatched := math.Max(sold-total, 0)
			return math.Abs(summary.UnmatchedSellQty-wantUnmatched) <= 1e-6
		},
		gen.SliceOf(gen.Float64Range(0.001, 1000)),
		gen.Float64Range(0.001, 5000),
	))

	properties.Property("remaining cost never exceeds total bought cost", prop.ForAll(
		func(amounts []float64, prices []float64) bool {
			n := len(amounts)
			if len(prices) < n {
				n = len(prices)
			}
			events := make([]types.LotEvent, 0, n)
			spent := 0.0
			for i := 0; i < n; i++ {
				events = append(events, buy(int64(i), "1", amounts[i], types.Float64Ptr(prices[i]), 0))
				spent += amounts[i] * prices[i]
			}
			summary, ok := RunFIFO(events)["1"]
			if !ok {
				return n == 0
			}
			return summary.RemainingCostUSD <= spent+1e-6
		},
		gen.SliceOf(gen.Float64Range(0.001, 1000)),
		gen.SliceOf(gen.Float64Range(0, 100)),
	))

	properties.TestingRun(t)
}
