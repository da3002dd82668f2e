package service

import (
	"math"
	"sort"

	"github.com/algo-portfolio/internal/types"
)

// lotDustQty is the quantity under which a lot counts as fully consumed
const lotDustQty = 1e-12

type lot struct {
	qty            float64
	costPerUnitUSD float64
}

type lotBook struct {
	lots    []lot
	summary *types.AssetLotSummary
}

// RunFIFO replays lot events per asset with first-in-first-out matching.
//
// Events without a price, or whose USD totals are not finite, flag the asset
// with HasPriceGaps instead of touching its lots. A sell larger than the open
// lots consumes what is there; the unmatched remainder contributes no cost and
// is reported in UnmatchedSellQty. The input slice is not modified.
func RunFIFO(events []types.LotEvent) map[types.AssetKey]*types.AssetLotSummary {
	ordered := make([]types.LotEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ts < ordered[j].Ts
	})

	books := make(map[types.AssetKey]*lotBook)
	bookFor := func(key types.AssetKey) *lotBook {
		b, ok := books[key]
		if !ok {
			b = &lotBook{summary: &types.AssetLotSummary{AssetKey: key}}
			books[key] = b
		}
		return b
	}

	for _, ev := range ordered {
		if !types.IsFinite(ev.Amount) || ev.Amount <= 0 {
			continue
		}
		key := ev.AssetKey
		if key == "" {
			key = types.NativeAssetKey
		}
		book := bookFor(key)

		if ev.UnitPriceUSD == nil {
			book.summary.HasPriceGaps = true
			continue
		}
		price := *ev.UnitPriceUSD

		switch ev.Side {
		case types.SideBuy:
			total := ev.Amount*price + ev.FeeUSD
			if !types.IsFinite(total) {
				book.summary.HasPriceGaps = true
				continue
			}
			book.lots = append(book.lots, lot{qty: ev.Amount, costPerUnitUSD: total / ev.Amount})

		case types.SideSell:
			remaining := ev.Amount
			disposedCost := 0.0
			for remaining > 0 && len(book.lots) > 0 {
				head := &book.lots[0]
				take := math.Min(remaining, head.qty)
				head.qty -= take
				remaining -= take
				disposedCost += take * head.costPerUnitUSD
				if head.qty <= lotDustQty {
					book.lots = book.lots[1:]
				}
			}
			if remaining > lotDustQty {
				book.summary.UnmatchedSellQty += remaining
			}

			proceeds := ev.Amount*price - ev.FeeUSD
			if !types.IsFinite(proceeds) {
				book.summary.HasPriceGaps = true
				continue
			}
			book.summary.RealizedPnlUSD += proceeds - disposedCost
		}
	}

	out := make(map[types.AssetKey]*types.AssetLotSummary, len(books))
	for key, book := range books {
		for _, l := range book.lots {
			book.summary.RemainingQty += l.qty
			book.summary.RemainingCostUSD += l.qty * l.costPerUnitUSD
		}
		out[key] = book.summary
	}
	return out
}
