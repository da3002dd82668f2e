package service

import (
	"math"
	"sort"
	"time"

	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// AnalyticsTx is a balance movement attributed to one wallet
type AnalyticsTx struct {
	Ts           int64           `json:"ts"`
	Wallet       string          `json:"wallet"`
	AssetKey     types.AssetKey  `json:"assetKey"`
	Amount       float64         `json:"amount"`
	Direction    types.Direction `json:"direction"`
	UnitPriceUSD *float64        `json:"unitPriceUsd"`
	FeeAlgo      float64         `json:"feeAlgo"`
}

// SeriesPoint is one point of a chart series
type SeriesPoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// WalletSeries is a labelled series, usually one per wallet
type WalletSeries struct {
	Key    string        `json:"key"`
	Label  string        `json:"label"`
	Points []SeriesPoint `json:"points"`
}

// AlignedValues is a series sampled at shared timestamps
type AlignedValues struct {
	Key    string    `json:"key"`
	Label  string    `json:"label"`
	Values []float64 `json:"values"`
}

// AlignedSeries is a set of series over a common time axis
type AlignedSeries struct {
	Timestamps []time.Time     `json:"timestamps"`
	Series     []AlignedValues `json:"series"`
}

// AnalyticsTxsFromRows converts snapshot transaction rows into per-wallet movements
func AnalyticsTxsFromRows(rows []models.TransactionRow) []AnalyticsTx {
	out := make([]AnalyticsTx, 0, len(rows))
	for _, row := range rows {
		out = append(out, AnalyticsTx{
			Ts:           row.Ts,
			Wallet:       row.Wallet,
			AssetKey:     row.AssetKey,
			Amount:       row.Amount,
			Direction:    row.Direction,
			UnitPriceUSD: row.UnitPriceUSD,
			FeeAlgo:      row.FeeAlgo,
		})
	}
	return out
}

func validAnalyticsTxs(txs []AnalyticsTx, wallets []string) []AnalyticsTx {
	allowed := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		allowed[w] = true
	}
	out := make([]AnalyticsTx, 0, len(txs))
	for _, tx := range txs {
		if !allowed[tx.Wallet] || tx.Ts <= 0 || !types.IsFinite(tx.Amount) || tx.Amount < 0 {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out
}

func appendLatestPoint(points []SeriesPoint, latestTS time.Time, latest float64, ok bool) []SeriesPoint {
	if latestTS.IsZero() || !ok || !types.IsFinite(latest) {
		return points
	}
	return append(points, SeriesPoint{TS: latestTS.UTC(), Value: latest})
}

// BuildPerWalletValueSeries replays each wallet's movements with the last
// seen price per asset and appends the latest known value of each wallet
func BuildPerWalletValueSeries(txs []AnalyticsTx, wallets []string, latestValueByWallet map[string]float64, latestTS time.Time) []WalletSeries {
	balances := make(map[string]map[types.AssetKey]float64, len(wallets))
	prices := make(map[string]map[types.AssetKey]float64, len(wallets))
	points := make(map[string][]SeriesPoint, len(wallets))
	for _, w := range wallets {
		balances[w] = make(map[types.AssetKey]float64)
		prices[w] = make(map[types.AssetKey]float64)
	}

	for _, tx := range validAnalyticsTxs(txs, wallets) {
		bal, px := balances[tx.Wallet], prices[tx.Wallet]
		if finitePtr(tx.UnitPriceUSD) && *tx.UnitPriceUSD >= 0 {
			px[tx.AssetKey] = *tx.UnitPriceUSD
		}
		switch tx.Direction {
		case types.DirectionIn:
			bal[tx.AssetKey] = math.Max(0, bal[tx.AssetKey]+tx.Amount)
		case types.DirectionOut:
			bal[tx.AssetKey] = math.Max(0, bal[tx.AssetKey]-tx.Amount)
		}
		if types.IsFinite(tx.FeeAlgo) && tx.FeeAlgo > 0 {
			bal[types.NativeAssetKey] = math.Max(0, bal[types.NativeAssetKey]-tx.FeeAlgo)
		}

		var total float64
		for key, qty := range bal {
			if p, ok := px[key]; ok && types.IsFinite(qty) && qty > 0 {
				total += qty * p
			}
		}
		points[tx.Wallet] = append(points[tx.Wallet], SeriesPoint{TS: time.Unix(tx.Ts, 0).UTC(), Value: total})
	}

	out := make([]WalletSeries, 0, len(wallets))
	for _, w := range wallets {
		latest, ok := latestValueByWallet[w]
		out = append(out, WalletSeries{Key: w, Label: w, Points: appendLatestPoint(points[w], latestTS, latest, ok)})
	}
	return out
}

// BuildPerWalletAssetBalanceSeries tracks the balance of one asset per
// wallet. Fees reduce the ALGO balance.
func BuildPerWalletAssetBalanceSeries(txs []AnalyticsTx, wallets []string, assetKey types.AssetKey, latestBalanceByWallet map[string]float64, latestTS time.Time) []WalletSeries {
	balances := make(map[string]float64, len(wallets))
	points := make(map[string][]SeriesPoint, len(wallets))

	for _, tx := range validAnalyticsTxs(txs, wallets) {
		var delta float64
		if tx.AssetKey == assetKey {
			switch tx.Direction {
			case types.DirectionIn:
				delta += tx.Amount
			case types.DirectionOut:
				delta -= tx.Amount
			}
		}
		if assetKey.IsNative() && types.IsFinite(tx.FeeAlgo) && tx.FeeAlgo > 0 {
			delta -= tx.FeeAlgo
		}
		if delta == 0 {
			continue
		}
		next := math.Max(0, balances[tx.Wallet]+delta)
		balances[tx.Wallet] = next
		points[tx.Wallet] = append(points[tx.Wallet], SeriesPoint{TS: time.Unix(tx.Ts, 0).UTC(), Value: next})
	}

	out := make([]WalletSeries, 0, len(wallets))
	for _, w := range wallets {
		latest, ok := latestBalanceByWallet[w]
		out = append(out, WalletSeries{Key: w, Label: w, Points: appendLatestPoint(points[w], latestTS, latest, ok)})
	}
	return out
}

// NormalizeSeriesToUTCDailyClose keeps the last point of each UTC day
func NormalizeSeriesToUTCDailyClose(series []WalletSeries) []WalletSeries {
	out := make([]WalletSeries, len(series))
	for i, s := range series {
		out[i] = s
		if len(s.Points) <= 1 {
			continue
		}
		byDay := make(map[string]SeriesPoint)
		for _, p := range s.Points {
			day := p.TS.UTC().Format(types.DayKeyLayout)
			if existing, ok := byDay[day]; !ok || !p.TS.Before(existing.TS) {
				byDay[day] = p
			}
		}
		points := make([]SeriesPoint, 0, len(byDay))
		for _, p := range byDay {
			points = append(points, p)
		}
		sort.Slice(points, func(a, b int) bool { return points[a].TS.Before(points[b].TS) })
		out[i].Points = points
	}
	return out
}

// AlignSeriesByTimestamp samples every series at the union of timestamps,
// carrying the previous value forward (0 before the first point)
func AlignSeriesByTimestamp(series []WalletSeries) AlignedSeries {
	seen := make(map[int64]time.Time)
	for _, s := range series {
		for _, p := range s.Points {
			seen[p.TS.UnixMilli()] = p.TS
		}
	}
	timestamps := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	aligned := AlignedSeries{Timestamps: timestamps, Series: make([]AlignedValues, 0, len(series))}
	for _, s := range series {
		byTS := make(map[int64]float64, len(s.Points))
		for _, p := range s.Points {
			byTS[p.TS.UnixMilli()] = p.Value
		}
		values := make([]float64, len(timestamps))
		var current float64
		for i, ts := range timestamps {
			if v, ok := byTS[ts.UnixMilli()]; ok && types.IsFinite(v) {
				current = v
			}
			values[i] = current
		}
		aligned.Series = append(aligned.Series, AlignedValues{Key: s.Key, Label: s.Label, Values: values})
	}
	return aligned
}

// SumAlignedSeries adds aligned series into one aggregate series
func SumAlignedSeries(aligned AlignedSeries) WalletSeries {
	points := make([]SeriesPoint, len(aligned.Timestamps))
	for i, ts := range aligned.Timestamps {
		var sum float64
		for _, s := range aligned.Series {
			if i < len(s.Values) && types.IsFinite(s.Values[i]) {
				sum += s.Values[i]
			}
		}
		points[i] = SeriesPoint{TS: ts, Value: sum}
	}
	return WalletSeries{Key: "aggregate", Label: "Aggregate", Points: points}
}
