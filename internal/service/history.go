package service

import (
	"sort"
	"time"

	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// HistoryTransaction is one balance movement replayed by the history engine
type HistoryTransaction struct {
	Ts           int64           `json:"ts"`
	AssetKey     types.AssetKey  `json:"assetKey"`
	Amount       float64         `json:"amount"`
	Direction    types.Direction `json:"direction"`
	UnitPriceUSD *float64        `json:"unitPriceUsd"`
	FeeAlgo      float64         `json:"feeAlgo"`
}

// LatestAssetState is the known current balance and spot price of an asset
type LatestAssetState struct {
	AssetKey types.AssetKey `json:"assetKey"`
	Balance  float64        `json:"balance"`
	PriceUSD *float64       `json:"priceUsd"`
}

// HistoryInput is the input of BuildPortfolioHistoryFromTransactions.
// A zero LatestTS means no anchor time is known.
type HistoryInput struct {
	Transactions   []HistoryTransaction
	LatestValueUSD *float64
	LatestTS       time.Time
	LatestAssets   []LatestAssetState
	DailyPrices    []models.DailyPrice
}

// HistoryTxsFromRows converts snapshot transaction rows into history
// movements. Rows without an asset key are treated as ALGO.
func HistoryTxsFromRows(rows []models.TransactionRow) []HistoryTransaction {
	out := make([]HistoryTransaction, 0, len(rows))
	for _, row := range rows {
		key := row.AssetKey
		if key == "" {
			key = types.NativeAssetKey
		}
		direction := row.Direction
		if direction == "" {
			direction = types.DirectionSelf
		}
		out = append(out, HistoryTransaction{
			Ts:           row.Ts,
			AssetKey:     key,
			Amount:       row.Amount,
			Direction:    direction,
			UnitPriceUSD: row.UnitPriceUSD,
			FeeAlgo:      row.FeeAlgo,
		})
	}
	return out
}

func finitePtr(p *float64) bool {
	return p != nil && types.IsFinite(*p)
}

// dayEnd is the last millisecond of a UTC day
func dayEnd(day time.Time) time.Time {
	return day.Add(24*time.Hour - time.Millisecond)
}

func parseDay(dayKey string) time.Time {
	t, _ := time.Parse(types.DayKeyLayout, dayKey)
	return t
}

// enumerateDays lists the UTC day keys from first to last inclusive
func enumerateDays(first, last string) []string {
	start, end := parseDay(first), parseDay(last)
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(types.DayKeyLayout))
	}
	return out
}

// BuildPortfolioHistoryFromTransactions reconstructs the value of a portfolio
// over time. With a latest asset state and time it walks backward day by day
// from the known balances; otherwise it replays transactions forward.
func BuildPortfolioHistoryFromTransactions(in HistoryInput) []types.HistoryPoint {
	txs := make([]HistoryTransaction, 0, len(in.Transactions))
	for _, tx := range in.Transactions {
		if tx.Ts <= 0 || !types.IsFinite(tx.Amount) || tx.Amount < 0 {
			continue
		}
		txs = append(txs, tx)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Ts < txs[j].Ts })

	if len(in.LatestAssets) > 0 && !in.LatestTS.IsZero() && in.LatestTS.Unix() > 0 {
		return anchoredHistory(in, txs)
	}
	return replayHistory(in, txs)
}

type balanceBook map[types.AssetKey]float64

func (b balanceBook) set(key types.AssetKey, v float64) {
	if v <= 0 {
		delete(b, key)
		return
	}
	b[key] = v
}

func anchoredHistory(in HistoryInput, txs []HistoryTransaction) []types.HistoryPoint {
	balances := make(balanceBook)
	spot := make(map[types.AssetKey]float64)
	for _, a := range in.LatestAssets {
		if a.AssetKey == "" {
			continue
		}
		if types.IsFinite(a.Balance) && a.Balance > 0 {
			balances[a.AssetKey] = a.Balance
		}
		if finitePtr(a.PriceUSD) && *a.PriceUSD >= 0 {
			spot[a.AssetKey] = *a.PriceUSD
		}
	}

	explicit := make(map[string]float64)
	for _, row := range in.DailyPrices {
		if row.AssetKey != "" && row.DayKey != "" && finitePtr(row.PriceUSD) && *row.PriceUSD >= 0 {
			explicit[row.AssetKey+":"+row.DayKey] = *row.PriceUSD
		}
	}

	fromTx := make(map[string]float64)
	for _, tx := range txs {
		if finitePtr(tx.UnitPriceUSD) && *tx.UnitPriceUSD >= 0 {
			fromTx[types.HistoricalPriceKey(tx.AssetKey, tx.Ts)] = *tx.UnitPriceUSD
		}
	}

	latestSec := in.LatestTS.Unix()
	latestDay := in.LatestTS.UTC().Format(types.DayKeyLayout)
	earliest := latestSec
	if len(txs) > 0 {
		earliest = txs[0].Ts
	}
	days := enumerateDays(types.DayKeyFromUnix(earliest), latestDay)

	assetSet := make(map[types.AssetKey]bool)
	var assets []types.AssetKey
	addAsset := func(k types.AssetKey) {
		if !assetSet[k] {
			assetSet[k] = true
			assets = append(assets, k)
		}
	}
	for _, a := range in.LatestAssets {
		if _, ok := balances[a.AssetKey]; ok {
			addAsset(a.AssetKey)
		}
	}
	for _, tx := range txs {
		addAsset(tx.AssetKey)
	}
	prices := resolvePriceSeries(days, assets, explicit, fromTx, spot)

	valueOn := func(day string) float64 {
		var total float64
		for key, balance := range balances {
			if !types.IsFinite(balance) || balance <= 0 {
				continue
			}
			total += balance * prices[string(key)+":"+day]
		}
		return total
	}

	byDay := make(map[string][]HistoryTransaction)
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].Ts < latestSec {
			day := types.DayKeyFromUnix(txs[i].Ts)
			byDay[day] = append(byDay[day], txs[i])
		}
	}

	points := make([]types.HistoryPoint, 0, len(days))
	for i := len(days) - 1; i >= 0; i-- {
		day := days[i]
		value := valueOn(day)
		if day == latestDay && finitePtr(in.LatestValueUSD) {
			value = *in.LatestValueUSD
		}
		points = append(points, types.HistoryPoint{TS: dayEnd(parseDay(day)), ValueUSD: value})

		for _, tx := range byDay[day] {
			current := balances[tx.AssetKey]
			switch tx.Direction {
			case types.DirectionIn:
				balances.set(tx.AssetKey, current-tx.Amount)
			case types.DirectionOut:
				balances.set(tx.AssetKey, current+tx.Amount)
			}
			if types.IsFinite(tx.FeeAlgo) && tx.FeeAlgo > 0 {
				balances.set(types.NativeAssetKey, balances[types.NativeAssetKey]+tx.FeeAlgo)
			}
		}
	}
	return dedupeAndSort(points)
}

// resolvePriceSeries returns "asset:day" -> price, taking the stored daily
// price, then the day's last transaction price, then forward fill, backward
// fill, spot and finally 0
func resolvePriceSeries(days []string, assets []types.AssetKey, explicit, fromTx map[string]float64, spot map[types.AssetKey]float64) map[string]float64 {
	resolved := make(map[string]float64, len(days)*len(assets))
	for _, asset := range assets {
		series := make([]*float64, len(days))
		for i, day := range days {
			key := string(asset) + ":" + day
			if p, ok := explicit[key]; ok {
				series[i] = types.Float64Ptr(p)
			} else if p, ok := fromTx[key]; ok {
				series[i] = types.Float64Ptr(p)
			}
		}
		for i := 1; i < len(series); i++ {
			if series[i] == nil && series[i-1] != nil {
				series[i] = series[i-1]
			}
		}
		for i := len(series) - 2; i >= 0; i-- {
			if series[i] == nil && series[i+1] != nil {
				series[i] = series[i+1]
			}
		}

		fallback := spot[asset]
		for i, day := range days {
			price := fallback
			if series[i] != nil {
				price = *series[i]
			}
			resolved[string(asset)+":"+day] = price
		}
	}
	return resolved
}

func replayHistory(in HistoryInput, txs []HistoryTransaction) []types.HistoryPoint {
	if len(txs) == 0 {
		return []types.HistoryPoint{}
	}

	balances := make(map[types.AssetKey]float64)
	lastPrice := make(map[types.AssetKey]float64)
	move := func(key types.AssetKey, delta float64) {
		next := balances[key] + delta
		if next < 0 {
			next = 0
		}
		balances[key] = next
	}
	value := func() float64 {
		var total float64
		for key, balance := range balances {
			if !types.IsFinite(balance) || balance <= 0 {
				continue
			}
			if p, ok := lastPrice[key]; ok {
				total += balance * p
			}
		}
		return total
	}

	points := make([]types.HistoryPoint, 0, len(txs)+1)
	for _, tx := range txs {
		if finitePtr(tx.UnitPriceUSD) && *tx.UnitPriceUSD >= 0 {
			lastPrice[tx.AssetKey] = *tx.UnitPriceUSD
		}
		switch tx.Direction {
		case types.DirectionIn:
			move(tx.AssetKey, tx.Amount)
		case types.DirectionOut:
			move(tx.AssetKey, -tx.Amount)
		}
		if types.IsFinite(tx.FeeAlgo) && tx.FeeAlgo > 0 {
			move(types.NativeAssetKey, -tx.FeeAlgo)
		}
		points = append(points, types.HistoryPoint{TS: time.Unix(tx.Ts, 0).UTC(), ValueUSD: value()})
	}

	if finitePtr(in.LatestValueUSD) && !in.LatestTS.IsZero() {
		points = append(points, types.HistoryPoint{TS: in.LatestTS.UTC(), ValueUSD: *in.LatestValueUSD})
	}
	return dedupeAndSort(points)
}

// dedupeAndSort keeps the last point per timestamp, ascending
func dedupeAndSort(points []types.HistoryPoint) []types.HistoryPoint {
	index := make(map[int64]int, len(points))
	out := make([]types.HistoryPoint, 0, len(points))
	for _, p := range points {
		ms := p.TS.UnixMilli()
		if i, ok := index[ms]; ok {
			out[i] = p
			continue
		}
		index[ms] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
