package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// yieldEstimatePct is the flat yield reported when any DeFi position exists
const yieldEstimatePct = 4.2

const yieldEstimateNote = "Estimated yield from detected staking/DeFi activity. Historical decomposition is partial."

// PriceService is the price layer used by the aggregator
type PriceService interface {
	GetSpotPriceQuotes(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]types.PriceQuote
	GetHistoricalPricesUSDByDay(ctx context.Context, keys []types.AssetKey, timestamps []int64) map[string]*float64
}

// SnapshotService computes portfolio snapshots over a set of wallets
type SnapshotService struct {
	ledger adapter.LedgerSource
	prices PriceService
	defi   *DefiRegistry
	now    func() time.Time
}

// NewSnapshotService creates a snapshot aggregator. defi may be nil.
func NewSnapshotService(ledger adapter.LedgerSource, prices PriceService, defi *DefiRegistry) *SnapshotService {
	return &SnapshotService{
		ledger: ledger,
		prices: prices,
		defi:   defi,
		now:    time.Now,
	}
}

type walletData struct {
	account *types.AccountState
	txns    []types.LedgerTxn
	err     error
}

// holdings accumulates balances per asset and per (asset, wallet) in first-seen order
type holdings struct {
	order    []types.AssetKey
	total    map[types.AssetKey]float64
	byWallet map[types.AssetKey]map[string]float64
	decimals map[types.AssetKey]int
}

func newHoldings() *holdings {
	return &holdings{
		total:    make(map[types.AssetKey]float64),
		byWallet: make(map[types.AssetKey]map[string]float64),
		decimals: make(map[types.AssetKey]int),
	}
}

func (h *holdings) add(key types.AssetKey, wallet string, amount float64) {
	if _, seen := h.total[key]; !seen {
		h.order = append(h.order, key)
		h.byWallet[key] = make(map[string]float64)
	}
	h.total[key] += amount
	h.byWallet[key][wallet] += amount
}

func uniqueWallets(wallets []string) []string {
	seen := make(map[string]bool, len(wallets))
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func emptySnapshot(now time.Time) *models.PortfolioSnapshot {
	return &models.PortfolioSnapshot{
		ComputedAt:    now,
		PriceAsOf:     now,
		Method:        models.MethodFIFO,
		Assets:        []models.SnapshotAssetRow{},
		Transactions:  []models.TransactionRow{},
		Wallets:       []models.WalletSummary{},
		DefiPositions: []models.DefiPosition{},
		YieldEstimate: models.YieldEstimate{Estimated: true, Note: yieldEstimateNote},
	}
}

// ComputePortfolioSnapshot builds a snapshot of the given wallets. An empty
// wallet list yields an empty snapshot.
func (s *SnapshotService) ComputePortfolioSnapshot(ctx context.Context, wallets []string) (*models.PortfolioSnapshot, error) {
	wallets = uniqueWallets(wallets)
	if len(wallets) == 0 {
		return emptySnapshot(s.now()), nil
	}
	logger := logging.FromContext(ctx)

	data, err := s.fetchWallets(ctx, wallets)
	if err != nil {
		return nil, err
	}

	// Dedupe transactions by id, keeping the first occurrence.
	seenTx := make(map[string]bool)
	var txns []types.LedgerTxn
	for _, d := range data {
		for _, txn := range d.txns {
			if seenTx[txn.ID] {
				continue
			}
			seenTx[txn.ID] = true
			txns = append(txns, txn)
		}
	}

	held := newHoldings()
	for _, d := range data {
		held.add(types.NativeAssetKey, d.account.Address, d.account.AlgoAmount)
		for _, asset := range d.account.Assets {
			id := asset.AssetID
			key := types.AssetKeyForID(&id)
			held.add(key, d.account.Address, asset.Amount)
			held.decimals[key] = asset.Decimals
		}
	}

	names := s.assetNames(ctx, held, txns)

	quotes := s.prices.GetSpotPriceQuotes(ctx, held.order)
	spot := make(map[types.AssetKey]*float64, len(quotes))
	for key, q := range quotes {
		spot[key] = q.USD
	}

	timestamps := make([]int64, len(txns))
	for i, txn := range txns {
		timestamps[i] = txn.ConfirmedRoundTime
	}
	historical := s.prices.GetHistoricalPricesUSDByDay(ctx, held.order, timestamps)
	historicalLookup := func(key types.AssetKey, ts int64) *float64 {
		p := historical[types.HistoricalPriceKey(key, ts)]
		if p == nil || !types.IsFinite(*p) {
			return nil
		}
		return p
	}

	owned := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		owned[w] = true
	}
	classify := ClassifyInput{
		Transactions: txns,
		Owned:        owned,
		SpotPrices:   spot,
		Decimals:     held.decimals,
		Historical:   historicalLookup,
		Scope:        ScopeGlobal,
	}
	fifo := RunFIFO(ClassifyTransactions(classify))

	classify.Scope = ScopePerWallet
	walletEvents := ClassifyTransactions(classify)

	snapshot := emptySnapshot(s.now())
	snapshot.Assets = buildAssetRows(held, names, quotes, fifo)
	snapshot.Transactions = buildTransactionRows(txns, owned, held.decimals, names, spot, historicalLookup)
	snapshot.Totals = sumTotals(snapshot.Assets)
	snapshot.Wallets = buildWalletSummaries(wallets, data, spot, walletEvents)

	snapshot.DefiPositions = s.defi.Positions(ctx, wallets)
	if len(snapshot.DefiPositions) > 0 {
		snapshot.YieldEstimate.EstimatedAprPct = types.Float64Ptr(yieldEstimatePct)
	}

	logger.WithFields(map[string]interface{}{
		"wallets":      len(wallets),
		"assets":       len(snapshot.Assets),
		"transactions": len(snapshot.Transactions),
		"defi":         len(snapshot.DefiPositions),
	}).Info("Computed portfolio snapshot")
	return snapshot, nil
}

// fetchWallets reads account state and transactions of every wallet concurrently
func (s *SnapshotService) fetchWallets(ctx context.Context, wallets []string) ([]walletData, error) {
	data := make([]walletData, len(wallets))
	var wg sync.WaitGroup
	for i, wallet := range wallets {
		wg.Add(1)
		go func(i int, wallet string) {
			defer wg.Done()
			account, err := s.ledger.GetAccountState(ctx, wallet)
			if err != nil {
				data[i].err = err
				return
			}
			if account.Address == "" {
				account.Address = wallet
			}
			txns, err := s.ledger.GetTransactionsForAddress(ctx, wallet, 0)
			if err != nil {
				data[i].err = err
				return
			}
			data[i] = walletData{account: account, txns: txns}
		}(i, wallet)
	}
	wg.Wait()

	for i, d := range data {
		if d.err != nil {
			logging.FromContext(ctx).WithField("wallet", wallets[i]).WithError(d.err).Error("Failed to read wallet from ledger")
			return nil, errors.NewProviderError("indexer", d.err)
		}
	}
	return data, nil
}

// assetNames resolves display names of held and transacted assets. Unknown
// assets are named by their key. Decimals of transacted assets that are not
// held are filled in from the same metadata.
func (s *SnapshotService) assetNames(ctx context.Context, held *holdings, txns []types.LedgerTxn) map[types.AssetKey]string {
	names := map[types.AssetKey]string{types.NativeAssetKey: string(types.NativeAssetKey)}
	resolve := func(key types.AssetKey, fillDecimals bool) {
		if _, done := names[key]; done {
			return
		}
		id, ok := key.AssetID()
		if !ok {
			names[key] = string(key)
			return
		}
		info, err := s.ledger.GetAssetInfo(ctx, id)
		if err != nil {
			logging.FromContext(ctx).WithField("assetId", id).WithError(err).Debug("Asset info unavailable")
			names[key] = string(key)
			return
		}
		names[key] = info.DisplayName(string(key))
		if fillDecimals {
			held.decimals[key] = info.Decimals
		}
	}

	for _, key := range held.order {
		resolve(key, false)
	}
	for _, txn := range txns {
		if txn.AssetTransfer == nil {
			continue
		}
		id := txn.AssetTransfer.AssetID
		key := types.AssetKeyForID(&id)
		_, isHeld := held.total[key]
		resolve(key, !isHeld)
	}
	return names
}

func buildAssetRows(
	held *holdings,
	names map[types.AssetKey]string,
	quotes map[types.AssetKey]types.PriceQuote,
	fifo map[types.AssetKey]*types.AssetLotSummary,
) []models.SnapshotAssetRow {
	rows := make([]models.SnapshotAssetRow, 0, len(held.order))
	for _, key := range held.order {
		balance := held.total[key]
		quote := quotes[key]
		price := quote.USD
		source := quote.Source
		if source == "" {
			source = types.SourceMissing
		}

		var value *float64
		if price != nil {
			value = types.Float64Ptr(balance * *price)
		}

		breakdown := make([]models.WalletBalance, 0, len(held.byWallet[key]))
		for wallet, walletBalance := range held.byWallet[key] {
			if walletBalance <= 0 {
				continue
			}
			wb := models.WalletBalance{Wallet: wallet, Balance: walletBalance}
			if price != nil {
				wb.ValueUSD = types.Float64Ptr(walletBalance * *price)
			}
			breakdown = append(breakdown, wb)
		}
		sort.Slice(breakdown, func(i, j int) bool {
			if breakdown[i].Balance != breakdown[j].Balance {
				return breakdown[i].Balance > breakdown[j].Balance
			}
			return breakdown[i].Wallet < breakdown[j].Wallet
		})

		var lotQty, lotCost, realized float64
		var gaps bool
		if summary := fifo[key]; summary != nil {
			lotQty = types.FiniteOr(summary.RemainingQty, 0)
			lotCost = types.FiniteOr(summary.RemainingCostUSD, 0)
			realized = types.FiniteOr(summary.RealizedPnlUSD, 0)
			gaps = summary.HasPriceGaps
		}

		var costBasis float64
		if balance > 0 && lotQty > 0 {
			unitCost := lotCost / lotQty
			if types.IsFinite(unitCost) && unitCost >= 0 {
				costBasis = types.FiniteOr(unitCost*balance, 0)
			}
		}

		var unrealized *float64
		if value != nil {
			unrealized = types.Float64Ptr(types.FiniteOr(*value-costBasis, 0))
		}

		rows = append(rows, models.SnapshotAssetRow{
			AssetKey:         key,
			AssetName:        names[key],
			Balance:          balance,
			WalletBreakdown:  breakdown,
			PriceUSD:         price,
			PriceSource:      source,
			ValueUSD:         value,
			CostBasisUSD:     costBasis,
			RealizedPnlUSD:   realized,
			UnrealizedPnlUSD: unrealized,
			HasPrice:         price != nil,
			HasPriceGaps:     gaps,
		})
	}

	sortValue := func(v *float64) float64 {
		if v == nil {
			return -1
		}
		return *v
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return sortValue(rows[i].ValueUSD) > sortValue(rows[j].ValueUSD)
	})
	return rows
}

type rowQuote struct {
	unit   *float64
	source models.ValueSource
}

func buildTransactionRows(
	txns []types.LedgerTxn,
	owned map[string]bool,
	decimals map[types.AssetKey]int,
	names map[types.AssetKey]string,
	spot map[types.AssetKey]*float64,
	historical HistoricalPriceLookup,
) []models.TransactionRow {
	quoteFor := func(key types.AssetKey, ts int64) rowQuote {
		if p := historical(key, ts); p != nil {
			return rowQuote{unit: p, source: models.ValueSourceHistorical}
		}
		if p := spot[key]; p != nil && types.IsFinite(*p) {
			return rowQuote{unit: p, source: models.ValueSourceSpot}
		}
		return rowQuote{source: models.ValueSourceMissing}
	}

	rows := make([]models.TransactionRow, 0, len(txns))
	for _, txn := range txns {
		view, ok := transferOf(txn, decimals)
		if !ok {
			continue
		}
		txType := models.TxTypePayment
		if txn.AssetTransfer != nil {
			txType = models.TxTypeAssetTransfer
		}

		senderOwned := owned[txn.Sender]
		receiverOwned := owned[view.receiver]

		var feeAlgo float64
		if senderOwned {
			feeAlgo = float64(txn.Fee) / types.MicroAlgosPerAlgo
		}
		var algoUnit float64
		if q := quoteFor(types.NativeAssetKey, txn.ConfirmedRoundTime); q.unit != nil {
			algoUnit = *q.unit
		}

		direction := types.DirectionIn
		wallet := view.receiver
		counterparty := txn.Sender
		switch {
		case senderOwned && receiverOwned:
			direction = types.DirectionSelf
			wallet = txn.Sender
			counterparty = view.receiver
		case senderOwned:
			direction = types.DirectionOut
			wallet = txn.Sender
			counterparty = view.receiver
		}

		quote := quoteFor(view.key, txn.ConfirmedRoundTime)
		var value *float64
		valueSource := quote.source
		switch {
		case view.amount == 0:
			value = types.Float64Ptr(0)
			valueSource = models.ValueSourceSpot
		case quote.unit != nil:
			value = types.Float64Ptr(view.amount * *quote.unit)
		}

		name := names[view.key]
		if name == "" {
			name = string(view.key)
		}
		cp := counterparty
		rows = append(rows, models.TransactionRow{
			TxID:         txn.ID,
			Ts:           txn.ConfirmedRoundTime,
			Wallet:       wallet,
			Counterparty: &cp,
			TxType:       txType,
			Direction:    direction,
			AssetKey:     view.key,
			AssetName:    name,
			Amount:       view.amount,
			UnitPriceUSD: quote.unit,
			ValueUSD:     value,
			ValueSource:  valueSource,
			FeeAlgo:      feeAlgo,
			FeeUSD:       feeAlgo * algoUnit,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Ts > rows[j].Ts })
	return rows
}

func sumTotals(rows []models.SnapshotAssetRow) models.SnapshotTotals {
	var totals models.SnapshotTotals
	for _, row := range rows {
		if row.ValueUSD != nil && types.IsFinite(*row.ValueUSD) {
			totals.ValueUSD += *row.ValueUSD
		}
		if types.IsFinite(row.CostBasisUSD) {
			totals.CostBasisUSD += row.CostBasisUSD
		}
		if types.IsFinite(row.RealizedPnlUSD) {
			totals.RealizedPnlUSD += row.RealizedPnlUSD
		}
		if row.UnrealizedPnlUSD != nil && types.IsFinite(*row.UnrealizedPnlUSD) {
			totals.UnrealizedPnlUSD += *row.UnrealizedPnlUSD
		}
	}
	return totals
}

// buildWalletSummaries values each wallet at spot and runs FIFO over the
// events tagged with that wallet
func buildWalletSummaries(wallets []string, data []walletData, spot map[types.AssetKey]*float64, events []types.LotEvent) []models.WalletSummary {
	byWallet := make(map[string][]types.LotEvent, len(wallets))
	for _, e := range events {
		byWallet[e.Wallet] = append(byWallet[e.Wallet], e)
	}

	var algoPrice float64
	if p := spot[types.NativeAssetKey]; p != nil {
		algoPrice = *p
	}

	out := make([]models.WalletSummary, 0, len(wallets))
	for i, wallet := range wallets {
		var cost, realized float64
		for _, summary := range RunFIFO(byWallet[wallet]) {
			cost += types.FiniteOr(summary.RemainingCostUSD, 0)
			realized += types.FiniteOr(summary.RealizedPnlUSD, 0)
		}
		cost = types.FiniteOr(cost, 0)
		realized = types.FiniteOr(realized, 0)

		var value float64
		if account := data[i].account; account != nil {
			value += types.FiniteOr(account.AlgoAmount*algoPrice, 0)
			for _, asset := range account.Assets {
				id := asset.AssetID
				if p := spot[types.AssetKeyForID(&id)]; p != nil {
					value += types.FiniteOr(asset.Amount * *p, 0)
				}
			}
		}
		value = types.FiniteOr(value, 0)

		out = append(out, models.WalletSummary{
			Wallet:                wallet,
			TotalValueUSD:         value,
			TotalCostBasisUSD:     cost,
			TotalRealizedPnlUSD:   realized,
			TotalUnrealizedPnlUSD: types.FiniteOr(value-cost, 0),
		})
	}
	return out
}
