package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// Mock collaborators for testing

type mockLedger struct {
	mu         sync.Mutex
	accounts   map[string]*types.AccountState
	txns       map[string][]types.LedgerTxn
	assets     map[uint64]*types.AssetInfo
	accountErr error
	calls      int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		accounts: make(map[string]*types.AccountState),
		txns:     make(map[string][]types.LedgerTxn),
		assets:   make(map[uint64]*types.AssetInfo),
	}
}

func (m *mockLedger) GetAccountState(ctx context.Context, address string) (*types.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	if acc, ok := m.accounts[address]; ok {
		copied := *acc
		return &copied, nil
	}
	return &types.AccountState{Address: address}, nil
}

func (m *mockLedger) GetTransactionsForAddress(ctx context.Context, address string, limit int) ([]types.LedgerTxn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[address], nil
}

func (m *mockLedger) GetAssetInfo(ctx context.Context, assetID uint64) (*types.AssetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.assets[assetID]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("asset %d not found", assetID)
}

type mockPrices struct {
	spot       map[types.AssetKey]*float64
	historical map[string]*float64
}

func (m *mockPrices) GetSpotPriceQuotes(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]types.PriceQuote {
	out := make(map[types.AssetKey]types.PriceQuote, len(keys))
	for _, key := range keys {
		if p := m.spot[key]; p != nil {
			out[key] = types.NewPriceQuote(p, types.SourceConfigured, time.Time{})
			continue
		}
		out[key] = types.NewPriceQuote(nil, types.SourceMissing, time.Time{})
	}
	return out
}

func (m *mockPrices) GetSpotPricesUSD(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]*float64 {
	out := make(map[types.AssetKey]*float64, len(keys))
	for _, key := range keys {
		out[key] = m.spot[key]
	}
	return out
}

func (m *mockPrices) GetHistoricalPricesUSDByDay(ctx context.Context, keys []types.AssetKey, timestamps []int64) map[string]*float64 {
	return m.historical
}

type stubDefiAdapter struct {
	positions []models.DefiPosition
	err       error
}

func (s *stubDefiAdapter) Protocol() string { return "stub" }

func (s *stubDefiAdapter) Positions(ctx context.Context, wallets []string) ([]models.DefiPosition, error) {
	return s.positions, s.err
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// 2025-02-15T08:00:00Z
const snapshotTestTs = 1739606400

func TestComputePortfolioSnapshotHoldingWithoutHistory(t *testing.T) {
	ledger := newMockLedger()
	ledger.accounts[walletA] = &types.AccountState{Address: walletA, AlgoAmount: 10}
	prices := &mockPrices{spot: map[types.AssetKey]*float64{types.NativeAssetKey: types.Float64Ptr(2)}}

	svc := NewSnapshotService(ledger, prices, nil)
	snapshot, err := svc.ComputePortfolioSnapshot(context.Background(), []string{walletA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snapshot.Method != models.MethodFIFO {
		t.Errorf("expected method FIFO, got %s", snapshot.Method)
	}
	if len(snapshot.Assets) != 1 {
		t.Fatalf("expected 1 asset row, got %d", len(snapshot.Assets))
	}
	row := snapshot.Assets[0]
	if row.ValueUSD == nil || !approxEqual(*row.ValueUSD, 20) {
		t.Errorf("expected value 20, got %v", row.ValueUSD)
	}
	if row.CostBasisUSD != 0 {
		t.Errorf("expected cost basis 0, got %f", row.CostBasisUSD)
	}
	if row.UnrealizedPnlUSD == nil || !approxEqual(*row.UnrealizedPnlUSD, 20) {
		t.Errorf("expected unrealized 20, got %v", row.UnrealizedPnlUSD)
	}
	if !row.HasPrice || row.AssetName != "ALGO" {
		t.Errorf("unexpected row %+v", row)
	}
	if !approxEqual(snapshot.Totals.ValueUSD, 20) || !approxEqual(snapshot.Totals.UnrealizedPnlUSD, 20) {
		t.Errorf("unexpected totals %+v", snapshot.Totals)
	}
	if len(snapshot.Wallets) != 1 || !approxEqual(snapshot.Wallets[0].TotalValueUSD, 20) {
		t.Errorf("unexpected wallet summaries %+v", snapshot.Wallets)
	}
	if snapshot.YieldEstimate.EstimatedAprPct != nil {
		t.Errorf("expected no yield estimate without positions")
	}
}

func TestComputePortfolioSnapshotCostBasisIgnoresSpot(t *testing.T) {
	day := types.DayKeyFromUnix(snapshotTestTs)

	for _, spot := range []float64{2, 3, 0.5} {
		ledger := newMockLedger()
		ledger.accounts[walletA] = &types.AccountState{Address: walletA, AlgoAmount: 10}
		ledger.txns[walletA] = []types.LedgerTxn{payment("buy-1", outsider, walletA, 10_000_000, snapshotTestTs)}
		prices := &mockPrices{
			spot:       map[types.AssetKey]*float64{types.NativeAssetKey: types.Float64Ptr(spot)},
			historical: map[string]*float64{"ALGO:" + day: types.Float64Ptr(1)},
		}

		snapshot, err := NewSnapshotService(ledger, prices, nil).ComputePortfolioSnapshot(context.Background(), []string{walletA})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		row := snapshot.Assets[0]
		if !approxEqual(row.CostBasisUSD, 10) {
			t.Errorf("spot %v: expected cost basis 10, got %f", spot, row.CostBasisUSD)
		}
		if !approxEqual(*row.UnrealizedPnlUSD, 10*spot-10) {
			t.Errorf("spot %v: expected unrealized %f, got %f", spot, 10*spot-10, *row.UnrealizedPnlUSD)
		}
	}
}

func TestComputePortfolioSnapshotTransactionRows(t *testing.T) {
	ledger := newMockLedger()
	ledger.accounts[walletA] = &types.AccountState{
		Address:    walletA,
		AlgoAmount: 7,
		Assets:     []types.AssetHolding{{AssetID: 31566704, Amount: 5.5, Decimals: 6}},
	}
	ledger.accounts[walletB] = &types.AccountState{Address: walletB, AlgoAmount: 1}
	unit := "USDC"
	ledger.assets[31566704] = &types.AssetInfo{Decimals: 6, UnitName: &unit}

	shared := payment("internal-1", walletA, walletB, 1_000_000, snapshotTestTs+300)
	ledger.txns[walletA] = []types.LedgerTxn{
		payment("in-1", outsider, walletA, 10_000_000, snapshotTestTs),
		payment("out-1", walletA, outsider, 2_000_000, snapshotTestTs+100),
		assetTransfer("usdc-in", outsider, walletA, 31566704, 5_500_000, snapshotTestTs+200),
		shared,
	}
	ledger.txns[walletB] = []types.LedgerTxn{shared}

	day := types.DayKeyFromUnix(snapshotTestTs)
	prices := &mockPrices{
		spot: map[types.AssetKey]*float64{
			types.NativeAssetKey: types.Float64Ptr(0.3),
			"31566704":           types.Float64Ptr(1),
		},
		historical: map[string]*float64{"ALGO:" + day: types.Float64Ptr(0.2)},
	}

	snapshot, err := NewSnapshotService(ledger, prices, nil).ComputePortfolioSnapshot(context.Background(), []string{walletA, walletB, walletA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(snapshot.Transactions) != 4 {
		t.Fatalf("expected 4 deduplicated transactions, got %d", len(snapshot.Transactions))
	}
	for i := 1; i < len(snapshot.Transactions); i++ {
		if snapshot.Transactions[i-1].Ts < snapshot.Transactions[i].Ts {
			t.Fatalf("transactions not sorted newest first")
		}
	}

	byID := make(map[string]models.TransactionRow)
	for _, row := range snapshot.Transactions {
		byID[row.TxID] = row
	}

	internal := byID["internal-1"]
	if internal.Direction != types.DirectionSelf || internal.Wallet != walletA || *internal.Counterparty != walletB {
		t.Errorf("unexpected internal row %+v", internal)
	}

	in := byID["in-1"]
	if in.Direction != types.DirectionIn || in.FeeAlgo != 0 || in.ValueSource != models.ValueSourceHistorical {
		t.Errorf("unexpected inbound row %+v", in)
	}
	if in.ValueUSD == nil || !approxEqual(*in.ValueUSD, 2) {
		t.Errorf("expected inbound value 2, got %v", in.ValueUSD)
	}

	out := byID["out-1"]
	if out.Direction != types.DirectionOut || !approxEqual(out.FeeAlgo, 0.001) || !approxEqual(out.FeeUSD, 0.0002) {
		t.Errorf("unexpected outbound row %+v", out)
	}

	usdc := byID["usdc-in"]
	if usdc.AssetName != "USDC" || !approxEqual(usdc.Amount, 5.5) || usdc.ValueSource != models.ValueSourceSpot {
		t.Errorf("unexpected asset row %+v", usdc)
	}

	if snapshot.Assets[0].AssetKey != "31566704" {
		t.Errorf("expected the most valuable asset first, got %s", snapshot.Assets[0].AssetKey)
	}
	algo := snapshot.Assets[1]
	if len(algo.WalletBreakdown) != 2 || algo.WalletBreakdown[0].Wallet != walletA {
		t.Errorf("unexpected wallet breakdown %+v", algo.WalletBreakdown)
	}
	if len(snapshot.Wallets) != 2 {
		t.Errorf("expected 2 wallet summaries, got %d", len(snapshot.Wallets))
	}
}

func TestComputePortfolioSnapshotInternalTransferPerWalletBooks(t *testing.T) {
	buyDay := types.DayKeyFromUnix(snapshotTestTs)
	moveTs := int64(snapshotTestTs + 86400)
	moveDay := types.DayKeyFromUnix(moveTs)

	ledger := newMockLedger()
	ledger.accounts[walletA] = &types.AccountState{Address: walletA, AlgoAmount: 5.999}
	ledger.accounts[walletB] = &types.AccountState{Address: walletB, AlgoAmount: 4}
	move := payment("move-1", walletA, walletB, 4_000_000, moveTs)
	ledger.txns[walletA] = []types.LedgerTxn{
		payment("buy-1", outsider, walletA, 10_000_000, snapshotTestTs),
		move,
	}
	ledger.txns[walletB] = []types.LedgerTxn{move}

	prices := &mockPrices{
		spot: map[types.AssetKey]*float64{types.NativeAssetKey: types.Float64Ptr(1)},
		historical: map[string]*float64{
			"ALGO:" + buyDay:  types.Float64Ptr(0.2),
			"ALGO:" + moveDay: types.Float64Ptr(0.5),
		},
	}

	snapshot, err := NewSnapshotService(ledger, prices, nil).ComputePortfolioSnapshot(context.Background(), []string{walletA, walletB})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Portfolio book: the move nets out and the held balance keeps the 0.2 unit cost.
	algo := snapshot.Assets[0]
	if !approxEqual(algo.CostBasisUSD, 0.2*9.999) || algo.RealizedPnlUSD != 0 {
		t.Errorf("expected global cost 1.9998 and no realized pnl, got cost %f realized %f", algo.CostBasisUSD, algo.RealizedPnlUSD)
	}

	byWallet := make(map[string]models.WalletSummary)
	for _, w := range snapshot.Wallets {
		byWallet[w.Wallet] = w
	}
	if len(byWallet) != 2 {
		t.Fatalf("expected 2 wallet summaries, got %+v", snapshot.Wallets)
	}

	// Sender disposes of 4 of its 0.2 lot at 0.5 and pays the fee at spot.
	a := byWallet[walletA]
	if !approxEqual(a.TotalCostBasisUSD, 1.2) {
		t.Errorf("expected sender cost 1.2, got %f", a.TotalCostBasisUSD)
	}
	if !approxEqual(a.TotalRealizedPnlUSD, 4*0.5-0.001-4*0.2) {
		t.Errorf("expected sender realized 1.199, got %f", a.TotalRealizedPnlUSD)
	}
	if !approxEqual(a.TotalValueUSD, 5.999) || !approxEqual(a.TotalUnrealizedPnlUSD, 5.999-1.2) {
		t.Errorf("unexpected sender value %+v", a)
	}

	// Receiver opens a fresh lot at the transfer day price.
	b := byWallet[walletB]
	if !approxEqual(b.TotalCostBasisUSD, 2) || b.TotalRealizedPnlUSD != 0 {
		t.Errorf("expected receiver cost 2 and no realized pnl, got %+v", b)
	}
	if !approxEqual(b.TotalUnrealizedPnlUSD, 2) {
		t.Errorf("expected receiver unrealized 2, got %f", b.TotalUnrealizedPnlUSD)
	}
}

func TestComputePortfolioSnapshotEmptyWallets(t *testing.T) {
	ledger := newMockLedger()
	snapshot, err := NewSnapshotService(ledger, &mockPrices{}, nil).ComputePortfolioSnapshot(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot.Assets) != 0 || snapshot.Totals.ValueUSD != 0 {
		t.Errorf("expected an empty snapshot, got %+v", snapshot)
	}
	if ledger.calls != 0 {
		t.Errorf("expected no ledger calls, got %d", ledger.calls)
	}
}

func TestComputePortfolioSnapshotLedgerFailure(t *testing.T) {
	ledger := newMockLedger()
	ledger.accountErr = fmt.Errorf("connection refused")

	_, err := NewSnapshotService(ledger, &mockPrices{}, nil).ComputePortfolioSnapshot(context.Background(), []string{walletA})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.HasCode(err, errors.CodeProvider) {
		t.Errorf("expected a provider error, got %v", err)
	}
}

func TestComputePortfolioSnapshotYieldEstimate(t *testing.T) {
	ledger := newMockLedger()
	ledger.accounts[walletA] = &types.AccountState{Address: walletA, AlgoAmount: 1}
	registry := NewDefiRegistry(
		&stubDefiAdapter{err: fmt.Errorf("down")},
		&stubDefiAdapter{positions: []models.DefiPosition{{Protocol: "stub", Wallet: walletA, PositionType: "lp"}}},
	)

	snapshot, err := NewSnapshotService(ledger, &mockPrices{}, registry).ComputePortfolioSnapshot(context.Background(), []string{walletA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshot.DefiPositions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(snapshot.DefiPositions))
	}
	if snapshot.YieldEstimate.EstimatedAprPct == nil || *snapshot.YieldEstimate.EstimatedAprPct != 4.2 {
		t.Errorf("expected a 4.2%% yield estimate, got %v", snapshot.YieldEstimate.EstimatedAprPct)
	}
	if !snapshot.YieldEstimate.Estimated {
		t.Errorf("expected the yield to be flagged as estimated")
	}
}
