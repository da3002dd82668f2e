package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// dailyPriceSource tags daily prices fetched from the historical provider
const dailyPriceSource = "coingecko"

// SnapshotComputer computes a fresh snapshot of a wallet set
type SnapshotComputer interface {
	ComputePortfolioSnapshot(ctx context.Context, wallets []string) (*models.PortfolioSnapshot, error)
}

// AssetLookup resolves asset metadata
type AssetLookup interface {
	GetAssetInfo(ctx context.Context, assetID uint64) (*types.AssetInfo, error)
}

// RefreshSummary counts the outcome of a scheduled refresh
type RefreshSummary struct {
	RefreshedUsers int `json:"refreshedUsers"`
	FailedUsers    int `json:"failedUsers"`
}

// WalletSeriesResult holds per-wallet daily series and their sum
type WalletSeriesResult struct {
	AssetKey  types.AssetKey `json:"assetKey,omitempty"`
	Series    []WalletSeries `json:"series"`
	Aggregate WalletSeries   `json:"aggregate"`
}

// PortfolioService serves stored snapshots per user and keeps them fresh
type PortfolioService struct {
	snapshots SnapshotStore
	wallets   WalletStore
	audit     AuditStore
	daily     DailyPriceStore
	computer  SnapshotComputer
	assets    AssetLookup
	prices    PriceService
	metrics   *SnapshotMetrics
	cfg       config.RefreshConfig
	now       func() time.Time
}

// PortfolioServiceDeps groups the collaborators of a PortfolioService.
// Daily may be nil, in which case history runs on transaction prices only.
type PortfolioServiceDeps struct {
	Snapshots SnapshotStore
	Wallets   WalletStore
	Audit     AuditStore
	Daily     DailyPriceStore
	Computer  SnapshotComputer
	Assets    AssetLookup
	Prices    PriceService
	Metrics   *SnapshotMetrics
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(deps PortfolioServiceDeps, cfg config.RefreshConfig) *PortfolioService {
	return &PortfolioService{
		snapshots: deps.Snapshots,
		wallets:   deps.Wallets,
		audit:     deps.Audit,
		daily:     deps.Daily,
		computer:  deps.Computer,
		assets:    deps.Assets,
		prices:    deps.Prices,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *PortfolioService) verifiedAddresses(ctx context.Context, userID string) ([]string, error) {
	wallets, err := s.wallets.ListVerified(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("list verified wallets", err)
	}
	addresses := make([]string, 0, len(wallets))
	for _, w := range wallets {
		addresses = append(addresses, w.Address)
	}
	return addresses, nil
}

func (s *PortfolioService) computeAndStore(ctx context.Context, userID string, wallets []string) (*models.PortfolioSnapshot, error) {
	snapshot, err := s.computer.ComputePortfolioSnapshot(ctx, wallets)
	if err != nil {
		return nil, err
	}
	stored := &models.StoredSnapshot{
		ID:         uuid.New().String(),
		UserID:     userID,
		Method:     models.MethodFIFO,
		ComputedAt: snapshot.ComputedAt,
		Data:       snapshot,
	}
	if err := s.snapshots.Create(ctx, stored); err != nil {
		return nil, errors.NewDatabaseError("store snapshot", err)
	}
	return snapshot, nil
}

func (s *PortfolioService) writeAudit(ctx context.Context, userID, action string, meta map[string]interface{}) {
	if err := s.audit.Write(ctx, userID, action, meta); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("action", action).Warn("Failed to write audit log")
	}
}

// NeedsRecompute reports whether a stored snapshot is missing or was
// written with incomplete data and should be computed again.
func NeedsRecompute(data *models.PortfolioSnapshot) bool {
	if data == nil || len(data.Transactions) == 0 {
		return true
	}

	t := data.Totals
	for _, v := range []float64{t.ValueUSD, t.CostBasisUSD, t.RealizedPnlUSD, t.UnrealizedPnlUSD} {
		if !types.IsFinite(v) {
			return true
		}
	}

	priced := make(map[types.AssetKey]bool, len(data.Assets))
	for _, asset := range data.Assets {
		if finitePtr(asset.PriceUSD) {
			priced[asset.AssetKey] = true
		}
		if asset.Balance <= 0 {
			continue
		}
		if !types.IsFinite(asset.CostBasisUSD) || !types.IsFinite(asset.RealizedPnlUSD) {
			return true
		}
		if asset.WalletBreakdown == nil {
			return true
		}
	}

	for _, tx := range data.Transactions {
		if tx.Ts <= 0 {
			return true
		}
		if priced[tx.AssetKey] && tx.Amount != 0 && !finitePtr(tx.ValueUSD) {
			return true
		}
	}
	return false
}

// GetSnapshot returns the user's latest snapshot, recomputing it from the
// verified wallets when the stored one is unusable. It returns nil when the
// user has neither a snapshot nor verified wallets.
func (s *PortfolioService) GetSnapshot(ctx context.Context, userID string) (*models.PortfolioSnapshot, error) {
	start := time.Now()
	stored, err := s.snapshots.GetLatest(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("get snapshot", err)
	}
	var data *models.PortfolioSnapshot
	if stored != nil {
		data = stored.Data
	}

	recomputed := false
	if NeedsRecompute(data) {
		wallets, err := s.verifiedAddresses(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(wallets) > 0 {
			logging.FromContext(ctx).WithField("userId", userID).Info("Recomputing stale portfolio snapshot")
			fresh, err := s.computeAndStore(ctx, userID, wallets)
			if err != nil {
				s.metrics.RecordFailure()
				return nil, err
			}
			data = fresh
			recomputed = true
		}
	}
	s.metrics.RecordServe(time.Since(start), recomputed)

	if data != nil {
		s.fillAssetNames(ctx, data)
	}
	return data, nil
}

// fillAssetNames names rows stored without a display name
func (s *PortfolioService) fillAssetNames(ctx context.Context, data *models.PortfolioSnapshot) {
	for i := range data.Assets {
		asset := &data.Assets[i]
		if asset.AssetName != "" && asset.AssetName != string(asset.AssetKey) {
			continue
		}
		if asset.AssetKey.IsNative() {
			asset.AssetName = string(types.NativeAssetKey)
			continue
		}
		asset.AssetName = string(asset.AssetKey)
		id, err := strconv.ParseUint(string(asset.AssetKey), 10, 64)
		if err != nil || s.assets == nil {
			continue
		}
		info, err := s.assets.GetAssetInfo(ctx, id)
		if err != nil {
			continue
		}
		asset.AssetName = info.DisplayName(string(asset.AssetKey))
	}
}

// Metrics returns the snapshot read metrics, nil when none are recorded
func (s *PortfolioService) Metrics() *SnapshotMetrics {
	return s.metrics
}

func utcDayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *PortfolioService) isExempt(email string) bool {
	return s.cfg.ExemptEmail != "" && strings.ToLower(strings.TrimSpace(email)) == s.cfg.ExemptEmail
}

// Refresh recomputes and stores the user's snapshot on demand. Manual
// refreshes are capped per UTC day unless the email is exempt.
func (s *PortfolioService) Refresh(ctx context.Context, userID, email string) (*models.PortfolioSnapshot, error) {
	wallets, err := s.verifiedAddresses(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, errors.NewNoVerifiedWalletsError()
	}

	if !s.isExempt(email) {
		count, err := s.audit.CountActionsSince(ctx, userID, AuditManualRefresh, utcDayStart(s.now()))
		if err != nil {
			return nil, errors.NewDatabaseError("count manual refreshes", err)
		}
		if count >= s.cfg.ManualDailyMax {
			return nil, errors.NewRefreshLimitExceededError(s.cfg.ManualDailyMax)
		}
	}

	snapshot, err := s.computeAndStore(ctx, userID, wallets)
	if err != nil {
		return nil, err
	}
	s.writeAudit(ctx, userID, AuditManualRefresh, map[string]interface{}{"walletCount": len(wallets)})
	return snapshot, nil
}

// RefreshAll recomputes the snapshot of every user with verified wallets.
// A failing user is counted and skipped.
func (s *PortfolioService) RefreshAll(ctx context.Context) (*RefreshSummary, error) {
	logger := logging.FromContext(ctx)
	rows, err := s.wallets.ListAllVerified(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list verified wallets", err)
	}

	var users []string
	byUser := make(map[string][]string)
	for _, row := range rows {
		if _, ok := byUser[row.UserID]; !ok {
			users = append(users, row.UserID)
		}
		byUser[row.UserID] = append(byUser[row.UserID], row.Address)
	}

	summary := &RefreshSummary{}
	for _, userID := range users {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		wallets := byUser[userID]
		if _, err := s.computeAndStore(ctx, userID, wallets); err != nil {
			logger.WithError(err).WithField("userId", userID).Warn("Scheduled refresh failed")
			summary.FailedUsers++
			continue
		}
		s.writeAudit(ctx, userID, AuditAutoRefresh, map[string]interface{}{"walletCount": len(wallets)})
		summary.RefreshedUsers++
	}

	logger.WithFields(map[string]interface{}{
		"refreshed": summary.RefreshedUsers,
		"failed":    summary.FailedUsers,
	}).Info("Scheduled refresh finished")
	return summary, nil
}

// LatestAssetsFromSnapshot lists the held assets of a snapshot with their
// balances and spot prices
func LatestAssetsFromSnapshot(data *models.PortfolioSnapshot) []LatestAssetState {
	var out []LatestAssetState
	for _, asset := range data.Assets {
		if asset.Balance <= 0 {
			continue
		}
		out = append(out, LatestAssetState{AssetKey: asset.AssetKey, Balance: asset.Balance, PriceUSD: asset.PriceUSD})
	}
	return out
}

// GetHistory reconstructs the value history of the user's latest snapshot
func (s *PortfolioService) GetHistory(ctx context.Context, userID string) ([]types.HistoryPoint, error) {
	stored, err := s.snapshots.GetLatest(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("get snapshot", err)
	}
	if stored == nil || stored.Data == nil {
		return []types.HistoryPoint{}, nil
	}

	data := stored.Data
	txs := HistoryTxsFromRows(data.Transactions)
	latest := LatestAssetsFromSnapshot(data)
	value := data.Totals.ValueUSD

	history := BuildPortfolioHistoryFromTransactions(HistoryInput{
		Transactions:   txs,
		LatestValueUSD: &value,
		LatestTS:       stored.ComputedAt,
		LatestAssets:   latest,
		DailyPrices:    s.dailyPrices(ctx, txs, latest, stored.ComputedAt),
	})
	if history == nil {
		history = []types.HistoryPoint{}
	}
	return history, nil
}

// dailyPrices loads stored day prices for the history range and tops them
// up from the historical provider when stored coverage is incomplete.
func (s *PortfolioService) dailyPrices(ctx context.Context, txs []HistoryTransaction, latest []LatestAssetState, latestTS time.Time) []models.DailyPrice {
	if s.daily == nil || len(latest) == 0 {
		return nil
	}
	logger := logging.FromContext(ctx)

	var first int64
	for _, tx := range txs {
		if tx.Ts > 0 && (first == 0 || tx.Ts < first) {
			first = tx.Ts
		}
	}
	if first == 0 || first > latestTS.Unix() {
		return nil
	}
	days := enumerateDays(types.DayKeyFromUnix(first), types.DayKeyFromUnix(latestTS.Unix()))

	keys := make([]types.AssetKey, 0, len(latest))
	names := make([]string, 0, len(latest))
	for _, a := range latest {
		keys = append(keys, a.AssetKey)
		names = append(names, string(a.AssetKey))
	}

	stored, err := s.daily.GetRange(ctx, names, days[0], days[len(days)-1])
	if err != nil {
		logger.WithError(err).Warn("Failed to load stored daily prices")
		stored = nil
	}
	if len(stored) == len(days)*len(keys) && CalculateDailyCoverage(stored, latest) >= 1 {
		return stored
	}
	if s.prices == nil {
		return stored
	}

	timestamps := make([]int64, len(days))
	for i, day := range days {
		timestamps[i] = parseDay(day).Unix()
	}
	historical := s.prices.GetHistoricalPricesUSDByDay(ctx, keys, timestamps)

	now := s.now().UTC()
	var fresh, priced []models.DailyPrice
	for _, key := range keys {
		for i, day := range days {
			row := models.DailyPrice{
				AssetKey:  string(key),
				DayKey:    day,
				PriceUSD:  historical[types.HistoricalPriceKey(key, timestamps[i])],
				Source:    dailyPriceSource,
				UpdatedAt: now,
			}
			fresh = append(fresh, row)
			if IsFinitePrice(row.PriceUSD) {
				priced = append(priced, row)
			}
		}
	}

	if len(priced) > 0 {
		if err := s.daily.Upsert(ctx, priced); err != nil {
			logger.WithError(err).Warn("Failed to store daily prices")
		}
	}
	return ChooseBestDailyPrices(stored, fresh, latest)
}

// GetWalletSeries builds daily per-wallet series from the latest snapshot.
// With an empty assetKey the series are USD values, otherwise balances of
// that asset.
func (s *PortfolioService) GetWalletSeries(ctx context.Context, userID string, assetKey types.AssetKey) (*WalletSeriesResult, error) {
	result := &WalletSeriesResult{AssetKey: assetKey, Series: []WalletSeries{}}

	stored, err := s.snapshots.GetLatest(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("get snapshot", err)
	}
	if stored == nil || stored.Data == nil {
		result.Aggregate = SumAlignedSeries(AlignedSeries{})
		return result, nil
	}
	data := stored.Data

	wallets := make([]string, 0, len(data.Wallets))
	for _, w := range data.Wallets {
		wallets = append(wallets, w.Wallet)
	}
	txs := AnalyticsTxsFromRows(data.Transactions)

	var series []WalletSeries
	if assetKey == "" {
		latest := make(map[string]float64, len(data.Wallets))
		for _, w := range data.Wallets {
			latest[w.Wallet] = w.TotalValueUSD
		}
		series = BuildPerWalletValueSeries(txs, wallets, latest, stored.ComputedAt)
	} else {
		latest := make(map[string]float64)
		for _, asset := range data.Assets {
			if asset.AssetKey != assetKey {
				continue
			}
			for _, b := range asset.WalletBreakdown {
				latest[b.Wallet] = b.Balance
			}
		}
		series = BuildPerWalletAssetBalanceSeries(txs, wallets, assetKey, latest, stored.ComputedAt)
	}

	result.Series = NormalizeSeriesToUTCDailyClose(series)
	result.Aggregate = SumAlignedSeries(AlignSeriesByTimestamp(result.Series))
	return result, nil
}
