package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/models"
	"github.com/algo-portfolio/internal/types"
)

// SpotPricer resolves current USD prices
type SpotPricer interface {
	GetSpotPricesUSD(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]*float64
}

// DefiAdapter detects positions of one protocol across wallets
type DefiAdapter interface {
	Protocol() string
	Positions(ctx context.Context, wallets []string) ([]models.DefiPosition, error)
}

// DefiRegistry fans position detection out to every registered adapter
type DefiRegistry struct {
	adapters []DefiAdapter
}

// NewDefiRegistry creates a registry over adapters
func NewDefiRegistry(adapters ...DefiAdapter) *DefiRegistry {
	return &DefiRegistry{adapters: adapters}
}

// NewDefaultDefiRegistry registers the Tinyman adapter and the app-state
// detectors for Folks Finance and Reti pooling
func NewDefaultDefiRegistry(cfg config.DefiConfig, ledger adapter.LedgerSource, prices SpotPricer) *DefiRegistry {
	return NewDefiRegistry(
		NewTinymanAdapter(ledger, prices, cfg.TinymanAppIDs),
		NewAppStateAdapter("Folks Finance", "lending", ledger, cfg.FolksAppIDs),
		NewAppStateAdapter("Reti", "staking", ledger, cfg.RetiAppIDs),
	)
}

// Register adds an adapter
func (r *DefiRegistry) Register(a DefiAdapter) {
	r.adapters = append(r.adapters, a)
}

// Positions collects positions from every adapter. A failing adapter is
// logged and skipped.
func (r *DefiRegistry) Positions(ctx context.Context, wallets []string) []models.DefiPosition {
	out := make([]models.DefiPosition, 0)
	if r == nil {
		return out
	}
	for _, a := range r.adapters {
		positions, err := a.Positions(ctx, wallets)
		if err != nil {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"protocol": a.Protocol(),
				"wallets":  len(wallets),
			}).WithError(err).Warn("DeFi adapter failed")
			continue
		}
		out = append(out, positions...)
	}
	return out
}

// DefiComponent is one holding that makes up a position
type DefiComponent struct {
	AssetID  uint64   `json:"assetId"`
	Label    string   `json:"label"`
	Amount   float64  `json:"amount"`
	ValueUSD *float64 `json:"valueUsd"`
}

// TinymanAdapter detects Tinyman liquidity positions from LP token holdings
// and app local state
type TinymanAdapter struct {
	ledger adapter.LedgerSource
	prices SpotPricer
	appIDs map[uint64]bool
}

// NewTinymanAdapter creates a Tinyman adapter
func NewTinymanAdapter(ledger adapter.LedgerSource, prices SpotPricer, appIDs []uint64) *TinymanAdapter {
	return &TinymanAdapter{
		ledger: ledger,
		prices: prices,
		appIDs: toIDSet(appIDs),
	}
}

func (a *TinymanAdapter) Protocol() string {
	return "Tinyman"
}

// IsTinymanLPAsset reports whether asset metadata looks like a Tinyman pool token
func IsTinymanLPAsset(info *types.AssetInfo) bool {
	if info == nil {
		return false
	}
	var name, unit string
	if info.Name != nil {
		name = strings.ToLower(*info.Name)
	}
	if info.UnitName != nil {
		unit = strings.ToLower(*info.UnitName)
	}
	return strings.HasPrefix(unit, "tmpool") || strings.Contains(name, "tinyman") || strings.Contains(name, "pool token")
}

func (a *TinymanAdapter) Positions(ctx context.Context, wallets []string) ([]models.DefiPosition, error) {
	out := make([]models.DefiPosition, 0)
	for _, wallet := range wallets {
		account, err := a.ledger.GetAccountState(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("tinyman: account state of %s: %w", wallet, err)
		}

		components := make([]DefiComponent, 0)
		for _, holding := range account.Assets {
			if holding.Amount <= 0 {
				continue
			}
			info, err := a.ledger.GetAssetInfo(ctx, holding.AssetID)
			if err != nil {
				return nil, fmt.Errorf("tinyman: asset %d: %w", holding.AssetID, err)
			}
			if !IsTinymanLPAsset(info) {
				continue
			}
			components = append(components, DefiComponent{
				AssetID: holding.AssetID,
				Label:   info.DisplayName("ASA " + strconv.FormatUint(holding.AssetID, 10)),
				Amount:  holding.Amount,
			})
		}

		if len(components) > 0 {
			out = append(out, a.holdingsPosition(ctx, wallet, components))
			continue
		}
		if hasAnyApp(account.AppsLocalState, a.appIDs) {
			out = append(out, models.DefiPosition{
				Protocol:     a.Protocol(),
				Wallet:       wallet,
				PositionType: "lp",
				Estimated:    true,
				Meta: map[string]interface{}{
					"note": "Detected Tinyman app local state. LP composition not detected from holdings.",
				},
			})
		}
	}
	return out, nil
}

func (a *TinymanAdapter) holdingsPosition(ctx context.Context, wallet string, components []DefiComponent) models.DefiPosition {
	keys := make([]types.AssetKey, len(components))
	for i, c := range components {
		id := c.AssetID
		keys[i] = types.AssetKeyForID(&id)
	}
	prices := a.prices.GetSpotPricesUSD(ctx, keys)

	var total float64
	for i := range components {
		if p := prices[keys[i]]; p != nil {
			v := components[i].Amount * *p
			components[i].ValueUSD = &v
			total += types.FiniteOr(v, 0)
		}
	}

	var value *float64
	if total > 0 {
		value = types.Float64Ptr(total)
	}
	return models.DefiPosition{
		Protocol:     a.Protocol(),
		Wallet:       wallet,
		PositionType: "lp",
		Estimated:    true,
		ValueUSD:     value,
		Meta: map[string]interface{}{
			"source":     "tinyman-lp-holdings",
			"components": components,
		},
	}
}

// AppStateAdapter reports an unvalued position for every wallet opted into
// one of the protocol's applications
type AppStateAdapter struct {
	protocol     string
	positionType string
	ledger       adapter.LedgerSource
	appIDs       map[uint64]bool
}

// NewAppStateAdapter creates an app-state detector
func NewAppStateAdapter(protocol, positionType string, ledger adapter.LedgerSource, appIDs []uint64) *AppStateAdapter {
	return &AppStateAdapter{
		protocol:     protocol,
		positionType: positionType,
		ledger:       ledger,
		appIDs:       toIDSet(appIDs),
	}
}

func (a *AppStateAdapter) Protocol() string {
	return a.protocol
}

func (a *AppStateAdapter) Positions(ctx context.Context, wallets []string) ([]models.DefiPosition, error) {
	out := make([]models.DefiPosition, 0)
	if len(a.appIDs) == 0 {
		return out, nil
	}
	for _, wallet := range wallets {
		account, err := a.ledger.GetAccountState(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("%s: account state of %s: %w", a.protocol, wallet, err)
		}
		if !hasAnyApp(account.AppsLocalState, a.appIDs) {
			continue
		}
		out = append(out, models.DefiPosition{
			Protocol:     a.protocol,
			Wallet:       wallet,
			PositionType: a.positionType,
			Estimated:    true,
			Meta: map[string]interface{}{
				"note": "Detected " + a.protocol + " app local state.",
			},
		})
	}
	return out, nil
}

func toIDSet(ids []uint64) map[uint64]bool {
	set := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func hasAnyApp(local []uint64, known map[uint64]bool) bool {
	for _, id := range local {
		if known[id] {
			return true
		}
	}
	return false
}
