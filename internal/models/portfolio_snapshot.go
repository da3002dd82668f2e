package models

import (
	"time"

	"github.com/algo-portfolio/internal/types"
)

// MethodFIFO is the only supported accounting method
const MethodFIFO = "FIFO"

// PortfolioSnapshot is the point-in-time view over a set of wallets.
// Each computation produces a new, independent instance.
type PortfolioSnapshot struct {
	ComputedAt    time.Time          `json:"computedAt"`
	PriceAsOf     time.Time          `json:"priceAsOf"`
	Method        string             `json:"method"`
	Totals        SnapshotTotals     `json:"totals"`
	Assets        []SnapshotAssetRow `json:"assets"`
	Transactions  []TransactionRow   `json:"transactions"`
	Wallets       []WalletSummary    `json:"wallets"`
	DefiPositions []DefiPosition     `json:"defiPositions"`
	YieldEstimate YieldEstimate      `json:"yieldEstimate"`
}

// SnapshotTotals sums the asset rows
type SnapshotTotals struct {
	ValueUSD         float64 `json:"valueUsd"`
	CostBasisUSD     float64 `json:"costBasisUsd"`
	RealizedPnlUSD   float64 `json:"realizedPnlUsd"`
	UnrealizedPnlUSD float64 `json:"unrealizedPnlUsd"`
}

// WalletBalance is one wallet's share of an asset
type WalletBalance struct {
	Wallet   string   `json:"wallet"`
	Balance  float64  `json:"balance"`
	ValueUSD *float64 `json:"valueUsd"`
}

// SnapshotAssetRow is the valuation of one asset across all wallets
type SnapshotAssetRow struct {
	AssetKey         types.AssetKey    `json:"assetKey"`
	AssetName        string            `json:"assetName"`
	Balance          float64           `json:"balance"`
	WalletBreakdown  []WalletBalance   `json:"walletBreakdown"`
	PriceUSD         *float64          `json:"priceUsd"`
	PriceSource      types.PriceSource `json:"priceSource"`
	ValueUSD         *float64          `json:"valueUsd"`
	CostBasisUSD     float64           `json:"costBasisUsd"`
	RealizedPnlUSD   float64           `json:"realizedPnlUsd"`
	UnrealizedPnlUSD *float64          `json:"unrealizedPnlUsd"`
	HasPrice         bool              `json:"hasPrice"`
	HasPriceGaps     bool              `json:"hasPriceGaps"`
}

// TxType is the ledger transaction kind of a row
type TxType string

const (
	TxTypePayment       TxType = "payment"
	TxTypeAssetTransfer TxType = "asset-transfer"
)

// ValueSource says which price valued a transaction row
type ValueSource string

const (
	ValueSourceHistorical ValueSource = "historical"
	ValueSourceSpot       ValueSource = "spot"
	ValueSourceMissing    ValueSource = "missing"
)

// TransactionRow is a USD-valued transaction as seen by the owned wallets
type TransactionRow struct {
	TxID         string          `json:"txId"`
	Ts           int64           `json:"ts"`
	Wallet       string          `json:"wallet"`
	Counterparty *string         `json:"counterparty"`
	TxType       TxType          `json:"txType"`
	Direction    types.Direction `json:"direction"`
	AssetKey     types.AssetKey  `json:"assetKey"`
	AssetName    string          `json:"assetName"`
	Amount       float64         `json:"amount"`
	UnitPriceUSD *float64        `json:"unitPriceUsd"`
	ValueUSD     *float64        `json:"valueUsd"`
	ValueSource  ValueSource     `json:"valueSource"`
	FeeAlgo      float64         `json:"feeAlgo"`
	FeeUSD       float64         `json:"feeUsd"`
}

// WalletSummary rolls a single wallet up
type WalletSummary struct {
	Wallet                string  `json:"wallet"`
	TotalValueUSD         float64 `json:"totalValueUsd"`
	TotalCostBasisUSD     float64 `json:"totalCostBasisUsd"`
	TotalRealizedPnlUSD   float64 `json:"totalRealizedPnlUsd"`
	TotalUnrealizedPnlUSD float64 `json:"totalUnrealizedPnlUsd"`
}

// DefiPosition is a valued position reported by a protocol adapter
type DefiPosition struct {
	Protocol     string                 `json:"protocol"`
	Wallet       string                 `json:"wallet"`
	PositionType string                 `json:"positionType"`
	Estimated    bool                   `json:"estimated"`
	ValueUSD     *float64               `json:"valueUsd"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
}

// YieldEstimate is a coarse yield figure derived from DeFi activity
type YieldEstimate struct {
	EstimatedAprPct *float64 `json:"estimatedAprPct"`
	Estimated       bool     `json:"estimated"`
	Note            string   `json:"note"`
}

// StoredSnapshot is a persisted snapshot owned by a user
type StoredSnapshot struct {
	ID         string             `json:"id" db:"id"`
	UserID     string             `json:"userId" db:"user_id"`
	Method     string             `json:"method" db:"method"`
	ComputedAt time.Time          `json:"computedAt" db:"computed_at"`
	Data       *PortfolioSnapshot `json:"data" db:"data"`
}
