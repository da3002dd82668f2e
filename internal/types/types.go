package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// AssetKey is the canonical string identity of a tradable unit.
// The native currency uses NativeAssetKey, standard assets use their numeric id.
type AssetKey string

// NativeAssetKey identifies the native currency (ALGO)
const NativeAssetKey AssetKey = "ALGO"

// MicroAlgosPerAlgo is the number of base units in one ALGO
const MicroAlgosPerAlgo = 1_000_000

// AssetKeyForID returns the canonical key for an asset id; nil means native
func AssetKeyForID(assetID *uint64) AssetKey {
	if assetID == nil {
		return NativeAssetKey
	}
	return AssetKey(strconv.FormatUint(*assetID, 10))
}

// ParseAssetKey normalizes user input to its canonical key: "algo" in any
// case, or a positive decimal asset id with leading zeros dropped
func ParseAssetKey(raw string) (AssetKey, bool) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, string(NativeAssetKey)) {
		return NativeAssetKey, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return "", false
	}
	return AssetKeyForID(&id), true
}

// IsNative reports whether the key is the native currency
func (k AssetKey) IsNative() bool {
	return k == NativeAssetKey
}

// AssetID parses the numeric id of a standard asset key
func (k AssetKey) AssetID() (uint64, bool) {
	if k.IsNative() {
		return 0, false
	}
	id, err := strconv.ParseUint(string(k), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Side is the direction of a lot event
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Direction is the direction of a transaction relative to the owned wallets
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionSelf Direction = "self"
)

// LotEvent is a buy or sell derived from one ledger transaction
type LotEvent struct {
	TxID         string   `json:"txId"`
	Ts           int64    `json:"ts"`
	AssetKey     AssetKey `json:"assetKey"`
	Side         Side     `json:"side"`
	Amount       float64  `json:"amount"`
	UnitPriceUSD *float64 `json:"unitPriceUsd"`
	FeeUSD       float64  `json:"feeUsd"`
	Wallet       string   `json:"wallet,omitempty"`
}

// AssetLotSummary is the FIFO result for one asset
type AssetLotSummary struct {
	AssetKey         AssetKey `json:"assetKey"`
	RemainingQty     float64  `json:"remainingQty"`
	RemainingCostUSD float64  `json:"remainingCostUsd"`
	RealizedPnlUSD   float64  `json:"realizedPnlUsd"`
	HasPriceGaps     bool     `json:"hasPriceGaps"`
	UnmatchedSellQty float64  `json:"unmatchedSellQty"`
}

// PriceSource identifies where a spot price came from
type PriceSource string

const (
	SourceConfigured      PriceSource = "configured"
	SourceProviderDefault PriceSource = "provider-default"
	SourceAltProvider     PriceSource = "alt-provider"
	SourceDex             PriceSource = "dex"
	SourceCache           PriceSource = "cache"
	SourceMissing         PriceSource = "missing"
)

// Confidence grades how much a price quote can be trusted
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor derives the confidence grade from the source
func ConfidenceFor(source PriceSource) Confidence {
	switch source {
	case SourceConfigured, SourceProviderDefault:
		return ConfidenceHigh
	case SourceAltProvider, SourceDex:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// PriceQuote is a resolved spot price with its provenance
type PriceQuote struct {
	USD        *float64    `json:"usd"`
	Source     PriceSource `json:"source"`
	Confidence Confidence  `json:"confidence"`
	AsOf       time.Time   `json:"asOf"`
}

// NewPriceQuote builds a quote whose confidence follows from source
func NewPriceQuote(usd *float64, source PriceSource, asOf time.Time) PriceQuote {
	return PriceQuote{
		USD:        usd,
		Source:     source,
		Confidence: ConfidenceFor(source),
		AsOf:       asOf,
	}
}

// HistoryPoint is one point of the value-over-time series
type HistoryPoint struct {
	TS       time.Time `json:"ts"`
	ValueUSD float64   `json:"valueUsd"`
}

// AssetHolding is a standard-asset balance in display units
type AssetHolding struct {
	AssetID  uint64  `json:"assetId"`
	Amount   float64 `json:"amount"`
	Decimals int     `json:"decimals"`
}

// AccountState is the current on-ledger state of one wallet
type AccountState struct {
	Address        string         `json:"address"`
	AlgoAmount     float64        `json:"algoAmount"`
	Assets         []AssetHolding `json:"assets"`
	AppsLocalState []uint64       `json:"appsLocalState"`
}

// AssetInfo is the static metadata of a standard asset
type AssetInfo struct {
	Decimals int     `json:"decimals"`
	Name     *string `json:"name"`
	UnitName *string `json:"unitName"`
}

// DisplayName returns unit name, then name, then the fallback
func (a *AssetInfo) DisplayName(fallback string) string {
	if a == nil {
		return fallback
	}
	if a.UnitName != nil && *a.UnitName != "" {
		return *a.UnitName
	}
	if a.Name != nil && *a.Name != "" {
		return *a.Name
	}
	return fallback
}

// PaymentTransfer is a native-currency transfer payload (amount in microalgos)
type PaymentTransfer struct {
	Receiver string `json:"receiver"`
	Amount   uint64 `json:"amount"`
}

// AssetTransfer is a standard-asset transfer payload (amount in base units)
type AssetTransfer struct {
	Receiver string `json:"receiver"`
	Amount   uint64 `json:"amount"`
	AssetID  uint64 `json:"assetId"`
}

// LedgerTxn is a flattened ledger transaction
type LedgerTxn struct {
	ID                 string           `json:"id"`
	Sender             string           `json:"sender"`
	Fee                uint64           `json:"fee"`
	ConfirmedRoundTime int64            `json:"confirmedRoundTime"`
	Group              string           `json:"group,omitempty"`
	Note               string           `json:"note,omitempty"`
	Payment            *PaymentTransfer `json:"paymentTransaction,omitempty"`
	AssetTransfer      *AssetTransfer   `json:"assetTransferTransaction,omitempty"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// DayKeyLayout formats a UTC calendar day
const DayKeyLayout = "2006-01-02"

// DayKeyFromUnix returns the UTC day key (YYYY-MM-DD) of a unix timestamp
func DayKeyFromUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DayKeyLayout)
}

// HistoricalPriceKey returns the "assetKey:YYYY-MM-DD" lookup key
func HistoricalPriceKey(key AssetKey, ts int64) string {
	return string(key) + ":" + DayKeyFromUnix(ts)
}

// IsFinite reports whether v is neither NaN nor infinite
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FiniteOr returns v when finite, otherwise fallback
func FiniteOr(v, fallback float64) float64 {
	if IsFinite(v) {
		return v
	}
	return fallback
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}
