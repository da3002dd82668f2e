package service

import (
	"math"

	"github.com/algo-portfolio/internal/types"
)

// Scope decides how transfers between two owned wallets are treated
type Scope string

const (
	// ScopeGlobal treats the owned wallets as one book; internal transfers net out
	ScopeGlobal Scope = "global"
	// ScopePerWallet keeps one book per wallet; internal transfers become a sell and a buy
	ScopePerWallet Scope = "per-wallet"
)

// HistoricalPriceLookup returns the USD price of an asset on the UTC day of ts
type HistoricalPriceLookup func(key types.AssetKey, ts int64) *float64

// ClassifyInput is the input of ClassifyTransactions
type ClassifyInput struct {
	Transactions []types.LedgerTxn
	Owned        map[string]bool
	SpotPrices   map[types.AssetKey]*float64
	Decimals     map[types.AssetKey]int
	Historical   HistoricalPriceLookup
	Scope        Scope
}

type transferView struct {
	receiver string
	key      types.AssetKey
	amount   float64
}

func transferOf(txn types.LedgerTxn, decimals map[types.AssetKey]int) (transferView, bool) {
	switch {
	case txn.Payment != nil:
		return transferView{
			receiver: txn.Payment.Receiver,
			key:      types.NativeAssetKey,
			amount:   float64(txn.Payment.Amount) / types.MicroAlgosPerAlgo,
		}, true
	case txn.AssetTransfer != nil:
		id := txn.AssetTransfer.AssetID
		key := types.AssetKeyForID(&id)
		return transferView{
			receiver: txn.AssetTransfer.Receiver,
			key:      key,
			amount:   float64(txn.AssetTransfer.Amount) / math.Pow10(decimals[key]),
		}, true
	default:
		return transferView{}, false
	}
}

// ClassifyTransactions turns ledger transactions into lot events relative to
// the owned wallets. Network fees are charged to sells only.
func ClassifyTransactions(in ClassifyInput) []types.LotEvent {
	var algoSpot float64
	if p := in.SpotPrices[types.NativeAssetKey]; p != nil {
		algoSpot = *p
	}

	unitPrice := func(key types.AssetKey, ts int64) *float64 {
		if in.Historical != nil {
			if p := in.Historical(key, ts); p != nil {
				return p
			}
		}
		return in.SpotPrices[key]
	}

	events := make([]types.LotEvent, 0, len(in.Transactions))
	for _, txn := range in.Transactions {
		view, ok := transferOf(txn, in.Decimals)
		if !ok {
			continue
		}

		feeUSD := float64(txn.Fee) / types.MicroAlgosPerAlgo * algoSpot
		price := unitPrice(view.key, txn.ConfirmedRoundTime)
		senderOwned := in.Owned[txn.Sender]
		receiverOwned := in.Owned[view.receiver]

		sellEvent := types.LotEvent{
			TxID:         txn.ID,
			Ts:           txn.ConfirmedRoundTime,
			AssetKey:     view.key,
			Side:         types.SideSell,
			Amount:       view.amount,
			UnitPriceUSD: price,
			FeeUSD:       feeUSD,
			Wallet:       txn.Sender,
		}
		buyEvent := types.LotEvent{
			TxID:         txn.ID,
			Ts:           txn.ConfirmedRoundTime,
			AssetKey:     view.key,
			Side:         types.SideBuy,
			Amount:       view.amount,
			UnitPriceUSD: price,
			Wallet:       view.receiver,
		}

		switch {
		case senderOwned && receiverOwned:
			if in.Scope == ScopePerWallet && txn.Sender != view.receiver {
				events = append(events, sellEvent, buyEvent)
			}
		case senderOwned:
			events = append(events, sellEvent)
		case receiverOwned:
			events = append(events, buyEvent)
		}
	}
	return events
}
