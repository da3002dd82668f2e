package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "github.com/algo-portfolio/internal/errors"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/types"
)

// maxIndexerPage is the largest page the indexer accepts
const maxIndexerPage = 1000

// LedgerSource reads account state and transaction history of wallets
type LedgerSource interface {
	GetAccountState(ctx context.Context, address string) (*types.AccountState, error)
	GetTransactionsForAddress(ctx context.Context, address string, limit int) ([]types.LedgerTxn, error)
	GetAssetInfo(ctx context.Context, assetID uint64) (*types.AssetInfo, error)
}

// IndexerConfig configures an IndexerClient
type IndexerConfig struct {
	URL         string
	FallbackURL string
	Token       string
	TxLimit     int
	RPS         int
	Timeout     time.Duration
}

// IndexerClient is a LedgerSource backed by the Algorand indexer REST API
type IndexerClient struct {
	endpoints *EndpointProvider
	client    *http.Client
	limiter   *rate.Limiter
	token     string
	txLimit   int

	assetMu    sync.RWMutex
	assetInfos map[uint64]*types.AssetInfo
}

// NewIndexerClient creates an indexer client
func NewIndexerClient(cfg IndexerConfig) (*IndexerClient, error) {
	endpoints, err := NewEndpointProvider(cfg.URL, cfg.FallbackURL)
	if err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		burst = cfg.RPS
	}
	txLimit := cfg.TxLimit
	if txLimit <= 0 {
		txLimit = 500
	}

	return &IndexerClient{
		endpoints:  endpoints,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		token:      cfg.Token,
		txLimit:    txLimit,
		assetInfos: make(map[uint64]*types.AssetInfo),
	}, nil
}

// Health exposes the endpoint health of the client
func (c *IndexerClient) Health() *EndpointHealth {
	return c.endpoints.Health()
}

// fetch GETs path on the current endpoint, failing over once on a
// transport error, 429 or 5xx when a fallback is configured.
func (c *IndexerClient) fetch(ctx context.Context, path string, out interface{}) error {
	var headers map[string]string
	if c.token != "" {
		headers = map[string]string{"X-API-Key": c.token}
	}

	attempts := 1
	if c.endpoints.HasFallback() {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		base := c.endpoints.CurrentURL()
		start := time.Now()
		err := getJSON(ctx, c.client, "indexer", base+path, headers, out)
		if err == nil {
			c.endpoints.RecordSuccess(time.Since(start))
			return nil
		}
		lastErr = err

		if statusErr, ok := err.(*StatusError); ok && !statusErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.endpoints.RecordFailure()
		if i+1 < attempts {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"endpoint": base,
				"path":     path,
				"error":    err.Error(),
			}).Warn("Indexer request failed, trying fallback endpoint")
			_ = c.endpoints.Failover()
		}
	}
	return apperrors.NewProviderError("indexer", lastErr)
}

type indexerAssetResponse struct {
	Asset struct {
		Index  uint64 `json:"index"`
		Params *struct {
			Decimals *int    `json:"decimals"`
			Name     *string `json:"name"`
			UnitName *string `json:"unit-name"`
		} `json:"params"`
	} `json:"asset"`
}

// GetAssetInfo returns asset metadata, cached for the life of the client
func (c *IndexerClient) GetAssetInfo(ctx context.Context, assetID uint64) (*types.AssetInfo, error) {
	c.assetMu.RLock()
	cached, ok := c.assetInfos[assetID]
	c.assetMu.RUnlock()
	if ok {
		return cached, nil
	}

	var resp indexerAssetResponse
	if err := c.fetch(ctx, "/v2/assets/"+strconv.FormatUint(assetID, 10), &resp); err != nil {
		return nil, err
	}

	info := &types.AssetInfo{}
	if params := resp.Asset.Params; params != nil {
		if params.Decimals != nil {
			info.Decimals = *params.Decimals
		}
		info.Name = params.Name
		info.UnitName = params.UnitName
	}

	c.assetMu.Lock()
	c.assetInfos[assetID] = info
	c.assetMu.Unlock()
	return info, nil
}

type indexerAccountResponse struct {
	Account struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
		Assets  []struct {
			AssetID uint64 `json:"asset-id"`
			Amount  uint64 `json:"amount"`
		} `json:"assets"`
		AppsLocalState []struct {
			ID uint64 `json:"id"`
		} `json:"apps-local-state"`
	} `json:"account"`
}

// ScaleBaseUnits converts an integer base-unit amount into display units
func ScaleBaseUnits(amount uint64, decimals int) float64 {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), int32(-decimals)).InexactFloat64()
}

// GetAccountState returns the balances and opted-in applications of address
func (c *IndexerClient) GetAccountState(ctx context.Context, address string) (*types.AccountState, error) {
	var resp indexerAccountResponse
	if err := c.fetch(ctx, "/v2/accounts/"+url.PathEscape(address), &resp); err != nil {
		return nil, err
	}

	state := &types.AccountState{
		Address:    resp.Account.Address,
		AlgoAmount: ScaleBaseUnits(resp.Account.Amount, 6),
		Assets:     make([]types.AssetHolding, 0, len(resp.Account.Assets)),
	}
	if state.Address == "" {
		state.Address = address
	}

	for _, row := range resp.Account.Assets {
		info, err := c.GetAssetInfo(ctx, row.AssetID)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", row.AssetID, err)
		}
		state.Assets = append(state.Assets, types.AssetHolding{
			AssetID:  row.AssetID,
			Amount:   ScaleBaseUnits(row.Amount, info.Decimals),
			Decimals: info.Decimals,
		})
	}
	for _, app := range resp.Account.AppsLocalState {
		state.AppsLocalState = append(state.AppsLocalState, app.ID)
	}
	return state, nil
}

type rawPayment struct {
	Receiver string `json:"receiver"`
	Amount   uint64 `json:"amount"`
}

type rawAssetTransfer struct {
	Receiver string `json:"receiver"`
	Amount   uint64 `json:"amount"`
	AssetID  uint64 `json:"asset-id"`
}

type rawTxn struct {
	ID                 string            `json:"id"`
	Sender             string            `json:"sender"`
	Fee                uint64            `json:"fee"`
	ConfirmedRoundTime *int64            `json:"confirmed-round-time"`
	RoundTime          *int64            `json:"round-time"`
	Group              string            `json:"group"`
	Note               string            `json:"note"`
	Payment            *rawPayment       `json:"payment-transaction"`
	AssetTransfer      *rawAssetTransfer `json:"asset-transfer-transaction"`
	InnerTxns          []rawTxn          `json:"inner-txns"`
}

type indexerTxnPage struct {
	NextToken    string   `json:"next-token"`
	Transactions []rawTxn `json:"transactions"`
}

func (r *rawTxn) roundTime() (int64, bool) {
	if r.ConfirmedRoundTime != nil {
		return *r.ConfirmedRoundTime, true
	}
	if r.RoundTime != nil {
		return *r.RoundTime, true
	}
	return 0, false
}

func (r *rawTxn) toLedger(fallbackID, fallbackSender string, fallbackTime int64) types.LedgerTxn {
	out := types.LedgerTxn{
		ID:                 r.ID,
		Sender:             r.Sender,
		Fee:                r.Fee,
		ConfirmedRoundTime: fallbackTime,
		Group:              r.Group,
		Note:               r.Note,
	}
	if out.ID == "" {
		out.ID = fallbackID
	}
	if out.Sender == "" {
		out.Sender = fallbackSender
	}
	if ts, ok := r.roundTime(); ok {
		out.ConfirmedRoundTime = ts
	}
	if r.Payment != nil {
		out.Payment = &types.PaymentTransfer{Receiver: r.Payment.Receiver, Amount: r.Payment.Amount}
	}
	if r.AssetTransfer != nil {
		out.AssetTransfer = &types.AssetTransfer{
			Receiver: r.AssetTransfer.Receiver,
			Amount:   r.AssetTransfer.Amount,
			AssetID:  r.AssetTransfer.AssetID,
		}
	}
	return out
}

// flattenTxn returns the root followed by its inner transactions in
// breadth-first order. Inner transactions are identified as
// "<parent>:inner:<index>" and inherit the root sender and time.
func flattenTxn(root rawTxn) []types.LedgerTxn {
	rootTime, _ := root.roundTime()
	out := []types.LedgerTxn{root.toLedger(root.ID, root.Sender, rootTime)}

	type queued struct {
		txn  rawTxn
		path string
	}
	queue := make([]queued, 0, len(root.InnerTxns))
	for i, inner := range root.InnerTxns {
		queue = append(queue, queued{txn: inner, path: fmt.Sprintf("%s:inner:%d", root.ID, i)})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		out = append(out, current.txn.toLedger(current.path, root.Sender, rootTime))
		for i, nested := range current.txn.InnerTxns {
			queue = append(queue, queued{txn: nested, path: fmt.Sprintf("%s:inner:%d", current.path, i)})
		}
	}
	return out
}

func (c *IndexerClient) fetchByType(ctx context.Context, address, txType string, limit int) ([]types.LedgerTxn, error) {
	var collected []types.LedgerTxn
	nextToken := ""

	for len(collected) < limit {
		pageLimit := limit - len(collected)
		if pageLimit > maxIndexerPage {
			pageLimit = maxIndexerPage
		}

		query := url.Values{}
		query.Set("address", address)
		query.Set("tx-type", txType)
		query.Set("limit", strconv.Itoa(pageLimit))
		if nextToken != "" {
			query.Set("next", nextToken)
		}

		var page indexerTxnPage
		if err := c.fetch(ctx, "/v2/transactions?"+query.Encode(), &page); err != nil {
			return nil, err
		}
		for _, txn := range page.Transactions {
			collected = append(collected, flattenTxn(txn)...)
		}

		if page.NextToken == "" || len(page.Transactions) == 0 {
			break
		}
		nextToken = page.NextToken
	}
	return collected, nil
}

// GetTransactionsForAddress returns payments and asset transfers touching
// address, deduplicated by id and newest first. limit <= 0 uses the
// configured default.
func (c *IndexerClient) GetTransactionsForAddress(ctx context.Context, address string, limit int) ([]types.LedgerTxn, error) {
	if limit <= 0 {
		limit = c.txLimit
	}

	var payments, transfers []types.LedgerTxn
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payments, err = c.fetchByType(gctx, address, "pay", limit)
		return err
	})
	g.Go(func() error {
		var err error
		transfers, err = c.fetchByType(gctx, address, "axfer", limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]types.LedgerTxn, len(payments)+len(transfers))
	order := make([]string, 0, len(payments)+len(transfers))
	for _, txn := range append(payments, transfers...) {
		if _, seen := byID[txn.ID]; !seen {
			order = append(order, txn.ID)
		}
		byID[txn.ID] = txn
	}

	out := make([]types.LedgerTxn, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ConfirmedRoundTime > out[j].ConfirmedRoundTime
	})
	return out, nil
}

// MatchVerificationTransaction returns the first payment whose base64 note
// equals noteText and whose time lies within [minUnix, maxUnix]
func MatchVerificationTransaction(txns []types.LedgerTxn, noteText string, minUnix, maxUnix int64) *types.LedgerTxn {
	encoded := base64.StdEncoding.EncodeToString([]byte(noteText))
	for i := range txns {
		txn := txns[i]
		if txn.Note == "" || txn.Payment == nil {
			continue
		}
		if txn.ConfirmedRoundTime < minUnix || txn.ConfirmedRoundTime > maxUnix {
			continue
		}
		if txn.Note == encoded {
			return &txn
		}
	}
	return nil
}
