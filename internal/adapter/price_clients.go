package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultPriceTimeout = 10 * time.Second

func newPriceHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultPriceTimeout
	}
	return &http.Client{Timeout: timeout}
}

// coinGeckoKeyHeader picks the header name CoinGecko expects for baseURL
func coinGeckoKeyHeader(baseURL, apiKey string) map[string]string {
	if apiKey == "" {
		return nil
	}
	if strings.Contains(baseURL, "pro-api.coingecko.com") {
		return map[string]string{"x-cg-pro-api-key": apiKey}
	}
	return map[string]string{"x-cg-demo-api-key": apiKey}
}

// NormalizeIDs lowercases, trims and dedupes provider ids keeping order
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(strings.ToLower(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SimplePriceClient queries a CoinGecko-compatible simple/price endpoint
type SimplePriceClient struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewSimplePriceClient creates a client for the full simple/price URL
func NewSimplePriceClient(endpoint, apiKey string, timeout time.Duration) *SimplePriceClient {
	return &SimplePriceClient{
		endpoint: endpoint,
		headers:  coinGeckoKeyHeader(endpoint, apiKey),
		client:   newPriceHTTPClient(timeout),
	}
}

// Endpoint returns the URL the client queries
func (c *SimplePriceClient) Endpoint() string {
	return c.endpoint
}

// FetchUSD returns the USD price of each provider id the endpoint knows
func (c *SimplePriceClient) FetchUSD(ctx context.Context, ids []string) (map[string]float64, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	query := endpoint.Query()
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	endpoint.RawQuery = query.Encode()

	var payload map[string]map[string]float64
	if err := getJSON(ctx, c.client, "simple-price", endpoint.String(), c.headers, &payload); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(payload))
	for id, values := range payload {
		if price, ok := values["usd"]; ok {
			out[id] = price
		}
	}
	return out, nil
}

// LlamaPriceClient queries the DefiLlama current prices API.
// Coin keys look like "coingecko:algorand" or "algorand:31566704".
type LlamaPriceClient struct {
	baseURL string
	client  *http.Client
}

// NewLlamaPriceClient creates a DefiLlama client
func NewLlamaPriceClient(baseURL string, timeout time.Duration) *LlamaPriceClient {
	return &LlamaPriceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newPriceHTTPClient(timeout),
	}
}

type llamaResponse struct {
	Coins map[string]struct {
		Price      float64 `json:"price"`
		Symbol     string  `json:"symbol"`
		Timestamp  int64   `json:"timestamp"`
		Confidence float64 `json:"confidence"`
	} `json:"coins"`
}

// FetchUSD returns the USD price keyed by the requested coin key
func (c *LlamaPriceClient) FetchUSD(ctx context.Context, coins []string) (map[string]float64, error) {
	if len(coins) == 0 {
		return map[string]float64{}, nil
	}

	escaped := make([]string, len(coins))
	for i, coin := range coins {
		escaped[i] = url.PathEscape(coin)
	}

	var payload llamaResponse
	if err := getJSON(ctx, c.client, "defillama", c.baseURL+"/"+strings.Join(escaped, ","), nil, &payload); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(payload.Coins))
	for key, coin := range payload.Coins {
		out[key] = coin.Price
	}
	return out, nil
}

// DexToken is one side of a DEX pair
type DexToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// DexLiquidity is the pool depth reported by DexScreener
type DexLiquidity struct {
	USD float64 `json:"usd"`
}

// DexPair is a liquidity pool reported by DexScreener
type DexPair struct {
	ChainID    string        `json:"chainId"`
	DexID      string        `json:"dexId"`
	PairAddr   string        `json:"pairAddress"`
	PriceUSD   string        `json:"priceUsd"`
	BaseToken  DexToken      `json:"baseToken"`
	QuoteToken DexToken      `json:"quoteToken"`
	Liquidity  *DexLiquidity `json:"liquidity"`
}

// LiquidityUSD returns the pool liquidity or 0 when unknown
func (p DexPair) LiquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

// PriceUSDValue parses the string price of the base token
func (p DexPair) PriceUSDValue() (float64, bool) {
	v, err := strconv.ParseFloat(p.PriceUSD, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DexScreenerClient searches DexScreener pools
type DexScreenerClient struct {
	searchURL string
	client    *http.Client
}

// NewDexScreenerClient creates a client for the search endpoint
func NewDexScreenerClient(searchURL string, timeout time.Duration) *DexScreenerClient {
	return &DexScreenerClient{searchURL: searchURL, client: newPriceHTTPClient(timeout)}
}

// SearchPairs returns every pool matching query
func (c *DexScreenerClient) SearchPairs(ctx context.Context, query string) ([]DexPair, error) {
	endpoint, err := url.Parse(c.searchURL)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("q", query)
	endpoint.RawQuery = q.Encode()

	var payload struct {
		Pairs []DexPair `json:"pairs"`
	}
	if err := getJSON(ctx, c.client, "dexscreener", endpoint.String(), nil, &payload); err != nil {
		return nil, err
	}
	return payload.Pairs, nil
}

// PricePoint is one sample of a historical price series
type PricePoint struct {
	TS  time.Time
	USD float64
}

// CoinGeckoHistoryClient reads historical USD prices from CoinGecko
type CoinGeckoHistoryClient struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewCoinGeckoHistoryClient creates a client for the CoinGecko API root
func NewCoinGeckoHistoryClient(baseURL, apiKey string, timeout time.Duration) *CoinGeckoHistoryClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &CoinGeckoHistoryClient{
		baseURL: baseURL,
		headers: coinGeckoKeyHeader(baseURL, apiKey),
		client:  newPriceHTTPClient(timeout),
	}
}

// MarketChartRange returns the USD samples of id between from and to
func (c *CoinGeckoHistoryClient) MarketChartRange(ctx context.Context, id string, from, to time.Time) ([]PricePoint, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", c.baseURL, url.PathEscape(id), query.Encode())

	var payload struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := getJSON(ctx, c.client, "coingecko", endpoint, c.headers, &payload); err != nil {
		return nil, err
	}

	points := make([]PricePoint, 0, len(payload.Prices))
	for _, sample := range payload.Prices {
		points = append(points, PricePoint{
			TS:  time.UnixMilli(int64(sample[0])).UTC(),
			USD: sample[1],
		})
	}
	return points, nil
}

// PriceOnDay returns the USD price of id on the given UTC day, or nil when
// CoinGecko has no market data for it
func (c *CoinGeckoHistoryClient) PriceOnDay(ctx context.Context, id string, day time.Time) (*float64, error) {
	query := url.Values{}
	query.Set("date", day.UTC().Format("02-01-2006"))
	query.Set("localization", "false")
	endpoint := fmt.Sprintf("%s/coins/%s/history?%s", c.baseURL, url.PathEscape(id), query.Encode())

	var payload struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := getJSON(ctx, c.client, "coingecko", endpoint, c.headers, &payload); err != nil {
		return nil, err
	}
	if payload.MarketData == nil {
		return nil, nil
	}
	price, ok := payload.MarketData.CurrentPrice["usd"]
	if !ok {
		return nil, nil
	}
	return &price, nil
}
