package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/algo-portfolio/internal/errors"
)

func TestSimplePriceClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "algorand,usd-coin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "k", r.Header.Get("x-cg-demo-api-key"))
		writeJSON(t, w, map[string]interface{}{
			"algorand": map[string]float64{"usd": 0.21},
			"usd-coin": map[string]float64{"usd": 1.0},
		})
	}))
	defer srv.Close()

	client := NewSimplePriceClient(srv.URL+"/simple/price", "k", time.Second)
	got, err := client.FetchUSD(context.Background(), []string{"Algorand", "usd-coin", "algorand", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"algorand": 0.21, "usd-coin": 1.0}, got)
}

func TestSimplePriceClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewSimplePriceClient(srv.URL, "", time.Second)
	_, err := client.FetchUSD(context.Background(), []string{"algorand"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Retryable())
	assert.Contains(t, statusErr.Body, "slow down")
}

func TestSimplePriceClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewSimplePriceClient(srv.URL, "", 50*time.Millisecond)
	_, err := client.FetchUSD(context.Background(), []string{"algorand"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderTimeout), "got %v", err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestLlamaPriceClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/current/coingecko:algorand,algorand:31566704", r.URL.Path)
		writeJSON(t, w, map[string]interface{}{
			"coins": map[string]interface{}{
				"coingecko:algorand":  map[string]interface{}{"price": 0.2, "symbol": "ALGO"},
				"algorand:31566704":  map[string]interface{}{"price": 0.999, "symbol": "USDC"},
			},
		})
	}))
	defer srv.Close()

	client := NewLlamaPriceClient(srv.URL+"/prices/current/", time.Second)
	got, err := client.FetchUSD(context.Background(), []string{"coingecko:algorand", "algorand:31566704"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, got["coingecko:algorand"])
	assert.Equal(t, 0.999, got["algorand:31566704"])
}

func TestDexScreenerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "123456", r.URL.Query().Get("q"))
		writeJSON(t, w, map[string]interface{}{
			"pairs": []map[string]interface{}{
				{
					"chainId":    "algorand",
					"priceUsd":   "0.0125",
					"baseToken":  map[string]string{"address": "123456", "symbol": "TKN"},
					"quoteToken": map[string]string{"address": "0", "symbol": "ALGO"},
					"liquidity":  map[string]float64{"usd": 5000},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewDexScreenerClient(srv.URL, time.Second)
	pairs, err := client.SearchPairs(context.Background(), "123456")
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	price, ok := pairs[0].PriceUSDValue()
	assert.True(t, ok)
	assert.Equal(t, 0.0125, price)
	assert.Equal(t, 5000.0, pairs[0].LiquidityUSD())
}

func TestCoinGeckoHistoryClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coins/algorand/market_chart/range":
			assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
			writeJSON(t, w, map[string]interface{}{
				"prices": [][2]float64{{1739577600000, 0.33}, {1739664000000, 0.35}},
			})
		case "/coins/algorand/history":
			assert.Equal(t, "15-02-2025", r.URL.Query().Get("date"))
			writeJSON(t, w, map[string]interface{}{
				"market_data": map[string]interface{}{"current_price": map[string]float64{"usd": 0.34}},
			})
		case "/coins/unknown/history":
			writeJSON(t, w, map[string]interface{}{"id": "unknown"})
		}
	}))
	defer srv.Close()

	client := NewCoinGeckoHistoryClient(srv.URL, "", time.Second)
	ctx := context.Background()
	day := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	points, err := client.MarketChartRange(ctx, "algorand", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, day, points[0].TS)
	assert.Equal(t, 0.33, points[0].USD)

	price, err := client.PriceOnDay(ctx, "algorand", day)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, 0.34, *price)

	missing, err := client.PriceOnDay(ctx, "unknown", day)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEndpointProviderSwitchesAfterRepeatedFailures(t *testing.T) {
	p, err := NewEndpointProvider("http://primary", "http://fallback")
	require.NoError(t, err)

	assert.False(t, p.RecordFailure())
	assert.False(t, p.RecordFailure())
	assert.True(t, p.RecordFailure())
	assert.Equal(t, "http://fallback", p.CurrentURL())
	assert.True(t, p.IsHealthy())

	p.RecordSuccess(10 * time.Millisecond)
	h := p.Health()
	assert.Equal(t, int64(4), h.TotalRequests)
	assert.Equal(t, int64(3), h.FailedRequests)

	p.Reset()
	assert.Equal(t, "http://primary", p.CurrentURL())

	_, err = NewEndpointProvider("", "")
	assert.Error(t, err)
}
