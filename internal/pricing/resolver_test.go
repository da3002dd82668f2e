package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/types"
)

func dexPair(chain, base, quote, price string, liquidity float64) adapter.DexPair {
	return adapter.DexPair{
		ChainID:    chain,
		PriceUSD:   price,
		BaseToken:  adapter.DexToken{Address: base},
		QuoteToken: adapter.DexToken{Symbol: quote},
		Liquidity:  &adapter.DexLiquidity{USD: liquidity},
	}
}

func TestSelectDexPrice(t *testing.T) {
	tests := []struct {
		name   string
		pairs  []adapter.DexPair
		want   float64
		wantOK bool
	}{
		{
			name: "prefers ALGO quoted pool over deeper stable pool",
			pairs: []adapter.DexPair{
				dexPair("algorand", "42", "USDC", "0.011", 90000),
				dexPair("algorand", "42", "ALGO", "0.010", 1000),
				dexPair("algorand", "42", "ALGO", "0.012", 5000),
			},
			want:   0.012,
			wantOK: true,
		},
		{
			name: "deepest pool when none quote ALGO",
			pairs: []adapter.DexPair{
				dexPair("algorand", "42", "USDC", "0.011", 100),
				dexPair("algorand", "42", "USDT", "0.013", 700),
			},
			want:   0.013,
			wantOK: true,
		},
		{
			name: "ignores other chains, other bases and bad prices",
			pairs: []adapter.DexPair{
				dexPair("ethereum", "42", "ALGO", "5", 1e9),
				dexPair("algorand", "43", "ALGO", "5", 1e9),
				dexPair("algorand", "42", "ALGO", "0", 1e9),
				dexPair("algorand", "42", "ALGO", "abc", 1e9),
			},
			wantOK: false,
		},
		{
			name:   "no pools",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectDexPrice(tt.pairs, "42")
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

type stubSearcher struct {
	pairs map[string][]adapter.DexPair
	err   error
	calls atomic.Int32
}

func (s *stubSearcher) SearchPairs(_ context.Context, query string) ([]adapter.DexPair, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.pairs[query], nil
}

func TestDexResolver(t *testing.T) {
	searcher := &stubSearcher{pairs: map[string][]adapter.DexPair{
		"42": {dexPair("algorand", "42", "ALGO", "0.5", 10)},
	}}
	r := NewDexResolver(searcher)

	got := r.Resolve(context.Background(), []types.AssetKey{"ALGO", "42", "43"})
	assert.Equal(t, map[types.AssetKey]float64{"42": 0.5}, got)
	assert.Equal(t, int32(2), searcher.calls.Load())
	assert.Equal(t, types.SourceDex, r.Source())
}

func TestDexResolverAllFailuresYieldNothing(t *testing.T) {
	r := NewDexResolver(&stubSearcher{err: errors.New("boom")})
	assert.Empty(t, r.Resolve(context.Background(), []types.AssetKey{"42"}))
}

func TestLlamaAndContractResolvers(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"coins":{"coingecko:algorand":{"price":0.2},"algorand:555":{"price":3.5}}}`))
	}))
	defer srv.Close()

	ids := NewIDMap(nil)
	client := adapter.NewLlamaPriceClient(srv.URL, time.Second)

	llama := NewLlamaResolver(client, ids)
	byID := llama.Resolve(context.Background(), []types.AssetKey{"ALGO", "555"})
	assert.Equal(t, map[types.AssetKey]float64{"ALGO": 0.2}, byID)
	assert.Equal(t, types.SourceAltProvider, llama.Source())

	contract := NewContractResolver(client, ids)
	byContract := contract.Resolve(context.Background(), []types.AssetKey{"ALGO", "31566704", "555"})
	assert.Equal(t, map[types.AssetKey]float64{"555": 3.5}, byContract)
	assert.Equal(t, types.SourceAltProvider, contract.Source())
	assert.Equal(t, types.ConfidenceMedium, types.ConfidenceFor(contract.Source()))

	require.Len(t, seen, 2)
	assert.Equal(t, "/coingecko:algorand", seen[0])
	assert.Equal(t, "/algorand:555", seen[1])
}

func TestIDMap(t *testing.T) {
	ids := NewIDMap(map[string]string{"123": "some-token", "bad": "x", "0": "zero", "31566704": "usd-coin-override"})

	id, ok := ids.ProviderID("ALGO")
	assert.True(t, ok)
	assert.Equal(t, NativeProviderID, id)

	id, ok = ids.ProviderID("123")
	assert.True(t, ok)
	assert.Equal(t, "some-token", id)

	id, _ = ids.ProviderID("31566704")
	assert.Equal(t, "usd-coin-override", id)

	_, ok = ids.ProviderID("999")
	assert.False(t, ok)

	assert.Equal(t, "algorand", ids.CacheKey("793124631"))
	assert.Equal(t, "algorand:999", ids.CacheKey("999"))
}
