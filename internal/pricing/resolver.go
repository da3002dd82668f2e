package pricing

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/circuitbreaker"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/types"
)

// Resolver is one tier of the spot price waterfall. Resolve returns prices
// for whichever of the missing keys it could price; upstream failures are
// logged and yield no result.
type Resolver interface {
	Name() string
	Source() types.PriceSource
	Resolve(ctx context.Context, missing []types.AssetKey) map[types.AssetKey]float64
}

type lookupFunc func(ctx context.Context, missing []types.AssetKey) (map[types.AssetKey]float64, error)

// guardedResolver runs a lookup behind a circuit breaker
type guardedResolver struct {
	name    string
	source  types.PriceSource
	lookup  lookupFunc
	breaker *circuitbreaker.CircuitBreaker
}

func newGuardedResolver(name string, source types.PriceSource, lookup lookupFunc) *guardedResolver {
	return &guardedResolver{
		name:    name,
		source:  source,
		lookup:  lookup,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("price-" + name)),
	}
}

func (r *guardedResolver) Name() string              { return r.name }
func (r *guardedResolver) Source() types.PriceSource { return r.source }

func (r *guardedResolver) Resolve(ctx context.Context, missing []types.AssetKey) map[types.AssetKey]float64 {
	var out map[types.AssetKey]float64
	err := r.breaker.Execute(ctx, func() error {
		var err error
		out, err = r.lookup(ctx, missing)
		return err
	})
	if err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"resolver": r.name,
			"assets":   len(missing),
			"error":    err.Error(),
		}).Warn("Price resolver failed")
		return nil
	}
	return out
}

// groupByProviderID returns provider id -> asset keys sharing it, skipping unmapped keys
func groupByProviderID(ids *IDMap, keys []types.AssetKey, prefix string) map[string][]types.AssetKey {
	groups := make(map[string][]types.AssetKey)
	for _, key := range keys {
		providerID, ok := ids.ProviderID(key)
		if !ok {
			continue
		}
		groups[prefix+providerID] = append(groups[prefix+providerID], key)
	}
	return groups
}

func sortedKeys(groups map[string][]types.AssetKey) []string {
	out := make([]string, 0, len(groups))
	for k := range groups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func spreadPrices(groups map[string][]types.AssetKey, prices map[string]float64) map[types.AssetKey]float64 {
	out := make(map[types.AssetKey]float64)
	for upstreamID, keys := range groups {
		price, ok := prices[upstreamID]
		if !ok {
			continue
		}
		for _, key := range keys {
			out[key] = price
		}
	}
	return out
}

// NewSimplePriceResolver prices mapped assets through a simple/price endpoint
func NewSimplePriceResolver(name string, source types.PriceSource, client *adapter.SimplePriceClient, ids *IDMap) Resolver {
	return newGuardedResolver(name, source, func(ctx context.Context, missing []types.AssetKey) (map[types.AssetKey]float64, error) {
		groups := groupByProviderID(ids, missing, "")
		if len(groups) == 0 {
			return nil, nil
		}
		prices, err := client.FetchUSD(ctx, sortedKeys(groups))
		if err != nil {
			return nil, err
		}
		return spreadPrices(groups, prices), nil
	})
}

// NewLlamaResolver prices mapped assets through DefiLlama "coingecko:<id>" coins
func NewLlamaResolver(client *adapter.LlamaPriceClient, ids *IDMap) Resolver {
	return newGuardedResolver("defillama", types.SourceAltProvider, func(ctx context.Context, missing []types.AssetKey) (map[types.AssetKey]float64, error) {
		groups := groupByProviderID(ids, missing, "coingecko:")
		if len(groups) == 0 {
			return nil, nil
		}
		prices, err := client.FetchUSD(ctx, sortedKeys(groups))
		if err != nil {
			return nil, err
		}
		return spreadPrices(groups, prices), nil
	})
}

// NewContractResolver prices unmapped ASAs through DefiLlama "algorand:<assetId>" coins
func NewContractResolver(client *adapter.LlamaPriceClient, ids *IDMap) Resolver {
	return newGuardedResolver("defillama-contract", types.SourceAltProvider, func(ctx context.Context, missing []types.AssetKey) (map[types.AssetKey]float64, error) {
		groups := make(map[string][]types.AssetKey)
		for _, key := range missing {
			if key.IsNative() {
				continue
			}
			if _, mapped := ids.ProviderID(key); mapped {
				continue
			}
			if _, ok := key.AssetID(); !ok {
				continue
			}
			coin := "algorand:" + string(key)
			groups[coin] = append(groups[coin], key)
		}
		if len(groups) == 0 {
			return nil, nil
		}
		prices, err := client.FetchUSD(ctx, sortedKeys(groups))
		if err != nil {
			return nil, err
		}
		return spreadPrices(groups, prices), nil
	})
}

// PairSearcher finds DEX pools for a query
type PairSearcher interface {
	SearchPairs(ctx context.Context, query string) ([]adapter.DexPair, error)
}

// SelectDexPrice picks the price of assetID from DEX pools on Algorand where
// the asset is the base token. Pools quoted in ALGO win, then the deepest
// pool by USD liquidity.
func SelectDexPrice(pairs []adapter.DexPair, assetID string) (float64, bool) {
	var best, bestAlgo *adapter.DexPair
	var bestPrice, bestAlgoPrice float64

	for i := range pairs {
		pair := &pairs[i]
		if !strings.EqualFold(pair.ChainID, "algorand") || pair.BaseToken.Address != assetID {
			continue
		}
		price, ok := pair.PriceUSDValue()
		if !ok || !types.IsFinite(price) || price <= 0 {
			continue
		}
		if best == nil || pair.LiquidityUSD() > best.LiquidityUSD() {
			best, bestPrice = pair, price
		}
		if strings.EqualFold(pair.QuoteToken.Symbol, "ALGO") {
			if bestAlgo == nil || pair.LiquidityUSD() > bestAlgo.LiquidityUSD() {
				bestAlgo, bestAlgoPrice = pair, price
			}
		}
	}

	switch {
	case bestAlgo != nil:
		return bestAlgoPrice, true
	case best != nil:
		return bestPrice, true
	default:
		return 0, false
	}
}

// NewDexResolver prices ASAs from DEX pools, one concurrent lookup per asset
func NewDexResolver(client PairSearcher) Resolver {
	return newGuardedResolver("dexscreener", types.SourceDex, func(ctx context.Context, missing []types.AssetKey) (map[types.AssetKey]float64, error) {
		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			out      = make(map[types.AssetKey]float64)
			failures int
			lastErr  error
			lookups  int
		)

		for _, key := range missing {
			if _, ok := key.AssetID(); !ok {
				continue
			}
			lookups++
			wg.Add(1)
			go func(key types.AssetKey) {
				defer wg.Done()
				pairs, err := client.SearchPairs(ctx, string(key))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures++
					lastErr = err
					return
				}
				if price, ok := SelectDexPrice(pairs, string(key)); ok {
					out[key] = price
				}
			}(key)
		}
		wg.Wait()

		if lookups > 0 && failures == lookups {
			return nil, lastErr
		}
		return out, nil
	})
}
