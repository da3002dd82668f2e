package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/algo-portfolio/internal/adapter"
	"github.com/algo-portfolio/internal/config"
	"github.com/algo-portfolio/internal/logging"
	"github.com/algo-portfolio/internal/types"
)

// HistorySource serves historical USD prices by provider id
type HistorySource interface {
	MarketChartRange(ctx context.Context, id string, from, to time.Time) ([]adapter.PricePoint, error)
	PriceOnDay(ctx context.Context, id string, day time.Time) (*float64, error)
}

// rangePadding widens ranged history requests on both sides
const rangePadding = 12 * time.Hour

// Service answers spot and historical price questions
type Service struct {
	resolvers []Resolver
	ids       *IDMap
	cache     Cache
	history   HistorySource
	now       func() time.Time
}

// NewService creates a price service. cache must not be nil; history may be
// nil, in which case every historical lookup is missing.
func NewService(resolvers []Resolver, ids *IDMap, cache Cache, history HistorySource) *Service {
	if ids == nil {
		ids = NewIDMap(nil)
	}
	return &Service{
		resolvers: resolvers,
		ids:       ids,
		cache:     cache,
		history:   history,
		now:       time.Now,
	}
}

// NewDefaultResolvers builds the waterfall from configuration: configured
// endpoint, provider default (unless identical), DefiLlama by id, DefiLlama
// by contract, then DexScreener
func NewDefaultResolvers(cfg config.PriceConfig, ids *IDMap) []Resolver {
	resolvers := []Resolver{
		NewSimplePriceResolver("configured", types.SourceConfigured,
			adapter.NewSimplePriceClient(cfg.ConfiguredURL, cfg.CoinGeckoKey, cfg.RequestTimeout), ids),
	}
	if cfg.ConfiguredURL != config.DefaultCoinGeckoSimplePriceURL {
		resolvers = append(resolvers, NewSimplePriceResolver("provider-default", types.SourceProviderDefault,
			adapter.NewSimplePriceClient(config.DefaultCoinGeckoSimplePriceURL, "", cfg.RequestTimeout), ids))
	}

	llama := adapter.NewLlamaPriceClient(cfg.DefiLlamaURL, cfg.RequestTimeout)
	resolvers = append(resolvers,
		NewLlamaResolver(llama, ids),
		NewContractResolver(llama, ids),
		NewDexResolver(adapter.NewDexScreenerClient(cfg.DexScreenerURL, cfg.RequestTimeout)),
	)
	return resolvers
}

func uniqueKeys(keys []types.AssetKey) []types.AssetKey {
	seen := make(map[types.AssetKey]bool, len(keys))
	out := make([]types.AssetKey, 0, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// GetSpotPriceQuotes resolves every key through the waterfall. Keys no tier
// could price fall back to the cache, then to a missing quote.
func (s *Service) GetSpotPriceQuotes(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]types.PriceQuote {
	now := s.now()
	pending := uniqueKeys(keys)
	quotes := make(map[types.AssetKey]types.PriceQuote, len(pending))

	for _, resolver := range s.resolvers {
		if len(pending) == 0 {
			break
		}
		resolved := resolver.Resolve(ctx, pending)

		still := pending[:0:0]
		for _, key := range pending {
			usd, ok := resolved[key]
			if !ok || !types.IsFinite(usd) || usd < 0 {
				still = append(still, key)
				continue
			}
			quotes[key] = types.NewPriceQuote(types.Float64Ptr(usd), resolver.Source(), now)
			s.cache.Set(ctx, s.ids.CacheKey(key), CachedPrice{USD: usd, At: now})
		}
		pending = still
	}

	for _, key := range pending {
		if cached, ok := s.cache.Get(ctx, s.ids.CacheKey(key)); ok {
			quotes[key] = types.NewPriceQuote(types.Float64Ptr(cached.USD), types.SourceCache, cached.At)
			continue
		}
		quotes[key] = types.NewPriceQuote(nil, types.SourceMissing, now)
	}

	if len(pending) > 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"requested":  len(quotes),
			"unresolved": len(pending),
		}).Debug("Spot prices fell back to cache or missing")
	}
	return quotes
}

// GetSpotPricesUSD is GetSpotPriceQuotes reduced to the price
func (s *Service) GetSpotPricesUSD(ctx context.Context, keys []types.AssetKey) map[types.AssetKey]*float64 {
	quotes := s.GetSpotPriceQuotes(ctx, keys)
	out := make(map[types.AssetKey]*float64, len(quotes))
	for key, quote := range quotes {
		out[key] = quote.USD
	}
	return out
}

// GetHistoricalPricesUSDByDay returns "assetKey:YYYY-MM-DD" -> USD price (nil
// when unknown) for every key and every UTC day touched by timestamps.
func (s *Service) GetHistoricalPricesUSDByDay(ctx context.Context, keys []types.AssetKey, timestamps []int64) map[string]*float64 {
	daySet := make(map[string]bool)
	for _, ts := range timestamps {
		if ts > 0 {
			daySet[types.DayKeyFromUnix(ts)] = true
		}
	}
	days := make([]string, 0, len(daySet))
	for day := range daySet {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make(map[string]*float64)
	if len(days) == 0 {
		return out
	}

	byProvider := make(map[string][]types.AssetKey)
	for _, key := range uniqueKeys(keys) {
		providerID, ok := s.ids.ProviderID(key)
		if !ok || s.history == nil {
			for _, day := range days {
				out[string(key)+":"+day] = nil
			}
			continue
		}
		byProvider[providerID] = append(byProvider[providerID], key)
	}

	providerIDs := make([]string, 0, len(byProvider))
	for id := range byProvider {
		providerIDs = append(providerIDs, id)
	}
	sort.Strings(providerIDs)

	for _, providerID := range providerIDs {
		prices := s.historicalForProvider(ctx, providerID, days)
		for _, key := range byProvider[providerID] {
			for _, day := range days {
				var price *float64
				if v, ok := prices[day]; ok {
					price = types.Float64Ptr(v)
				}
				out[string(key)+":"+day] = price
			}
		}
	}
	return out
}

func (s *Service) historicalForProvider(ctx context.Context, providerID string, days []string) map[string]float64 {
	logger := logging.FromContext(ctx).WithField("providerId", providerID)
	resolved := make(map[string]float64, len(days))

	var missing []string
	for _, day := range days {
		if cached, ok := s.cache.Get(ctx, historicalCacheKey(providerID, day)); ok {
			resolved[day] = cached.USD
			continue
		}
		missing = append(missing, day)
	}
	if len(missing) == 0 {
		return resolved
	}

	first, errFirst := time.Parse(types.DayKeyLayout, missing[0])
	last, errLast := time.Parse(types.DayKeyLayout, missing[len(missing)-1])
	if errFirst == nil && errLast == nil {
		from := first.Add(-rangePadding)
		to := last.Add(24*time.Hour + rangePadding)
		points, err := s.history.MarketChartRange(ctx, providerID, from, to)
		if err != nil {
			logger.WithError(err).Warn("Ranged price history failed")
		}

		sort.SliceStable(points, func(i, j int) bool { return points[i].TS.Before(points[j].TS) })
		lastByDay := make(map[string]float64)
		for _, p := range points {
			if types.IsFinite(p.USD) && p.USD >= 0 {
				lastByDay[p.TS.UTC().Format(types.DayKeyLayout)] = p.USD
			}
		}

		remaining := missing[:0:0]
		for _, day := range missing {
			if price, ok := lastByDay[day]; ok {
				s.storeHistorical(ctx, providerID, day, price, resolved)
				continue
			}
			remaining = append(remaining, day)
		}
		missing = remaining
	}

	for _, day := range missing {
		at, err := time.Parse(types.DayKeyLayout, day)
		if err != nil {
			continue
		}
		price, err := s.history.PriceOnDay(ctx, providerID, at)
		if err != nil {
			logger.WithError(err).WithField("day", day).Warn("Single-day price history failed")
			continue
		}
		if price != nil && types.IsFinite(*price) && *price >= 0 {
			s.storeHistorical(ctx, providerID, day, *price, resolved)
		}
	}
	return resolved
}

func (s *Service) storeHistorical(ctx context.Context, providerID, day string, price float64, into map[string]float64) {
	into[day] = price
	s.cache.Set(ctx, historicalCacheKey(providerID, day), CachedPrice{USD: price, At: s.now()})
}
