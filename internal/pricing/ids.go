// Package pricing resolves spot and historical USD prices of Algorand assets
// through an ordered chain of upstream resolvers backed by a shared cache.
package pricing

import (
	"strconv"
	"strings"

	"github.com/algo-portfolio/internal/types"
)

// NativeProviderID is the CoinGecko id of ALGO
const NativeProviderID = "algorand"

// DefaultAssetIDMap maps well-known ASA ids to CoinGecko ids
var DefaultAssetIDMap = map[uint64]string{
	31566704:   "usd-coin", // USDC
	312769:     "tether",   // USDt
	386192725:  "bitcoin",  // goBTC
	386195940:  "ethereum", // goETH
	793124631:  "algorand", // gALGO
	694432641:  "algorand", // gALGO3
	2537013734: "algorand", // tALGO
	2537013737: "algorand",
	1134696561: "xalgo", // xALGO
}

// IDMap translates asset keys into upstream provider ids
type IDMap struct {
	byAsset map[uint64]string
}

// NewIDMap starts from DefaultAssetIDMap and applies overrides keyed by
// decimal asset id. Keys that are not positive integers are ignored.
func NewIDMap(overrides map[string]string) *IDMap {
	m := &IDMap{byAsset: make(map[uint64]string, len(DefaultAssetIDMap)+len(overrides))}
	for id, providerID := range DefaultAssetIDMap {
		m.byAsset[id] = providerID
	}
	for raw, providerID := range overrides {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil || id == 0 || providerID == "" {
			continue
		}
		m.byAsset[id] = providerID
	}
	return m
}

// ProviderID returns the provider id of key, if one is known
func (m *IDMap) ProviderID(key types.AssetKey) (string, bool) {
	if key.IsNative() {
		return NativeProviderID, true
	}
	id, ok := key.AssetID()
	if !ok {
		return "", false
	}
	providerID, ok := m.byAsset[id]
	return providerID, ok
}

// CacheKey is the cache identity of key: its provider id when mapped,
// otherwise a chain-qualified asset id shared by the contract and DEX tiers
func (m *IDMap) CacheKey(key types.AssetKey) string {
	if providerID, ok := m.ProviderID(key); ok {
		return providerID
	}
	return "algorand:" + string(key)
}
