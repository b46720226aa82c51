// Package resolver defines the per-metric resolvers: the upstream call(s) a
// metric needs, the transform from raw upstream JSON to the metric's
// normalized payload, and the static fallback used when neither cache nor
// live fetch can produce a value.
package resolver

import (
	"context"
)

// Metric names served by this system.
const (
	MetricBitcoin    = "bitcoin"
	MetricEthereum   = "ethereum"
	MetricDominance  = "dominance"
	MetricEthBtc     = "eth-btc"
	MetricCurrencies = "currencies"
	MetricIndices    = "indices"
)

// Fetcher is the upstream access a resolver needs.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string) (map[string]any, error)
}

// Resolver produces one metric's normalized payload.
//
// Resolve fails only when an upstream call itself fails; missing or null
// fields in an otherwise successful response are substituted field-by-field
// with the values from StaticDefault, never reported as errors. Every payload
// field is therefore always populated.
type Resolver interface {
	// Name returns the metric name.
	Name() string

	// Resolve performs the upstream call(s) and transforms the result.
	Resolve(ctx context.Context, f Fetcher) (any, error)

	// StaticDefault returns the fallback payload used when no cache entry
	// and no successful fetch exist.
	StaticDefault() any
}

// Config holds the upstream base URLs, overridable for tests.
type Config struct {
	// CryptoBaseURL is the cryptocurrency market-data API base
	// (coin detail, global dominance, simple multi-coin price).
	CryptoBaseURL string

	// FXBaseURL is the currency-exchange-rate API base (latest rates).
	FXBaseURL string
}

// DefaultConfig returns the production upstream endpoints.
func DefaultConfig() Config {
	return Config{
		CryptoBaseURL: "https://api.coingecko.com/api/v3",
		FXBaseURL:     "https://api.exchangerate-api.com/v4",
	}
}

// All returns the six resolvers, one per metric.
func All(cfg Config) []Resolver {
	return []Resolver{
		NewBitcoin(cfg),
		NewEthereum(cfg),
		NewDominance(cfg),
		NewEthBtc(cfg),
		NewCurrencies(cfg),
		NewIndices(),
	}
}

// dig walks nested JSON objects along the path.
func dig(m map[string]any, path ...string) (any, bool) {
	var current any = m
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// floatAt returns the number at the path, or def when the field is missing,
// null, or not numeric.
func floatAt(m map[string]any, def float64, path ...string) float64 {
	v, ok := dig(m, path...)
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return f
}

// stringAt returns the string at the path, or def when the field is missing,
// null, or not a string.
func stringAt(m map[string]any, def string, path ...string) string {
	v, ok := dig(m, path...)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}
