package resolver

import (
	"context"
)

// DominancePayload is the normalized shape for the global dominance metric.
type DominancePayload struct {
	BtcDominance   float64 `json:"btc_dominance"`
	EthDominance   float64 `json:"eth_dominance"`
	TotalMarketCap float64 `json:"total_market_cap"`
}

type dominance struct {
	cfg      Config
	fallback DominancePayload
}

// NewDominance returns the btc-dominance metric resolver, fed by the
// global market endpoint.
func NewDominance(cfg Config) Resolver {
	return &dominance{
		cfg: cfg,
		fallback: DominancePayload{
			BtcDominance:   57.2,
			EthDominance:   12.8,
			TotalMarketCap: 3.9e12,
		},
	}
}

func (d *dominance) Name() string { return MetricDominance }

func (d *dominance) Resolve(ctx context.Context, f Fetcher) (any, error) {
	raw, err := f.FetchJSON(ctx, d.cfg.CryptoBaseURL+"/global")
	if err != nil {
		return nil, err
	}
	return DominancePayload{
		BtcDominance:   floatAt(raw, d.fallback.BtcDominance, "data", "market_cap_percentage", "btc"),
		EthDominance:   floatAt(raw, d.fallback.EthDominance, "data", "market_cap_percentage", "eth"),
		TotalMarketCap: floatAt(raw, d.fallback.TotalMarketCap, "data", "total_market_cap", "usd"),
	}, nil
}

func (d *dominance) StaticDefault() any { return d.fallback }
