package resolver

import (
	"context"
)

// EthBtcPayload is the normalized shape for the eth/btc pair metric.
type EthBtcPayload struct {
	Ratio    float64 `json:"ratio"`
	EthPrice float64 `json:"eth_price"`
	BtcPrice float64 `json:"btc_price"`
}

type ethBtc struct {
	cfg      Config
	fallback EthBtcPayload
}

// NewEthBtc returns the eth-btc pair resolver. Both prices come from one
// combined simple-price call.
func NewEthBtc(cfg Config) Resolver {
	return &ethBtc{
		cfg: cfg,
		fallback: EthBtcPayload{
			Ratio:    0.0387,
			EthPrice: 4300,
			BtcPrice: 111000,
		},
	}
}

func (e *ethBtc) Name() string { return MetricEthBtc }

func (e *ethBtc) Resolve(ctx context.Context, f Fetcher) (any, error) {
	url := e.cfg.CryptoBaseURL + "/simple/price?ids=bitcoin,ethereum&vs_currencies=usd"

	raw, err := f.FetchJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	ethPrice := floatAt(raw, e.fallback.EthPrice, "ethereum", "usd")
	btcPrice := floatAt(raw, e.fallback.BtcPrice, "bitcoin", "usd")

	ratio := e.fallback.Ratio
	if btcPrice > 0 {
		ratio = ethPrice / btcPrice
	}

	return EthBtcPayload{
		Ratio:    ratio,
		EthPrice: ethPrice,
		BtcPrice: btcPrice,
	}, nil
}

func (e *ethBtc) StaticDefault() any { return e.fallback }
