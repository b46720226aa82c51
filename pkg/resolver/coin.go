package resolver

import (
	"context"
	"fmt"
	"strings"
)

// CoinPayload is the normalized shape for single-coin metrics.
type CoinPayload struct {
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	MarketCap float64 `json:"market_cap"`
	Volume24h float64 `json:"volume_24h"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
}

// coin resolves a single coin's market data from the coin-detail endpoint.
// Bitcoin and ethereum are the two instances; they differ only in coin ID
// and fallback constants.
type coin struct {
	name     string
	coinID   string
	cfg      Config
	fallback CoinPayload
}

// NewBitcoin returns the bitcoin metric resolver.
func NewBitcoin(cfg Config) Resolver {
	return &coin{
		name:   MetricBitcoin,
		coinID: "bitcoin",
		cfg:    cfg,
		fallback: CoinPayload{
			Name:      "Bitcoin",
			Symbol:    "BTC",
			Price:     111000,
			Change24h: 0,
			MarketCap: 2.21e12,
			Volume24h: 4.5e10,
			High24h:   111000,
			Low24h:    111000,
		},
	}
}

// NewEthereum returns the ethereum metric resolver.
func NewEthereum(cfg Config) Resolver {
	return &coin{
		name:   MetricEthereum,
		coinID: "ethereum",
		cfg:    cfg,
		fallback: CoinPayload{
			Name:      "Ethereum",
			Symbol:    "ETH",
			Price:     4300,
			Change24h: 0,
			MarketCap: 5.2e11,
			Volume24h: 2.4e10,
			High24h:   4300,
			Low24h:    4300,
		},
	}
}

func (c *coin) Name() string { return c.name }

func (c *coin) Resolve(ctx context.Context, f Fetcher) (any, error) {
	url := fmt.Sprintf(
		"%s/coins/%s?localization=false&tickers=false&market_data=true&community_data=false&developer_data=false",
		c.cfg.CryptoBaseURL, c.coinID)

	raw, err := f.FetchJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.transform(raw), nil
}

// transform maps the raw coin-detail document onto the fixed payload shape,
// substituting the fallback value for any field the upstream omitted.
func (c *coin) transform(raw map[string]any) CoinPayload {
	symbol := stringAt(raw, c.fallback.Symbol, "symbol")
	return CoinPayload{
		Name:      stringAt(raw, c.fallback.Name, "name"),
		Symbol:    strings.ToUpper(symbol),
		Price:     floatAt(raw, c.fallback.Price, "market_data", "current_price", "usd"),
		Change24h: floatAt(raw, c.fallback.Change24h, "market_data", "price_change_percentage_24h"),
		MarketCap: floatAt(raw, c.fallback.MarketCap, "market_data", "market_cap", "usd"),
		Volume24h: floatAt(raw, c.fallback.Volume24h, "market_data", "total_volume", "usd"),
		High24h:   floatAt(raw, c.fallback.High24h, "market_data", "high_24h", "usd"),
		Low24h:    floatAt(raw, c.fallback.Low24h, "market_data", "low_24h", "usd"),
	}
}

func (c *coin) StaticDefault() any { return c.fallback }
