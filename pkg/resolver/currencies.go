package resolver

import (
	"context"
)

// CurrenciesPayload is the normalized shape for USD exchange rates.
type CurrenciesPayload struct {
	Base string  `json:"base"`
	Eur  float64 `json:"eur"`
	Gbp  float64 `json:"gbp"`
	Jpy  float64 `json:"jpy"`
	Chf  float64 `json:"chf"`
	Cad  float64 `json:"cad"`
	Aud  float64 `json:"aud"`
	Cny  float64 `json:"cny"`
}

type currencies struct {
	cfg      Config
	fallback CurrenciesPayload
}

// NewCurrencies returns the currency-rates resolver, fed by the latest-rates
// endpoint with USD as the base.
func NewCurrencies(cfg Config) Resolver {
	return &currencies{
		cfg: cfg,
		fallback: CurrenciesPayload{
			Base: "USD",
			Eur:  0.92,
			Gbp:  0.79,
			Jpy:  149.5,
			Chf:  0.88,
			Cad:  1.36,
			Aud:  1.52,
			Cny:  7.24,
		},
	}
}

func (c *currencies) Name() string { return MetricCurrencies }

func (c *currencies) Resolve(ctx context.Context, f Fetcher) (any, error) {
	raw, err := f.FetchJSON(ctx, c.cfg.FXBaseURL+"/latest/USD")
	if err != nil {
		return nil, err
	}
	return CurrenciesPayload{
		Base: c.fallback.Base,
		Eur:  floatAt(raw, c.fallback.Eur, "rates", "EUR"),
		Gbp:  floatAt(raw, c.fallback.Gbp, "rates", "GBP"),
		Jpy:  floatAt(raw, c.fallback.Jpy, "rates", "JPY"),
		Chf:  floatAt(raw, c.fallback.Chf, "rates", "CHF"),
		Cad:  floatAt(raw, c.fallback.Cad, "rates", "CAD"),
		Aud:  floatAt(raw, c.fallback.Aud, "rates", "AUD"),
		Cny:  floatAt(raw, c.fallback.Cny, "rates", "CNY"),
	}, nil
}

func (c *currencies) StaticDefault() any { return c.fallback }
