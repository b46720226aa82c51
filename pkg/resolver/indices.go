package resolver

import (
	"context"
	"math/rand"
)

// IndicesPayload is the normalized shape for the stock-index metric.
type IndicesPayload struct {
	Sp500  float64 `json:"sp500"`
	Dow    float64 `json:"dow"`
	Nasdaq float64 `json:"nasdaq"`
	Ftse   float64 `json:"ftse"`
	Dax    float64 `json:"dax"`
	Nikkei float64 `json:"nikkei"`
}

// jitterFraction bounds the per-resolution perturbation to ±0.4% of each
// baseline.
const jitterFraction = 0.004

type indices struct {
	baseline IndicesPayload
}

// NewIndices returns the indices resolver. It has no live upstream: every
// non-cached resolution synthesizes a payload from fixed baselines plus a
// bounded pseudo-random perturbation, and the result is cached under the
// same freshness window as the fetched metrics.
func NewIndices() Resolver {
	return &indices{
		baseline: IndicesPayload{
			Sp500:  6450,
			Dow:    45500,
			Nasdaq: 21700,
			Ftse:   9200,
			Dax:    24300,
			Nikkei: 42700,
		},
	}
}

func (i *indices) Name() string { return MetricIndices }

func (i *indices) Resolve(_ context.Context, _ Fetcher) (any, error) {
	return IndicesPayload{
		Sp500:  perturb(i.baseline.Sp500),
		Dow:    perturb(i.baseline.Dow),
		Nasdaq: perturb(i.baseline.Nasdaq),
		Ftse:   perturb(i.baseline.Ftse),
		Dax:    perturb(i.baseline.Dax),
		Nikkei: perturb(i.baseline.Nikkei),
	}, nil
}

func (i *indices) StaticDefault() any { return i.baseline }

// perturb shifts the baseline by a uniform amount in ±jitterFraction.
func perturb(baseline float64) float64 {
	return baseline * (1 + (rand.Float64()*2-1)*jitterFraction)
}
