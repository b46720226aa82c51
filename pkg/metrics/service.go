// Package metrics provides the resolution orchestrator: the three-tier
// policy (fresh cache, live fetch, stale-cache-or-static fallback) behind a
// uniform response envelope.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/finboard/market-metrics/pkg/logging"
	"github.com/finboard/market-metrics/pkg/resolver"
	"github.com/finboard/market-metrics/pkg/store"
)

// Prometheus metrics for resolution outcomes.
var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metric_resolutions_total",
		Help: "Total metric resolutions by metric and outcome",
	}, []string{"metric", "outcome"})

	resolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metric_resolution_duration_seconds",
		Help:    "Metric resolution duration in seconds by metric",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"metric"})
)

// Resolution outcomes, as counted and logged.
const (
	outcomeFresh          = "fresh"
	outcomeLive           = "live"
	outcomeDegradedStale  = "degraded_stale"
	outcomeDegradedStatic = "degraded_static"
)

// degradedNote is the advisory error text carried by degraded envelopes.
const degradedNote = "Using cached data due to API limits"

// ErrUnknownMetric is returned for metric names outside the served set.
var ErrUnknownMetric = errors.New("unknown metric")

// Envelope wraps a metric payload for the caller. Success is always true:
// failures are absorbed into degraded resolutions, never surfaced as a
// top-level failure.
type Envelope struct {
	Success   bool            `json:"success"`
	Cached    bool            `json:"cached"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Health is the health-check snapshot.
type Health struct {
	Status              string   `json:"status"`
	UptimeSeconds       float64  `json:"uptime_seconds"`
	LastWriteAgeSeconds *float64 `json:"last_write_age_seconds,omitempty"`
}

// Service is the resolution orchestrator. It owns the cache store and the
// fetcher, and holds one resolver per metric.
type Service struct {
	store     store.Store
	fetcher   resolver.Fetcher
	resolvers map[string]resolver.Resolver
	sf        singleflight.Group
	logger    zerolog.Logger
	started   time.Time
}

// NewService creates the orchestrator over the given store, fetcher, and
// resolvers.
func NewService(st store.Store, f resolver.Fetcher, resolvers []resolver.Resolver) *Service {
	byName := make(map[string]resolver.Resolver, len(resolvers))
	for _, r := range resolvers {
		byName[r.Name()] = r
	}
	return &Service{
		store:     st,
		fetcher:   f,
		resolvers: byName,
		logger:    logging.NewLogger("orchestrator"),
		started:   time.Now(),
	}
}

// Metrics returns the served metric names.
func (s *Service) Metrics() []string {
	names := make([]string, 0, len(s.resolvers))
	for name := range s.resolvers {
		names = append(names, name)
	}
	return names
}

// Resolve applies the three-tier policy for the metric and always produces
// an envelope; the only possible error is an unknown metric name.
//
//  1. Fresh cache: return the cached value, cached=true.
//  2. Live fetch: run the resolver (deduplicated per metric via
//     singleflight), write the result back, return it, cached=false.
//  3. Degraded: on any live failure, return the last cached value even if
//     stale, or the resolver's static default when no entry exists, with
//     cached=true and an advisory error note.
func (s *Service) Resolve(ctx context.Context, name string) (Envelope, error) {
	r, ok := s.resolvers[name]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}

	start := time.Now()
	defer func() {
		resolutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	// Tier 1: fresh cache.
	if s.store.IsFresh(ctx, name) {
		if entry, err := s.store.Get(ctx, name); err == nil {
			resolutionsTotal.WithLabelValues(name, outcomeFresh).Inc()
			s.logger.Debug().
				Str("metric", name).
				Str("outcome", outcomeFresh).
				Dur("age", entry.Age(time.Now())).
				Msg("Served from fresh cache")
			return s.envelope(entry.Value, true, ""), nil
		}
		// Entry vanished between the freshness check and the read
		// (concurrent clear); fall through to a live fetch.
	}

	// Tier 2: live fetch, one in-flight resolution per metric.
	value, err, _ := s.sf.Do(name, func() (any, error) {
		return s.resolveLive(ctx, r)
	})
	if err == nil {
		resolutionsTotal.WithLabelValues(name, outcomeLive).Inc()
		s.logger.Debug().
			Str("metric", name).
			Str("outcome", outcomeLive).
			Msg("Served from live fetch")
		return s.envelope(value.(json.RawMessage), false, ""), nil
	}

	// Tier 3: degraded. Stale cache beats total failure; the static
	// default is the floor.
	if entry, cacheErr := s.store.Get(ctx, name); cacheErr == nil {
		resolutionsTotal.WithLabelValues(name, outcomeDegradedStale).Inc()
		s.logger.Warn().
			Err(err).
			Str("metric", name).
			Str("outcome", outcomeDegradedStale).
			Dur("age", entry.Age(time.Now())).
			Msg("Live fetch failed, serving stale cache")
		return s.envelope(entry.Value, true, degradedNote), nil
	}

	resolutionsTotal.WithLabelValues(name, outcomeDegradedStatic).Inc()
	s.logger.Warn().
		Err(err).
		Str("metric", name).
		Str("outcome", outcomeDegradedStatic).
		Msg("Live fetch failed with no cache, serving static default")

	fallback, marshalErr := json.Marshal(r.StaticDefault())
	if marshalErr != nil {
		// Static defaults are fixed structs; this cannot happen at
		// runtime, but the envelope contract still holds.
		fallback = json.RawMessage(`{}`)
	}
	return s.envelope(fallback, true, degradedNote), nil
}

// resolveLive runs the resolver and writes the result back to the store.
func (s *Service) resolveLive(ctx context.Context, r resolver.Resolver) (json.RawMessage, error) {
	payload, err := r.Resolve(ctx, s.fetcher)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if err := s.store.Put(ctx, r.Name(), raw); err != nil {
		// A failed cache write does not fail the resolution; the value
		// is live and valid, only the next caller pays for the miss.
		s.logger.Warn().Err(err).Str("metric", r.Name()).Msg("Cache write failed")
	}
	return raw, nil
}

// ClearAll resets every cache entry; the next resolution for any metric
// behaves like a first-ever call.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	s.logger.Info().Msg("Cache cleared")
	return nil
}

// HealthCheck reports process status and the age of the most recent cache
// write, if any write has happened.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if last, ok := s.store.LastWrite(ctx); ok {
		age := time.Since(last).Seconds()
		h.LastWriteAgeSeconds = &age
	}
	return h
}

// envelope builds the uniform response wrapper.
func (s *Service) envelope(data json.RawMessage, cached bool, note string) Envelope {
	return Envelope{
		Success:   true,
		Cached:    cached,
		Error:     note,
		Timestamp: time.Now(),
		Data:      data,
	}
}
