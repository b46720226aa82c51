package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/finboard/market-metrics/internal/testutil"
	"github.com/finboard/market-metrics/pkg/fetch"
	"github.com/finboard/market-metrics/pkg/resolver"
	"github.com/finboard/market-metrics/pkg/store"
)

const bitcoinPath = "/coins/bitcoin"

const bitcoinBody = `{
	"name": "Bitcoin",
	"symbol": "btc",
	"market_data": {
		"current_price": {"usd": 64000},
		"price_change_percentage_24h": 1.2,
		"market_cap": {"usd": 1.2e12},
		"total_volume": {"usd": 3.0e10},
		"high_24h": {"usd": 64500},
		"low_24h": {"usd": 63000}
	}
}`

// newTestService wires a service over the mock upstream with fast retries.
func newTestService(t *testing.T, upstream *testutil.MockUpstream, window time.Duration) (*Service, *store.Memory) {
	t.Helper()

	st := store.NewMemory(window)
	fetcher := fetch.New(fetch.Config{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond})
	cfg := resolver.Config{
		CryptoBaseURL: upstream.URL(),
		FXBaseURL:     upstream.URL(),
	}
	return NewService(st, fetcher, resolver.All(cfg)), st
}

func decodePayload(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatalf("envelope data is not a JSON object: %v", err)
	}
	return m
}

func TestResolve_UnknownMetric(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	service, _ := newTestService(t, upstream, time.Minute)

	if _, err := service.Resolve(context.Background(), "gold"); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Resolve(gold) error = %v, want ErrUnknownMetric", err)
	}
}

func TestResolve_LiveFetchThenFreshCache(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse(bitcoinPath, testutil.NewHealthyResponse(bitcoinBody))
	service, _ := newTestService(t, upstream, time.Minute)
	ctx := context.Background()

	// First call: live fetch.
	first, err := service.Resolve(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !first.Success {
		t.Error("Success = false, want true")
	}
	if first.Cached {
		t.Error("Cached = true on live fetch, want false")
	}
	if first.Error != "" {
		t.Errorf("Error = %q on live fetch, want empty", first.Error)
	}
	if got := decodePayload(t, first)["price"]; got != float64(64000) {
		t.Errorf("price = %v, want 64000", got)
	}
	if upstream.RequestCount() != 1 {
		t.Fatalf("upstream requests = %d, want 1", upstream.RequestCount())
	}

	// Second call inside the window: fresh cache, identical value, no
	// upstream calls.
	second, err := service.Resolve(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !second.Cached {
		t.Error("Cached = false on fresh cache hit, want true")
	}
	if second.Error != "" {
		t.Errorf("Error = %q on fresh cache hit, want empty", second.Error)
	}
	if string(second.Data) != string(first.Data) {
		t.Errorf("cached value = %s, want identical to live value %s", second.Data, first.Data)
	}
	if upstream.RequestCount() != 1 {
		t.Errorf("upstream requests = %d after cache hit, want still 1", upstream.RequestCount())
	}
}

func TestResolve_DegradedServesStaleCache(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse(bitcoinPath, testutil.NewHealthyResponse(bitcoinBody))

	// Zero-ish window so the first write is immediately stale.
	service, _ := newTestService(t, upstream, time.Nanosecond)
	ctx := context.Background()

	first, err := service.Resolve(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Upstream dies; the stale cache entry must win over the static
	// default.
	upstream.SetResponse(bitcoinPath, testutil.NewRateLimitResponse())

	degraded, err := service.Resolve(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !degraded.Success {
		t.Error("Success = false on degraded resolution, want true")
	}
	if !degraded.Cached {
		t.Error("Cached = false on degraded resolution, want true")
	}
	if degraded.Error == "" {
		t.Error("Error = empty on degraded resolution, want advisory note")
	}
	if string(degraded.Data) != string(first.Data) {
		t.Errorf("degraded value = %s, want the prior cached value %s", degraded.Data, first.Data)
	}
}

func TestResolve_DegradedServesStaticDefault(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse(bitcoinPath, testutil.NewServerErrorResponse())
	service, _ := newTestService(t, upstream, time.Minute)

	env, err := service.Resolve(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !env.Success {
		t.Error("Success = false, want true even on total upstream failure")
	}
	if !env.Cached {
		t.Error("Cached = false on static fallback, want true")
	}
	if env.Error == "" {
		t.Error("Error = empty on static fallback, want advisory note")
	}

	payload := decodePayload(t, env)
	for _, field := range []string{"name", "symbol", "price", "change_24h", "market_cap", "volume_24h", "high_24h", "low_24h"} {
		if _, ok := payload[field]; !ok {
			t.Errorf("static fallback payload missing field %q", field)
		}
	}
	if payload["symbol"] != "BTC" {
		t.Errorf("symbol = %v, want BTC", payload["symbol"])
	}

	// All three attempts were spent.
	if got := upstream.PathCount(bitcoinPath); got != 3 {
		t.Errorf("upstream attempts = %d, want 3", got)
	}
}

func TestResolve_AllMetricsStructurallyComplete(t *testing.T) {
	// Upstream fails everything: every metric must still produce a
	// complete payload from its static default.
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	for _, path := range []string{"/coins/bitcoin", "/coins/ethereum", "/global", "/simple/price", "/latest/USD"} {
		upstream.SetResponse(path, testutil.NewServerErrorResponse())
	}
	service, _ := newTestService(t, upstream, time.Minute)
	ctx := context.Background()

	wantFields := map[string][]string{
		"bitcoin":    {"name", "symbol", "price", "change_24h", "market_cap", "volume_24h", "high_24h", "low_24h"},
		"ethereum":   {"name", "symbol", "price", "change_24h", "market_cap", "volume_24h", "high_24h", "low_24h"},
		"dominance":  {"btc_dominance", "eth_dominance", "total_market_cap"},
		"eth-btc":    {"ratio", "eth_price", "btc_price"},
		"currencies": {"base", "eur", "gbp", "jpy", "chf", "cad", "aud", "cny"},
		"indices":    {"sp500", "dow", "nasdaq", "ftse", "dax", "nikkei"},
	}

	for metric, fields := range wantFields {
		env, err := service.Resolve(ctx, metric)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", metric, err)
		}
		payload := decodePayload(t, env)
		for _, field := range fields {
			if v, ok := payload[field]; !ok || v == nil {
				t.Errorf("metric %q payload missing field %q", metric, field)
			}
		}
	}
}

func TestResolve_IndicesCachedWithinWindow(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	service, _ := newTestService(t, upstream, time.Minute)
	ctx := context.Background()

	first, err := service.Resolve(ctx, "indices")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first.Cached {
		t.Error("Cached = true on first indices resolution, want false")
	}

	second, err := service.Resolve(ctx, "indices")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !second.Cached {
		t.Error("Cached = false on second indices resolution, want true")
	}
	if string(second.Data) != string(first.Data) {
		t.Error("cached indices value differs from the first resolution")
	}
	if upstream.RequestCount() != 0 {
		t.Errorf("upstream requests = %d for indices, want 0", upstream.RequestCount())
	}
}

func TestClearAll_BehavesLikeFirstCall(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse(bitcoinPath, testutil.NewHealthyResponse(bitcoinBody))
	service, _ := newTestService(t, upstream, time.Minute)
	ctx := context.Background()

	if _, err := service.Resolve(ctx, "bitcoin"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := service.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}

	env, err := service.Resolve(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if env.Cached {
		t.Error("Cached = true after ClearAll, want a fresh live fetch")
	}
	if upstream.RequestCount() != 2 {
		t.Errorf("upstream requests = %d, want 2 (one before and one after the clear)", upstream.RequestCount())
	}

	// And with a dead upstream after the clear, no stale state leaks:
	// the fallback is the static default, not the old cache.
	if err := service.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	upstream.SetResponse(bitcoinPath, testutil.NewServerErrorResponse())

	degraded, err := service.Resolve(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := decodePayload(t, degraded)["price"]; got == float64(64000) {
		t.Error("degraded resolution served the cleared cache value, want static default")
	}
}

func TestResolve_SingleFlightDeduplicatesConcurrentMisses(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()

	release := make(chan struct{})
	upstream.SetHandler(bitcoinPath, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(bitcoinBody))
	})

	service, _ := newTestService(t, upstream, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Envelope, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := service.Resolve(ctx, "bitcoin")
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			results[i] = env
		}(i)
	}

	// Let the in-flight requests pile up on the handler, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := upstream.PathCount(bitcoinPath); got != 1 {
		t.Errorf("upstream requests = %d, want 1 shared in-flight fetch", got)
	}
	for i, env := range results {
		if string(env.Data) != string(results[0].Data) {
			t.Errorf("result %d differs from shared resolution", i)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse(bitcoinPath, testutil.NewHealthyResponse(bitcoinBody))
	service, _ := newTestService(t, upstream, time.Minute)
	ctx := context.Background()

	h := service.HealthCheck(ctx)
	if h.Status != "ok" {
		t.Errorf("Status = %q, want ok", h.Status)
	}
	if h.LastWriteAgeSeconds != nil {
		t.Error("LastWriteAgeSeconds set before any write, want absent")
	}

	if _, err := service.Resolve(ctx, "bitcoin"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	h = service.HealthCheck(ctx)
	if h.LastWriteAgeSeconds == nil {
		t.Fatal("LastWriteAgeSeconds absent after a write, want set")
	}
	if *h.LastWriteAgeSeconds < 0 || *h.LastWriteAgeSeconds > 60 {
		t.Errorf("LastWriteAgeSeconds = %v, want a small non-negative age", *h.LastWriteAgeSeconds)
	}
}

func TestMetrics_ListsServedNames(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	service, _ := newTestService(t, upstream, time.Minute)

	names := service.Metrics()
	if len(names) != 6 {
		t.Errorf("Metrics() returned %d names, want 6", len(names))
	}
}
