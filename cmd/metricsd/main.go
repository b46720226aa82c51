// metricsd serves six market metrics behind a read-through cache:
// fresh cache first, live fetch with retry second, stale cache or static
// fallback last.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finboard/market-metrics/pkg/fetch"
	"github.com/finboard/market-metrics/pkg/logging"
	"github.com/finboard/market-metrics/pkg/metrics"
	"github.com/finboard/market-metrics/pkg/resolver"
	"github.com/finboard/market-metrics/pkg/store"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})

	port := getEnv("PORT", "8080")
	window := getEnvDuration("CACHE_TTL", store.DefaultFreshnessWindow)

	// Cache store: in-memory by default, shared Redis tier when configured.
	var st store.Store
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		cancel()

		logger.Info().Str("redis_url", redisURL).Msg("Using Redis cache store")
		st = store.NewRedis(redisClient, window)
	} else {
		st = store.NewMemory(window)
	}

	fetcher := fetch.New(fetch.Config{
		MaxAttempts: getEnvInt("FETCH_MAX_ATTEMPTS", 3),
		BaseDelay:   getEnvDuration("FETCH_BASE_DELAY", 1*time.Second),
		UserAgent:   getEnv("USER_AGENT", "market-metrics/0.1.0"),
	})

	resolverCfg := resolver.DefaultConfig()
	if v := getEnv("CRYPTO_API_URL", ""); v != "" {
		resolverCfg.CryptoBaseURL = v
	}
	if v := getEnv("FX_API_URL", ""); v != "" {
		resolverCfg.FXBaseURL = v
	}

	service := metrics.NewService(st, fetcher, resolver.All(resolverCfg))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(service),
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Dur("freshness_window", window).
			Msg("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
