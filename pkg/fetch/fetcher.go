// Package fetch provides the retrying upstream fetcher: one logical
// "get JSON from URL" with bounded retries and arithmetic backoff.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/finboard/market-metrics/pkg/logging"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds, all attempts included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fetchExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the fetcher configuration.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	MaxAttempts int

	// BaseDelay is the backoff unit. Attempt i waits i * BaseDelay before
	// issuing its request, so attempt 0 starts immediately.
	BaseDelay time.Duration

	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		UserAgent:   "market-metrics/0.1.0",
	}
}

// Client performs upstream JSON fetches with retry.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a fetcher. Zero config fields fall back to defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logging.NewLogger("fetcher"),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// FetchJSON gets the URL and decodes the response body as a JSON object.
//
// The backoff is arithmetic: attempt i waits i * BaseDelay first, so the
// delay sequence for three attempts is [0, BaseDelay, 2*BaseDelay]. Every
// failure class is retried, rate limiting included; callers degrade to
// cached or static data on exhaustion rather than surfacing errors, so
// there is no non-retriable class here.
func (c *Client) FetchJSON(ctx context.Context, url string) (map[string]any, error) {
	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	var lastErr error

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.config.BaseDelay
			fetchRetriesTotal.WithLabelValues(string(classifyErr(lastErr))).Inc()

			c.logger.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying fetch after backoff")

			select {
			case <-ctx.Done():
				c.logger.Warn().
					Str("url", url).
					Int("attempt", attempt).
					Msg("Context cancelled during backoff")
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := c.attempt(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}

		if attempt > 0 {
			c.logger.Info().
				Str("url", url).
				Int("attempt", attempt).
				Msg("Fetch succeeded after retry")
		}
		return body, nil
	}

	class := classifyErr(lastErr)
	fetchExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str("url", url).
		Str("error_class", string(class)).
		Int("max_attempts", c.config.MaxAttempts).
		Msg("Fetch attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.config.MaxAttempts, lastErr)
}

// attempt issues a single GET and decodes the body.
func (c *Client) attempt(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		fetchRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Str("url", url).Msg("HTTP request failed")
		return nil, err
	}
	defer resp.Body.Close()

	fetchRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Class:      classify(resp.StatusCode, nil),
			URL:        url,
		}
		c.logger.Warn().
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(httpErr.Class)).
			Msg("Upstream request error")
		return nil, httpErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return decoded, nil
}

// classifyErr recovers the error class from a recorded attempt error.
func classifyErr(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Class
	}
	return ErrorClassNetwork
}
