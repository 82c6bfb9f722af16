package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"airmap/pkg/cache"
	"airmap/pkg/tracker"
	"airmap/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("airmap/%s", version.Version)

// maxErrorBody caps how much of an error response is kept for callers.
const maxErrorBody = 64 << 10

// ErrMaxRetries is returned when every attempt hit a retryable failure.
var ErrMaxRetries = errors.New("max retries exceeded")

// StatusError is a non-2xx response from the remote side.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.Code)
}

// ClientConfig tunes retries and timeouts.
type ClientConfig struct {
	Retries   int
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Logger receives one line per network attempt. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *ClientConfig) withDefaults() ClientConfig {
	out := *c
	if out.Retries <= 0 {
		out.Retries = 3
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 500 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Client handles HTTP requests with retries, caching, and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	cfg        ClientConfig
}

// New creates a new Client. A nil cache disables caching.
func New(c cache.Cacher, t *tracker.Tracker, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	if c == nil {
		c = cache.Nop{}
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
	}
}

// Get performs a GET request, using the cache if a key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := parsedURL.Host

	if cacheKey != "" {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	if err := c.backoff.Wait(ctx, provider); err != nil {
		c.tracker.TrackCancelled(provider)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	body, err := c.executeWithBackoff(req)
	switch {
	case err == nil:
		c.tracker.TrackAPISuccess(provider)
		c.backoff.RecordSuccess(provider)
		if cacheKey != "" {
			if err := c.cache.SetCache(ctx, cacheKey, body); err != nil {
				slog.Error("Failed to cache response", "url", u, "error", err)
			}
		}
	case ctx.Err() != nil:
		c.tracker.TrackCancelled(provider)
	default:
		c.tracker.TrackAPIFailure(provider)
		if retryable(err) {
			c.backoff.RecordFailure(provider)
		}
	}
	return body, err
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	log := c.cfg.Logger.With("request_id", req.Header.Get("X-Request-ID"))
	var lastErr error

	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		log.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "query", req.URL.RawQuery, "attempt", attempt+1)
		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Cancellation from our side is final.
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			log.Warn("Request failed, retrying", "url", req.URL.Redacted(), "attempt", attempt+1, "error", err)
			lastErr = err
			if err := c.pause(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, responseLimit(resp.StatusCode)))
		resp.Body.Close()
		log.Debug("Network Response", "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			log.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL.Redacted(), "attempt", attempt+1)
			lastErr = &StatusError{Code: resp.StatusCode, Body: body}
			if err := c.pause(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return nil, &StatusError{Code: resp.StatusCode, Body: body}
		}
		if readErr != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// pause waits before the next attempt. There is no wait after the final one.
func (c *Client) pause(ctx context.Context, attempt int) error {
	if attempt+1 >= c.cfg.Retries {
		return nil
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.BaseDelay
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats exposes the tracker this client reports to.
func (c *Client) Stats() *tracker.Tracker {
	return c.tracker
}

func responseLimit(status int) int64 {
	if status >= 400 {
		return maxErrorBody
	}
	return math.MaxInt64
}

func retryable(err error) bool {
	if errors.Is(err, ErrMaxRetries) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusTooManyRequests || se.Code >= 500)
}
