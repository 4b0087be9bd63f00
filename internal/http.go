package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrs "github.com/jamesprial/go-social-analytics/pkg/errors"
	"golang.org/x/time/rate"
)

// Client performs authenticated JSON retrieval against the analytics API.
// It classifies every outcome and never retries.
type Client struct {
	client    *http.Client
	BaseURL   *url.URL
	UserAgent string
	logger    *slog.Logger

	// MaxResponseBytes caps a 2xx body. Zero means DefaultMaxResponseBytes.
	MaxResponseBytes int64

	limiter        *rate.Limiter
	mu             sync.Mutex
	forceWaitUntil time.Time
}

// RateLimitConfig controls how requests are throttled before reaching the API.
type RateLimitConfig struct {
	// RequestsPerMinute caps steady-state throughput. Defaults to 600 if zero.
	RequestsPerMinute float64
	// Burst allows short spikes above the steady-state rate. Defaults to 20 if zero.
	Burst int
}

const (
	DefaultRequestsPerMinute = 600
	DefaultRateLimitBurst    = 20
	SecondsPerMinute         = 60.0
	ParseFloatBitSize        = 64

	// DefaultMaxResponseBytes is the default cap on a single 2xx body.
	DefaultMaxResponseBytes = 64 << 20

	// maxErrorBodyBytes caps how much of an error body is kept on HTTPError.
	maxErrorBodyBytes = 512
)

// NewClient returns a new fetcher.
// If a nil httpClient is provided, http.DefaultClient will be used.
func NewClient(httpClient *http.Client, baseURL string, userAgent string, rateCfg *RateLimitConfig, logger *slog.Logger) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "BaseURL", Message: err.Error()}
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	if rateCfg == nil {
		rateCfg = &RateLimitConfig{}
	}

	return &Client{
		client:    httpClient,
		BaseURL:   parsedURL,
		UserAgent: userAgent,
		logger:    logger,
		limiter:   buildLimiter(*rateCfg),
	}, nil
}

// NewRequest creates an authenticated GET request. path is resolved relative
// to the BaseURL of the Client.
func (c *Client) NewRequest(ctx context.Context, path, token string) (*http.Request, error) {
	u, err := c.BaseURL.Parse(path)
	if err != nil {
		return nil, &pkgerrs.MalformedResponseError{Path: path, Message: "invalid request path", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &pkgerrs.NetworkError{Path: path, Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	return req, nil
}

// Fetch retrieves path with the given bearer token and decodes the JSON body
// into v. Outcomes:
//   - transport failure: *errors.NetworkError
//   - 401: *errors.UnauthorizedError
//   - any other non-2xx: *errors.HTTPError
//   - 2xx with a body over MaxResponseBytes: *errors.ResponseTooLargeError
//   - 2xx with a body that is not JSON: *errors.MalformedResponseError
func (c *Client) Fetch(ctx context.Context, path, token string, v any) error {
	body, err := c.FetchRaw(ctx, path, token)
	if err != nil {
		return err
	}

	if v == nil {
		if !json.Valid(body) {
			return &pkgerrs.MalformedResponseError{Path: path, Message: "response is not valid JSON"}
		}
		return nil
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &pkgerrs.MalformedResponseError{Path: path, Err: err}
	}
	return nil
}

// FetchRaw is Fetch without decoding; the returned bytes are the 2xx body.
func (c *Client) FetchRaw(ctx context.Context, path, token string) ([]byte, error) {
	req, err := c.NewRequest(ctx, path, token)
	if err != nil {
		return nil, err
	}

	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, &pkgerrs.NetworkError{Path: path, Err: err}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &pkgerrs.NetworkError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.applyRateHeaders(resp)

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	// One byte past the limit tells a full body from a cut one.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	c.logger.Debug("fetched resource",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &pkgerrs.UnauthorizedError{Path: path}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &pkgerrs.HTTPError{Path: path, StatusCode: resp.StatusCode, Body: truncate(body, maxErrorBodyBytes)}
	}

	if readErr != nil {
		return nil, &pkgerrs.NetworkError{Path: path, Err: fmt.Errorf("failed to read response body: %w", readErr)}
	}
	if int64(len(body)) > limit {
		return nil, &pkgerrs.ResponseTooLargeError{Path: path, Limit: limit}
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return strings.TrimSpace(string(b))
}

func buildLimiter(cfg RateLimitConfig) *rate.Limiter {
	requestsPerMinute := cfg.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}

	limitPerSecond := rate.Limit(requestsPerMinute / SecondsPerMinute)
	if limitPerSecond <= 0 {
		limitPerSecond = rate.Limit(1)
	}

	return rate.NewLimiter(limitPerSecond, burst)
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if err := c.waitForForcedDelay(ctx); err != nil {
		return err
	}

	if c.limiter == nil {
		return nil
	}

	return c.limiter.Wait(ctx)
}

func (c *Client) waitForForcedDelay(ctx context.Context) error {
	for {
		c.mu.Lock()
		waitUntil := c.forceWaitUntil
		c.mu.Unlock()

		if waitUntil.IsZero() {
			return nil
		}

		now := time.Now()
		if !now.Before(waitUntil) {
			c.clearForcedDelay(waitUntil)
			return nil
		}

		timer := time.NewTimer(waitUntil.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			c.clearForcedDelay(waitUntil)
		}
	}
}

func (c *Client) clearForcedDelay(previous time.Time) {
	c.mu.Lock()
	if previous.Equal(c.forceWaitUntil) {
		c.forceWaitUntil = time.Time{}
	}
	c.mu.Unlock()
}

func (c *Client) applyRateHeaders(resp *http.Response) {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseFloat(retryAfter, ParseFloatBitSize); err == nil && seconds > 0 {
			c.deferRequests(time.Duration(seconds * float64(time.Second)))
		}
	}

	remainingHeader := resp.Header.Get("X-Ratelimit-Remaining")
	resetHeader := resp.Header.Get("X-Ratelimit-Reset")
	if remainingHeader == "" || resetHeader == "" {
		return
	}

	remaining, errRemaining := strconv.ParseFloat(remainingHeader, ParseFloatBitSize)
	resetSeconds, errReset := strconv.ParseFloat(resetHeader, ParseFloatBitSize)
	if errRemaining != nil || errReset != nil || resetSeconds <= 0 {
		return
	}

	if remaining <= 1 {
		c.deferRequests(time.Duration(resetSeconds * float64(time.Second)))
	}
}

func (c *Client) deferRequests(d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)

	c.mu.Lock()
	if until.After(c.forceWaitUntil) {
		c.forceWaitUntil = until
	}
	c.mu.Unlock()
}
