// Package fetch is a retrying, rate-limited GET client for the JSON APIs the
// pipelines read (ComprasNet, PNCP). Transient failures are retried with a
// per-pipeline backoff, 429 responses honour Retry-After on a separate budget,
// and 404 is reported as an empty, successful page.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	znmetrics "github.com/yourorg/procurement-sync/internal/metrics"
)

var (
	// ErrNotJSON is returned when the body is not JSON. It is never retried.
	ErrNotJSON = errors.New("response is not JSON")
	// ErrRetriesExhausted wraps the last transient error once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError carries a non-2xx upstream status.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Retryable reports whether err is worth another attempt: transport
// failures, timeouts and 5xx statuses.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotJSON) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	Fixed       Strategy = "fixed"
	Exponential Strategy = "exponential"
)

// Backoff computes the sleep before the next attempt.
type Backoff struct {
	Strategy Strategy
	Base     time.Duration
	// Max caps exponential growth; zero means uncapped.
	Max time.Duration
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	if b.Strategy == Exponential {
		d = b.Base * time.Duration(1<<uint(attempt-1))
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Config configures one pipeline's client.
type Config struct {
	// Pipeline labels logs and metrics ("comprasnet", "pncp").
	Pipeline string
	BaseURL  string
	Timeout  time.Duration
	// MaxRetries is the number of transient failures tolerated in total;
	// the call fails on the MaxRetries-th failed attempt.
	MaxRetries int
	// Max429Retries bounds the separate throttling budget.
	Max429Retries int
	Backoff       Backoff
	// RateLimit in requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	// Limiter, when set, is shared with other clients and overrides RateLimit.
	Limiter   *rate.Limiter
	Headers   map[string]string
	UserAgent string
	// Accept defaults to application/json.
	Accept    string
	Transport http.RoundTripper
	// Sleep waits out a backoff; nil means a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Max429Retries <= 0 {
		c.Max429Retries = 5
	}
	if c.Backoff.Strategy == "" {
		c.Backoff.Strategy = Exponential
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.Accept == "" {
		c.Accept = "application/json"
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.UserAgent == "" {
		c.UserAgent = "procurement-sync/1.0"
	}
	if c.Pipeline == "" {
		c.Pipeline = "default"
	}
	return c
}

// Client performs paged GETs against one upstream API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a client. A nil logger is replaced by a no-op logger.
func New(cfg Config, log *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	lim := cfg.Limiter
	if lim == nil && cfg.RateLimit > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		limiter: lim,
		log:     log.With(zap.String("pipeline", cfg.Pipeline)),
		sleep:   cfg.Sleep,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// URL joins path and params onto the base URL.
func (c *Client) URL(path string, params url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/")
	if path != "" {
		u += "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// FetchPage GETs one page and decodes its envelope.
func (c *Client) FetchPage(ctx context.Context, path string, params url.Values) (Payload, error) {
	target := c.URL(path, params)
	resp, err := c.Get(ctx, target)
	if err != nil {
		return Payload{}, err
	}
	switch {
	case resp.Status == http.StatusNotFound:
		return Payload{NotFound: true}, nil
	case resp.Status >= 400:
		return Payload{}, &StatusError{StatusCode: resp.Status, URL: target, Body: snippet(resp.Body)}
	default:
		return decodePayload(resp.Header.Get("Content-Type"), resp.Body)
	}
}

// Response is an upstream answer that was not retried away.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Get fetches target under the rate limit. Transport failures and 5xx
// answers are retried with backoff until MaxRetries attempts have failed;
// 429 waits on its own budget. Any other status is returned as is.
func (c *Client) Get(ctx context.Context, target string) (Response, error) {
	var (
		failures  int
		throttles int
	)
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, fmt.Errorf("rate limiter: %w", err)
			}
		}
		status, header, body, err := c.get(ctx, target)
		switch {
		case err != nil && ctx.Err() != nil:
			return Response{}, ctx.Err()
		case err != nil || status >= 500:
			if err == nil {
				err = &StatusError{StatusCode: status, URL: target, Body: snippet(body)}
			}
			failures++
			if failures >= c.cfg.MaxRetries {
				c.log.Warn("giving up", zap.String("url", target), zap.Int("attempts", failures), zap.Error(err))
				return Response{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err)
			}
			d := c.cfg.Backoff.Delay(failures)
			znmetrics.FetchRetries.WithLabelValues(c.cfg.Pipeline).Inc()
			c.log.Debug("retrying", zap.String("url", target), zap.Int("attempt", failures), zap.Duration("backoff", d), zap.Error(err))
			if err := c.sleep(ctx, d); err != nil {
				return Response{}, err
			}
		case status == http.StatusTooManyRequests:
			throttles++
			znmetrics.Throttled.WithLabelValues(c.cfg.Pipeline).Inc()
			if throttles > c.cfg.Max429Retries {
				return Response{}, fmt.Errorf("%w: throttled %d times: %w", ErrRetriesExhausted, throttles,
					&StatusError{StatusCode: status, URL: target})
			}
			d := retryAfter(header.Get("Retry-After"), time.Now(), Backoff{Strategy: Exponential, Base: c.cfg.Backoff.Base, Max: 2 * time.Minute}.Delay(throttles))
			c.log.Info("throttled", zap.String("url", target), zap.Duration("wait", d))
			if err := c.sleep(ctx, d); err != nil {
				return Response{}, err
			}
		default:
			return Response{Status: status, Header: header, Body: body}, nil
		}
	}
}

func (c *Client) get(ctx context.Context, target string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", c.cfg.Accept)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	znmetrics.FetchLatency.WithLabelValues(c.cfg.Pipeline).Observe(time.Since(start).Seconds())
	if err != nil {
		znmetrics.HTTPRequests.WithLabelValues(c.cfg.Pipeline, "error").Inc()
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	znmetrics.HTTPRequests.WithLabelValues(c.cfg.Pipeline, znmetrics.StatusClass(resp.StatusCode)).Inc()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, resp.Header, b, nil
}

// retryAfter parses a Retry-After header (delta seconds or HTTP date),
// falling back to def when absent or unparseable.
func retryAfter(h string, now time.Time, def time.Duration) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return def
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return def
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
