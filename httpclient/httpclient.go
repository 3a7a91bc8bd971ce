// Package httpclient is the single HTTP client shared by every metadata
// fetcher and the artifact downloader: connect timeout 10s,
// a per-ecosystem-overridable total timeout (default 60s), a retry policy
// for transient failures, a stable user-agent, and optional proxy support
// (HTTP_PROXY/HTTPS_PROXY, read by net/http's default ProxyFromEnvironment).
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"log/slog"
)

const UserAgent = "airgap/1.0 (+https://github.com/a-h/airgap)"

// Config configures one Client. Zero values fall back to the defaults.
type Config struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	// MaxRedirects caps the number of redirects followed for one logical
	// request; default 5.
	MaxRedirects int
	Log          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TotalTimeout == 0 {
		c.TotalTimeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 5
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// Client wraps *http.Client with the shared retry/backoff policy, reused
// for metadata GETs as well as artifact downloads.
type Client struct {
	http *http.Client
	cfg  Config
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 16,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return fmt.Errorf("httpclient: stopped after %d redirects", cfg.MaxRedirects)
				}
				return nil
			},
		},
		cfg: cfg,
	}
}

// Do performs req with the shared retry policy: connection resets, 5xx, 408
// and 429 (honouring Retry-After) are retried with exponential backoff plus
// jitter; other 4xx responses are terminal.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", UserAgent)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt, lastErr, nil)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return resp, nil // terminal 4xx, caller classifies via airgaperr.
		}

		retryAfter := parseRetryAfter(resp)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("http %d", resp.StatusCode)
		if attempt == c.cfg.MaxRetries {
			return nil, lastErr
		}
		if retryAfter > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryAfter):
			}
		}
	}
	return nil, lastErr
}

func (c *Client) backoff(attempt int, lastErr error, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}
	base := c.cfg.BackoffBase
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > c.cfg.BackoffCap {
		delay = c.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Int64N(int64(delay/2 + 1)))
	return delay/2 + jitter
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// Get issues a GET with the shared retry/backoff policy and returns the
// response; callers must close the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: new request: %w", err)
	}
	return c.Do(ctx, req)
}
