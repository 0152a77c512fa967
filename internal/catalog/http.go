package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// listingQuery asks an Apache-style index for modification time, descending.
const listingQuery = "?C=M;O=D"

// HTTPConfig configures an HTTPCatalog.
type HTTPConfig struct {
	BaseURL    string
	Pattern    string
	Timeout    time.Duration
	RPS        int
	MaxRetries int
	UserAgent  string
}

// HTTPCatalog scrapes the archive's directory index.
type HTTPCatalog struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	matcher    *Matcher
	limiter    *rate.Limiter
	maxRetries int
	backoff    func(attempt int) time.Duration
	log        zerolog.Logger
}

// NewHTTPCatalog builds a catalog for cfg.BaseURL.
func NewHTTPCatalog(cfg HTTPConfig) (*HTTPCatalog, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog base url must be provided")
	}
	matcher, err := NewMatcher(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS < 1 {
		cfg.RPS = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "history-extracts/1.0"
	}

	return &HTTPCatalog{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		userAgent:  cfg.UserAgent,
		matcher:    matcher,
		limiter:    rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.RPS)), 1),
		maxRetries: cfg.MaxRetries,
		backoff: func(attempt int) time.Duration {
			// 1s, 2s, 4s...
			return time.Duration(1<<uint(attempt-1)) * time.Second
		},
		log: logger.With("catalog"),
	}, nil
}

// FindLatest fetches the listing and returns the first snapshot in it.
// Transport failures are retried; a listing without a match is not.
func (c *HTTPCatalog) FindLatest(ctx context.Context) (domain.Snapshot, error) {
	body, err := c.fetchListing(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	snap, err := c.matcher.First(body)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("listing of %s: %w", c.baseURL, err)
	}

	c.log.Debug().Str("remote", snap.RemoteName).Str("stamp", snap.Stamp).Msg("resolved latest snapshot")
	return snap, nil
}

func (c *HTTPCatalog) fetchListing(ctx context.Context) (string, error) {
	url := c.baseURL + listingQuery

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			c.log.Warn().Err(lastErr).Int("attempt", i).Msg("retrying catalog listing")
			select {
			case <-time.After(c.backoff(i)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		body, retry, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retry {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

func (c *HTTPCatalog) get(ctx context.Context, url string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retry, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}
	return string(data), false, nil
}

var _ Catalog = (*HTTPCatalog)(nil)
