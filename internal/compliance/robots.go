// Package compliance enforces robots.txt, politeness pacing and
// privacy/paywall exclusion before any fetch.
package compliance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// robotsCache fetches and caches parsed robots policies per origin.
// A cache miss under concurrency may trigger duplicate fetches; that is
// tolerated, the last writer wins.
type robotsCache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]robotsEntry
}

func newRobotsCache(userAgent string, ttl, timeout time.Duration, logger *zap.Logger) *robotsCache {
	return &robotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		ttl:       ttl,
		logger:    logger,
		entries:   make(map[string]robotsEntry),
	}
}

// allowed answers whether the crawler identity may fetch rawURL under the
// origin's robots policy. When the policy is unreachable it degrades to
// allowed (standard crawler convention) and reports the condition in the
// returned note so callers can record it.
func (c *robotsCache) allowed(ctx context.Context, rawURL string) (bool, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Sprintf("invalid url: %v", err)
	}
	origin := originKey(parsed)

	data, note, err := c.load(ctx, origin)
	if err != nil {
		c.logger.Warn("robots fetch failed; assuming allowed",
			zap.String("origin", origin), zap.Error(err))
		return true, "robots.txt unreachable; assuming allowed"
	}

	group := data.FindGroup(c.userAgent)
	if group == nil || group.Test(parsed.Path) {
		return true, note
	}
	return false, fmt.Sprintf("disallowed by robots.txt for %s", c.userAgent)
}

func (c *robotsCache) load(ctx context.Context, origin string) (*robotstxt.RobotsData, string, error) {
	c.mu.Lock()
	entry, ok := c.entries[origin]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.data, "", nil
	}

	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, "", fmt.Errorf("parse robots: %w", err)
	}

	c.mu.Lock()
	c.entries[origin] = robotsEntry{data: data, fetchedAt: time.Now()}
	c.mu.Unlock()
	return data, "", nil
}
