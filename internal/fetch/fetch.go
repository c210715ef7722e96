// Package fetch retrieves page content via plain HTTP or a headless
// browser, behind a uniform fetch contract.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/metrics"
)

// ErrRendererDisabled indicates headless rendering is not configured.
var ErrRendererDisabled = errors.New("renderer disabled")

// Hasher computes digests for snapshot integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Client implements discovery.Fetcher, dispatching on fetch mode.
type Client struct {
	static   *Static
	renderer *Renderer
	hasher   Hasher
	logger   *zap.Logger
}

// NewClient constructs a Client. renderer may be nil when headless fetching
// is disabled; rendered-mode requests then fail with ErrRendererDisabled.
func NewClient(static *Static, renderer *Renderer, hasher Hasher, logger *zap.Logger) *Client {
	return &Client{
		static:   static,
		renderer: renderer,
		hasher:   hasher,
		logger:   logger,
	}
}

// Fetch retrieves rawURL in the requested mode. Errors are reported, never
// swallowed; the caller decides whether to abort its phase or skip the URL.
func (c *Client) Fetch(ctx context.Context, rawURL string, mode discovery.FetchMode) (discovery.FetchResult, error) {
	var (
		res discovery.FetchResult
		err error
	)
	switch mode {
	case discovery.FetchStatic:
		res, err = c.static.Fetch(ctx, rawURL)
	case discovery.FetchRendered:
		if c.renderer == nil {
			return discovery.FetchResult{}, ErrRendererDisabled
		}
		res, err = c.renderer.Render(ctx, rawURL)
	default:
		return discovery.FetchResult{}, fmt.Errorf("unknown fetch mode %q", mode)
	}
	if err != nil {
		metrics.ObserveFetch(string(mode), "error")
		return discovery.FetchResult{}, err
	}
	if res.StatusCode >= 400 {
		metrics.ObserveFetch(string(mode), "error")
		return discovery.FetchResult{}, fmt.Errorf("fetch %s: status %d", rawURL, res.StatusCode)
	}

	if c.hasher != nil {
		if hash, hashErr := c.hasher.Hash([]byte(res.HTML)); hashErr == nil {
			res.ContentHash = hash
		}
	}
	metrics.ObserveFetch(string(mode), "ok")
	c.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.String("mode", string(mode)),
		zap.Int("status", res.StatusCode),
		zap.Int("bytes", len(res.HTML)))
	return res, nil
}
