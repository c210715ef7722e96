package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// StaticConfig controls the plain HTTP fetcher.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Static issues single HTTP GETs via a Colly collector, following redirects
// with the transparent identity header set.
type Static struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewStatic constructs a configured Colly-based fetcher.
func NewStatic(cfg StaticConfig, logger *zap.Logger) (*Static, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &Static{
		baseCollector: base,
		logger:        logger,
	}, nil
}

type fetchOutcome struct {
	res discovery.FetchResult
	err error
}

// Fetch retrieves a page via the configured Colly collector.
func (f *Static) Fetch(ctx context.Context, rawURL string) (discovery.FetchResult, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchOutcome, 1)
	var once sync.Once
	send := func(out fetchOutcome) {
		once.Do(func() {
			resultCh <- out
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchOutcome{res: responseToResult(rawURL, r)})
	})

	collector.OnError(func(r *colly.Response, cerr error) {
		if r != nil && r.StatusCode > 0 {
			// Non-2xx responses surface as results so callers see the code.
			send(fetchOutcome{res: responseToResult(rawURL, r)})
			return
		}
		if cerr == nil {
			cerr = errors.New("unknown colly error")
		}
		send(fetchOutcome{err: cerr})
	})

	start := time.Now()
	if err := collector.Visit(rawURL); err != nil {
		return discovery.FetchResult{}, err
	}
	collector.Wait()

	select {
	case out := <-resultCh:
		if cerr := ctx.Err(); cerr != nil {
			return discovery.FetchResult{}, cerr
		}
		if out.err != nil {
			return discovery.FetchResult{}, out.err
		}
		out.res.Duration = time.Since(start)
		return out.res, nil
	default:
		return discovery.FetchResult{}, errors.New("colly fetch produced no result")
	}
}

func responseToResult(rawURL string, r *colly.Response) discovery.FetchResult {
	headers := http.Header{}
	if r.Headers != nil {
		for k, v := range *r.Headers {
			cp := make([]string, len(v))
			copy(cp, v)
			headers[k] = cp
		}
	}
	finalURL := rawURL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return discovery.FetchResult{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: r.StatusCode,
		Headers:    headers,
		HTML:       string(r.Body),
	}
}
