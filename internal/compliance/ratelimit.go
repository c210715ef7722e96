package compliance

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sitelens/discovery/internal/metrics"
)

// originLimiter serializes request pacing per origin. Two concurrent tasks
// targeting the same origin never both pass within the minimum interval;
// independent origins never block each other.
type originLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newOriginLimiter(minInterval time.Duration) *originLimiter {
	return &originLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: minInterval,
	}
}

// wait blocks until the origin's minimum inter-request interval has elapsed
// since the last admitted request, or the context ends.
func (l *originLimiter) wait(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	origin := originKey(parsed)

	l.mu.Lock()
	limiter, ok := l.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[origin] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

func originKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
