package compliance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUA = "SiteLensDiscovery/1.0 (test)"

func newTestGate(t *testing.T, minDelay time.Duration) *Gate {
	t.Helper()
	return New(Config{
		UserAgent: testUA,
		MinDelay:  minDelay,
		RobotsTTL: time.Hour,
	}, zap.NewNop())
}

func TestCheckAllowed_RespectsDisallow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := newTestGate(t, time.Millisecond)

	allowed, reason := g.CheckAllowed(context.Background(), srv.URL+"/products/widget")
	require.True(t, allowed)
	require.Empty(t, reason)

	allowed, reason = g.CheckAllowed(context.Background(), srv.URL+"/private/area")
	require.False(t, allowed)
	require.Contains(t, reason, "robots.txt")
}

func TestCheckAllowed_CachesPolicyWithinTTL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
		}
	}))
	defer srv.Close()

	g := newTestGate(t, time.Millisecond)

	for range 5 {
		allowed, _ := g.CheckAllowed(context.Background(), srv.URL+"/blocked")
		require.False(t, allowed)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestCheckAllowed_UnreachableDegradesToAllowed(t *testing.T) {
	t.Parallel()

	g := New(Config{
		UserAgent:     testUA,
		MinDelay:      time.Millisecond,
		RobotsTimeout: 200 * time.Millisecond,
	}, zap.NewNop())

	allowed, reason := g.CheckAllowed(context.Background(), "http://127.0.0.1:1/anything")
	require.True(t, allowed)
	require.Contains(t, reason, "unreachable")
}

func TestEnforceRateLimit_SecondCallWaitsMinDelay(t *testing.T) {
	t.Parallel()

	const delay = 150 * time.Millisecond
	g := newTestGate(t, delay)
	ctx := context.Background()

	require.NoError(t, g.EnforceRateLimit(ctx, "https://example.com/a"))
	start := time.Now()
	require.NoError(t, g.EnforceRateLimit(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), delay-10*time.Millisecond)
}

func TestEnforceRateLimit_OriginsIndependent(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, time.Second)
	ctx := context.Background()

	require.NoError(t, g.EnforceRateLimit(ctx, "https://a.com/"))
	start := time.Now()
	require.NoError(t, g.EnforceRateLimit(ctx, "https://b.com/"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestEnforceRateLimit_ContextCancel(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, g.EnforceRateLimit(ctx, "https://slow.com/"))
	require.Error(t, g.EnforceRateLimit(ctx, "https://slow.com/again"))
}

func TestShouldCrawl(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, time.Millisecond)
	base := "https://shop.example.com"

	cases := []struct {
		name   string
		url    string
		want   bool
		reason string
	}{
		{"same domain product", base + "/products/widget", true, ""},
		{"external domain", "https://other.com/products", false, "external domain"},
		{"cart path", base + "/cart", false, "excluded pattern"},
		{"admin path", base + "/wp-admin/options.php", false, "excluded pattern"},
		{"binary download", base + "/files/catalog.pdf", false, "excluded pattern"},
		{"session query", base + "/products?sessionid=abc", false, "session parameter"},
		{"plain query", base + "/products?page=2", true, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ok, reason := g.ShouldCrawl(tc.url, base)
			require.Equal(t, tc.want, ok)
			if tc.reason != "" {
				require.Contains(t, reason, tc.reason)
			}
		})
	}
}

func TestIsPublicContent(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, time.Millisecond)

	ok, _ := g.IsPublicContent("https://example.com/products/a", "<html><body>hi</body></html>")
	require.True(t, ok)

	ok, reason := g.IsPublicContent("https://example.com/login", "<html></html>")
	require.False(t, ok)
	require.Contains(t, reason, "login")

	ok, reason = g.IsPublicContent("https://example.com/x",
		`<html><meta name="robots" content="noindex"></html>`)
	require.False(t, ok)
	require.Contains(t, reason, "noindex")

	ok, _ = g.IsPublicContent("https://example.com/x",
		`<form><input type="password"></form>`)
	require.False(t, ok)
}

func TestValidateRequest_FullChain(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /secret/\n"))
		}
	}))
	defer srv.Close()

	g := newTestGate(t, time.Millisecond)
	ctx := context.Background()

	ok, _ := g.ValidateRequest(ctx, srv.URL+"/products/a", srv.URL)
	require.True(t, ok)

	ok, reason := g.ValidateRequest(ctx, srv.URL+"/secret/a", srv.URL)
	require.False(t, ok)
	require.Contains(t, reason, "compliance:")

	ok, reason = g.ValidateRequest(ctx, srv.URL+"/cart", srv.URL)
	require.False(t, ok)
	require.Contains(t, reason, "policy:")
}
