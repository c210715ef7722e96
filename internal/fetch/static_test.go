package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/hash/sha256"
)

func newStaticClient(t *testing.T) *Client {
	t.Helper()
	static, err := NewStatic(StaticConfig{
		UserAgent: "SiteLensDiscovery/1.0 (test)",
		Timeout:   5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return NewClient(static, nil, sha256.New(), zap.NewNop())
}

func TestClient_FetchStatic(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("X-Platform", "demo")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	c := newStaticClient(t)
	res, err := c.Fetch(context.Background(), srv.URL+"/page", discovery.FetchStatic)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.HTML, "hello")
	require.Equal(t, "demo", res.Headers.Get("X-Platform"))
	require.NotEmpty(t, res.ContentHash)
	require.False(t, res.UsedJS)
	require.Equal(t, "SiteLensDiscovery/1.0 (test)", gotUA)
}

func TestClient_FetchStatic_FollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>moved here</html>"))
	})

	c := newStaticClient(t)
	res, err := c.Fetch(context.Background(), srv.URL+"/old", discovery.FetchStatic)
	require.NoError(t, err)
	require.Contains(t, res.HTML, "moved here")
	require.Contains(t, res.FinalURL, "/new")
}

func TestClient_FetchStatic_NotFoundIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newStaticClient(t)
	_, err := c.Fetch(context.Background(), srv.URL+"/missing", discovery.FetchStatic)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestClient_FetchRendered_DisabledWithoutRenderer(t *testing.T) {
	t.Parallel()

	c := newStaticClient(t)
	_, err := c.Fetch(context.Background(), "https://example.com", discovery.FetchRendered)
	require.ErrorIs(t, err, ErrRendererDisabled)
}

func TestClient_UnknownMode(t *testing.T) {
	t.Parallel()

	c := newStaticClient(t)
	_, err := c.Fetch(context.Background(), "https://example.com", discovery.FetchMode("weird"))
	require.Error(t, err)
}
