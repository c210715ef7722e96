package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// openGate allows everything. Individual tests override the fields they
// need to exercise a rejection path.
type openGate struct {
	blockEntry  bool
	blockReason string
	rateLimited []string
	validated   []string
}

func (g *openGate) CheckAllowed(_ context.Context, rawURL string) (bool, string) {
	if g.blockEntry {
		return false, g.blockReason
	}
	return true, ""
}

func (g *openGate) EnforceRateLimit(_ context.Context, rawURL string) error {
	g.rateLimited = append(g.rateLimited, rawURL)
	return nil
}

func (g *openGate) ShouldCrawl(rawURL, baseURL string) (bool, string) { return true, "" }

func (g *openGate) IsPublicContent(rawURL, html string) (bool, string) { return true, "" }

func (g *openGate) ValidateRequest(_ context.Context, rawURL, baseURL string) (bool, string) {
	g.validated = append(g.validated, rawURL)
	return true, ""
}

// mapFetcher serves canned HTML per URL.
type mapFetcher struct {
	pages   map[string]string
	fetched []string
}

func (f *mapFetcher) Fetch(_ context.Context, rawURL string, mode discovery.FetchMode) (discovery.FetchResult, error) {
	f.fetched = append(f.fetched, rawURL)
	html, ok := f.pages[rawURL]
	if !ok {
		return discovery.FetchResult{}, fmt.Errorf("fetch %s: status 404", rawURL)
	}
	return discovery.FetchResult{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: 200,
		HTML:       html,
	}, nil
}

const siteURL = "https://shop.example.com"

// homepage builds a homepage with the given anchors and enough body text
// that the JS-shell heuristic stays quiet.
func homepage(anchors ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><main><p>")
	b.WriteString(strings.Repeat("Hand-poured candles and small-batch ceramics shipped worldwide. ", 5))
	b.WriteString("</p>")
	for _, a := range anchors {
		b.WriteString(a)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func anchor(path string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, path, strings.Trim(path, "/"))
}

func newPipeline(gate *openGate, fetcher discovery.Fetcher) *Pipeline {
	return New(gate, fetcher, nil, nil, zap.NewNop())
}

func TestDiscover_ComplianceBlockAbortsRun(t *testing.T) {
	t.Parallel()

	gate := &openGate{blockEntry: true, blockReason: "robots.txt disallows /"}
	fetcher := &mapFetcher{pages: map[string]string{}}

	result := newPipeline(gate, fetcher).Discover(context.Background(), siteURL)

	require.False(t, result.Success)
	require.Contains(t, result.Error, "robots.txt disallows")
	require.False(t, result.Structure.Allowed)
	require.Empty(t, fetcher.fetched, "blocked run must not fetch")
}

func TestDiscover_HomepageFetchFailureAborts(t *testing.T) {
	t.Parallel()

	gate := &openGate{}
	fetcher := &mapFetcher{pages: map[string]string{}} // every fetch 404s

	result := newPipeline(gate, fetcher).Discover(context.Background(), siteURL)

	require.False(t, result.Success)
	require.Contains(t, result.Error, "fetching homepage")
	require.Greater(t, result.DurationSecs, 0.0)
}

func TestDiscover_FullRun(t *testing.T) {
	t.Parallel()

	home := homepage(
		anchor("/collections/electronics/laptops"),
		anchor("/collections/electronics/phones"),
		anchor("/product/blue-kettle"),
		anchor("/product/red-kettle"),
		anchor("/category/kitchen"),
	) + `<script>fetch("/api/v1/catalog?limit=20")</script>`

	productPage := `<html><body><main>` +
		strings.Repeat("A sturdy enamel kettle in a classic profile. ", 8) +
		`<h1 class="product-title">Blue Kettle</h1>` +
		`<span class="price">$42</span>` +
		`<img class="product-image" src="/img/kettle.jpg">` +
		`</main></body></html>`

	listingPage := `<html><body><main>` +
		strings.Repeat("Browse the full kitchen range by type or finish. ", 8) +
		`<div class="pagination">` +
		`<a href="/category/kitchen?page=2">2</a>` +
		`<a href="/category/kitchen?page=7">7</a>` +
		`</div></main></body></html>`

	fetcher := &mapFetcher{pages: map[string]string{
		siteURL:                          home,
		siteURL + "/product/blue-kettle": productPage,
		siteURL + "/product/red-kettle":  productPage,
		siteURL + "/category/kitchen":    listingPage,
	}}
	gate := &openGate{}

	result := newPipeline(gate, fetcher).Discover(context.Background(), siteURL)

	require.True(t, result.Success)
	require.Empty(t, result.Error)

	// Structure
	require.True(t, result.Structure.Allowed)
	require.Equal(t, 5, result.Structure.TotalLinks)
	require.False(t, result.Structure.RequiresJS)
	require.NotEmpty(t, result.Structure.HomepageHTML)

	// Categories: keyword match is substring-based, so "product" counts
	// as a category too (it contains "c").
	require.Equal(t, []string{"electronics"}, result.Categories.Categories["collections"])
	require.Equal(t, []string{"kitchen"}, result.Categories.Categories["category"])
	require.Equal(t, []string{"blue-kettle", "red-kettle"}, result.Categories.Categories["product"])
	require.Equal(t, 3, result.Categories.TotalCategories)
	require.InDelta(t, 0.3, result.Categories.Confidence, 1e-9)

	// Products
	require.Len(t, result.Products.ProductPages, 2)
	require.Equal(t, "/product/:slug", result.Products.URLPattern)
	require.Len(t, result.Products.ListingPages, 1)

	// Selectors: both sample pages vote for the same candidates.
	require.Equal(t, "h1.product-title", result.Selectors.Selectors["name"].CSSSelector)
	require.Equal(t, ".price", result.Selectors.Selectors["price"].CSSSelector)
	require.Equal(t, "img.product-image", result.Selectors.Selectors["image"].CSSSelector)
	require.NotContains(t, result.Selectors.Selectors, "description")
	require.InDelta(t, 0.75, result.Selectors.Confidence, 1e-9)
	require.Equal(t, []string{"name", "price", "image"}, result.Selectors.FieldsFound)

	// Sample pages went through full request validation.
	require.Contains(t, gate.validated, siteURL+"/product/blue-kettle")

	// Endpoints: "/api/v1/..." matches both the /api/ and the /v1/
	// patterns at different offsets, so two distinct URLs survive dedup.
	require.Equal(t, 2, result.Endpoints.TotalEndpoints)
	require.Equal(t, "REST", result.Endpoints.Endpoints[0].Type)

	// Pagination
	require.Equal(t, discovery.PaginationQueryParam, result.Pagination.Type)
	require.Equal(t, "page", result.Pagination.Param)
	require.Equal(t, 7, result.Pagination.MaxPages)
	require.False(t, result.Pagination.InfiniteScroll)

	// Aggregate: mean of 0.5, 0.3, 0.5, 0.75, 0.7, 0.8.
	require.InDelta(t, 0.59, result.Confidence, 1e-9)

	require.Equal(t, 30, result.RenderHints.TimeoutSeconds)
	require.False(t, result.RenderHints.RequiresJS)
}

func TestDiscover_EmptyShellRendersAndUnionsLinks(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="root"></div></body></html>`
	fetcher := &renderingFetcher{
		static:   map[string]string{siteURL: shell},
		rendered: map[string]string{siteURL: homepage(anchor("/shop/mugs"))},
	}
	gate := &openGate{}

	result := newPipeline(gate, fetcher).Discover(context.Background(), siteURL)

	require.True(t, result.Success)
	require.True(t, result.Structure.RequiresJS)
	require.True(t, result.RenderHints.RequiresJS)
	require.Len(t, result.Structure.Links, 1)
	require.True(t, result.Structure.Links[0].FromJS)
	require.Empty(t, result.Structure.HomepageHTML)
}

func TestDiscover_RenderFailureKeepsStaticLinks(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="app"><a href="/shop/mugs">mugs</a></div></body></html>`
	fetcher := &renderingFetcher{
		static: map[string]string{siteURL: shell},
	}
	gate := &openGate{}

	result := newPipeline(gate, fetcher).Discover(context.Background(), siteURL)

	require.True(t, result.Success)
	require.True(t, result.Structure.RequiresJS)
	require.Len(t, result.Structure.Links, 1)
	require.False(t, result.Structure.Links[0].FromJS)
}

func TestDiscover_SnapshotFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[string]string{
		siteURL: homepage(anchor("/shop/mugs")),
	}}
	p := New(&openGate{}, fetcher, nil, failingBlobStore{}, zap.NewNop())

	result := p.Discover(context.Background(), siteURL)
	require.True(t, result.Success)
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", fmt.Errorf("bucket unavailable")
}

// renderingFetcher serves distinct content per fetch mode; missing rendered
// entries simulate a disabled or failing renderer.
type renderingFetcher struct {
	static   map[string]string
	rendered map[string]string
}

func (f *renderingFetcher) Fetch(_ context.Context, rawURL string, mode discovery.FetchMode) (discovery.FetchResult, error) {
	var pages map[string]string
	if mode == discovery.FetchRendered {
		pages = f.rendered
	} else {
		pages = f.static
	}
	html, ok := pages[rawURL]
	if !ok {
		return discovery.FetchResult{}, fmt.Errorf("fetch %s (%s): unavailable", rawURL, mode)
	}
	return discovery.FetchResult{
		URL:        rawURL,
		StatusCode: 200,
		HTML:       html,
		UsedJS:     mode == discovery.FetchRendered,
	}, nil
}
