package pipeline

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sitelens/discovery/internal/discovery"
)

const (
	maxListingPages = 20
	maxProductPages = 50
	sampleLimit     = 5
)

var productURLPatterns = compilePatterns(
	`/product/`,
	`/item/`,
	`/p/`,
	`/pd/`,
	`/products/`,
	`/detail/`,
	`-p-\d+`,
	`/\d+\.html`,
	`/sku-`,
)

var listingURLPatterns = compilePatterns(
	`/category/`,
	`/collection/`,
	`/shop/`,
	`/products`,
	`/browse/`,
	`/search`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// recognizeProducts is phase three: classify links into product detail pages
// and listing pages by path shape. Product matches are checked first; a URL
// matching both counts only as a product page.
func recognizeProducts(links []discovery.Link) discovery.ProductResult {
	var listingPages, productPages, samplePages []string

	for _, link := range links {
		parsed, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		path := strings.ToLower(parsed.Path)

		switch {
		case matchesAny(path, productURLPatterns):
			productPages = append(productPages, link.URL)
			if len(samplePages) < sampleLimit {
				samplePages = append(samplePages, link.URL)
			}
		case matchesAny(path, listingURLPatterns):
			listingPages = append(listingPages, link.URL)
		}
	}

	total := len(productPages)
	if len(listingPages) > maxListingPages {
		listingPages = listingPages[:maxListingPages]
	}
	if len(productPages) > maxProductPages {
		productPages = productPages[:maxProductPages]
	}

	return discovery.ProductResult{
		ListingPages:  listingPages,
		ProductPages:  productPages,
		SamplePages:   samplePages,
		URLPattern:    inferURLPattern(productPages),
		TotalProducts: total,
	}
}

func matchesAny(path string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

// inferURLPattern reports a dominant product URL template only when every
// sampled product path shares it.
func inferURLPattern(productPages []string) string {
	if len(productPages) == 0 {
		return ""
	}
	sample := productPages
	if len(sample) > 10 {
		sample = sample[:10]
	}
	paths := make([]string, 0, len(sample))
	for _, u := range sample {
		parsed, err := url.Parse(u)
		if err != nil {
			continue
		}
		paths = append(paths, parsed.Path)
	}
	if len(paths) == 0 {
		return ""
	}

	templates := []struct {
		marker   string
		template string
	}{
		{"/product/", "/product/:slug"},
		{"/p/", "/p/:id"},
		{"/item/", "/item/:id"},
	}
	for _, t := range templates {
		all := true
		for _, p := range paths {
			if !strings.Contains(p, t.marker) {
				all = false
				break
			}
		}
		if all {
			return t.template
		}
	}
	return ""
}
