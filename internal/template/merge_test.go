package template

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitelens/discovery/internal/discovery"
)

func TestMerge_DiscoveredSelectorsOverrideTemplate(t *testing.T) {
	t.Parallel()

	tpl := discovery.PlatformTemplate{
		ID:         "shopify-default",
		Platform:   "shopify",
		Confidence: 0.85,
		ProductListSelectors: map[string]string{
			"name":  ".tpl-name",
			"price": ".tpl-price",
		},
	}
	result := discovery.DiscoveryResult{
		Selectors: discovery.SelectorResult{
			Selectors: map[string]discovery.Selector{
				"name": {FieldName: "name", CSSSelector: "h1.product-title", Confidence: 1.0, GenerationMethod: "heuristic"},
			},
			FieldsFound: []string{"name"},
		},
	}

	merged := Merge(tpl, result)

	// Discovered key wins on collision, template-only keys survive.
	require.Equal(t, "h1.product-title", merged.Selectors.Selectors["name"].CSSSelector)
	require.Equal(t, ".tpl-price", merged.Selectors.Selectors["price"].CSSSelector)
	require.Equal(t, "template", merged.Selectors.Selectors["price"].GenerationMethod)
	require.True(t, merged.Selectors.TemplateApplied)
	require.Equal(t, []string{"name", "price"}, merged.Selectors.FieldsFound)

	// Input untouched.
	require.Len(t, result.Selectors.Selectors, 1)
	require.False(t, result.Selectors.TemplateApplied)
}

func TestMerge_CategorySelectors(t *testing.T) {
	t.Parallel()

	tpl := discovery.PlatformTemplate{
		CategorySelectors: map[string]string{
			"nav":    ".tpl-nav a",
			"crumbs": ".breadcrumbs a",
		},
	}
	result := discovery.DiscoveryResult{
		Categories: discovery.CategoryResult{
			CategorySelectors: map[string]string{"nav": "header nav a"},
		},
	}

	merged := Merge(tpl, result)
	require.Equal(t, "header nav a", merged.Categories.CategorySelectors["nav"])
	require.Equal(t, ".breadcrumbs a", merged.Categories.CategorySelectors["crumbs"])
	require.True(t, merged.Categories.TemplateApplied)
}

func TestMerge_EndpointsAppendedByURL(t *testing.T) {
	t.Parallel()

	tpl := discovery.PlatformTemplate{
		APIEndpoints: []discovery.Endpoint{
			{URL: "https://shop.example.com/products.json", Method: "GET", Confidence: 0.9},
			{URL: "https://shop.example.com/api/v1/catalog", Method: "GET", Confidence: 0.9},
		},
	}
	result := discovery.DiscoveryResult{
		Endpoints: discovery.EndpointResult{
			Endpoints: []discovery.Endpoint{
				{URL: "https://shop.example.com/api/v1/catalog", Method: "GET", Confidence: 0.5},
			},
			TotalEndpoints: 1,
		},
	}

	merged := Merge(tpl, result)
	require.Equal(t, 2, merged.Endpoints.TotalEndpoints)
	// The discovered duplicate keeps its own record.
	require.InDelta(t, 0.5, merged.Endpoints.Endpoints[0].Confidence, 1e-9)
	require.Equal(t, "https://shop.example.com/products.json", merged.Endpoints.Endpoints[1].URL)
	require.True(t, merged.Endpoints.TemplateApplied)
}

func TestMerge_RenderHintsTemplateWins(t *testing.T) {
	t.Parallel()

	tpl := discovery.PlatformTemplate{
		ID: "spa-store",
		RenderHints: discovery.RenderHints{
			RequiresJS:      true,
			WaitForSelector: ".product-grid",
		},
	}
	result := discovery.DiscoveryResult{
		RenderHints: discovery.RenderHints{
			RequiresJS:     false,
			TimeoutSeconds: 30,
		},
	}

	merged := Merge(tpl, result)
	require.True(t, merged.RenderHints.RequiresJS)
	require.Equal(t, ".product-grid", merged.RenderHints.WaitForSelector)
	// Fields the template leaves unset keep the discovered values.
	require.Equal(t, 30, merged.RenderHints.TimeoutSeconds)
	require.True(t, merged.RenderHints.TemplateApplied)
}

func TestMerge_Provenance(t *testing.T) {
	t.Parallel()

	tpl := discovery.PlatformTemplate{
		ID:         "shopify-dawn",
		Platform:   "shopify",
		Variant:    "dawn",
		Confidence: 0.85,
	}

	merged := Merge(tpl, discovery.DiscoveryResult{})
	require.NotNil(t, merged.Template)
	require.Equal(t, "shopify-dawn", merged.Template.TemplateID)
	require.Equal(t, "dawn", merged.Template.Variant)
	require.InDelta(t, 0.85, merged.Template.Confidence, 1e-9)
}
