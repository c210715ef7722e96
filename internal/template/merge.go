package template

import (
	"sort"

	"github.com/sitelens/discovery/internal/discovery"
)

// Merge folds a matched template into a discovery result. Per field group
// the template acts as the base and live discovery as the override: selector
// maps keep discovered entries on key collision, endpoints from the template
// are appended only when their URL was not already discovered, and render
// hints prefer the template since curated rendering knowledge beats the live
// heuristic. Each touched section is tagged template_applied and the result
// carries the template's provenance.
func Merge(tpl discovery.PlatformTemplate, result discovery.DiscoveryResult) discovery.DiscoveryResult {
	merged := result

	if len(tpl.CategorySelectors) > 0 {
		merged.Categories.CategorySelectors = mergeStringMaps(
			tpl.CategorySelectors, result.Categories.CategorySelectors)
		merged.Categories.TemplateApplied = true
	}

	if len(tpl.ProductListSelectors) > 0 {
		selectors := make(map[string]discovery.Selector, len(tpl.ProductListSelectors)+len(result.Selectors.Selectors))
		for field, css := range tpl.ProductListSelectors {
			selectors[field] = discovery.Selector{
				FieldName:        field,
				CSSSelector:      css,
				Confidence:       tpl.Confidence,
				GenerationMethod: "template",
			}
		}
		for field, sel := range result.Selectors.Selectors {
			selectors[field] = sel
		}
		merged.Selectors.Selectors = selectors
		merged.Selectors.FieldsFound = sortedFields(selectors)
		merged.Selectors.TemplateApplied = true
	}

	if len(tpl.APIEndpoints) > 0 {
		seen := make(map[string]bool, len(result.Endpoints.Endpoints))
		endpoints := append([]discovery.Endpoint(nil), result.Endpoints.Endpoints...)
		for _, ep := range result.Endpoints.Endpoints {
			seen[ep.URL] = true
		}
		for _, ep := range tpl.APIEndpoints {
			if ep.URL == "" || seen[ep.URL] {
				continue
			}
			seen[ep.URL] = true
			endpoints = append(endpoints, ep)
		}
		merged.Endpoints.Endpoints = endpoints
		merged.Endpoints.TotalEndpoints = len(endpoints)
		merged.Endpoints.TemplateApplied = true
	}

	if tpl.RenderHints != (discovery.RenderHints{}) {
		merged.RenderHints = mergeRenderHints(tpl.RenderHints, result.RenderHints)
		merged.RenderHints.TemplateApplied = true
	}

	merged.Template = &discovery.TemplateProvenance{
		TemplateID: tpl.ID,
		Platform:   tpl.Platform,
		Variant:    tpl.Variant,
		Confidence: tpl.Confidence,
	}
	return merged
}

func mergeStringMaps(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// mergeRenderHints prefers template values wherever the template states
// them; discovered values fill the gaps.
func mergeRenderHints(tpl, discovered discovery.RenderHints) discovery.RenderHints {
	out := discovered
	out.RequiresJS = tpl.RequiresJS
	if tpl.BrowserType != "" {
		out.BrowserType = tpl.BrowserType
	}
	if tpl.WaitForSelector != "" {
		out.WaitForSelector = tpl.WaitForSelector
	}
	if tpl.TimeoutSeconds > 0 {
		out.TimeoutSeconds = tpl.TimeoutSeconds
	}
	return out
}

func sortedFields(selectors map[string]discovery.Selector) []string {
	fields := make([]string, 0, len(selectors))
	for _, field := range []string{"name", "price", "image", "description"} {
		if _, ok := selectors[field]; ok {
			fields = append(fields, field)
		}
	}
	var extra []string
	for field := range selectors {
		if !knownField(field) {
			extra = append(extra, field)
		}
	}
	sort.Strings(extra)
	return append(fields, extra...)
}

func knownField(field string) bool {
	switch field {
	case "name", "price", "image", "description":
		return true
	}
	return false
}
