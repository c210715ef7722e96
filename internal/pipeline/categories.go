package pipeline

import (
	"math"
	"net/url"
	"strings"

	"github.com/sitelens/discovery/internal/discovery"
)

const maxSubcategoriesPerCategory = 20

// categoryKeywords mark a first path segment as a category candidate.
// Substring match on purpose: "collections" hits both "collection" and "c".
var categoryKeywords = []string{
	"category", "cat", "c", "collection", "collections",
	"shop", "products", "items", "browse",
}

// detectCategories is phase two: cluster link paths into a shallow
// category/subcategory map. The first path segment is the category when it
// carries a category keyword; the second segment is its subcategory. This
// deliberately misreads generic segments ("/shop/widgets" yields category
// "shop"), a known limitation of the heuristic.
func detectCategories(links []discovery.Link) discovery.CategoryResult {
	if len(links) == 0 {
		return discovery.CategoryResult{
			Categories: map[string][]string{},
			Confidence: 0,
		}
	}

	// Preserve first-seen order for deterministic output.
	var categoryOrder []string
	subcategories := make(map[string][]string)

	for _, link := range links {
		parsed, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) < 2 || segments[0] == "" {
			continue
		}
		category := segments[0]
		if !hasCategoryKeyword(category) {
			continue
		}
		if _, ok := subcategories[category]; !ok {
			categoryOrder = append(categoryOrder, category)
		}
		subcategories[category] = append(subcategories[category], segments[1])
	}

	categories := make(map[string][]string, len(subcategories))
	for _, category := range categoryOrder {
		var uniq []string
		seen := make(map[string]bool)
		for _, sub := range subcategories[category] {
			if seen[sub] {
				continue
			}
			seen[sub] = true
			uniq = append(uniq, sub)
			if len(uniq) >= maxSubcategoriesPerCategory {
				break
			}
		}
		categories[category] = uniq
	}

	confidence := math.Min(float64(len(categories))/10.0, 1.0)

	return discovery.CategoryResult{
		Categories:      categories,
		TotalCategories: len(categories),
		Confidence:      round2(confidence),
	}
}

func hasCategoryKeyword(segment string) bool {
	lower := strings.ToLower(segment)
	for _, kw := range categoryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
