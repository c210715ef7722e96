package pipeline

import "github.com/sitelens/discovery/internal/discovery"

// aggregateConfidence folds the six per-phase sub-scores into an advisory
// 0..1 score. The unweighted mean and the discrete thresholds are kept
// stable so stored scores remain comparable across runs.
func aggregateConfidence(
	structure discovery.StructureResult,
	categories discovery.CategoryResult,
	products discovery.ProductResult,
	selectors discovery.SelectorResult,
	endpoints discovery.EndpointResult,
	pagination discovery.PaginationResult,
) float64 {
	var scores []float64

	if structure.Allowed {
		if structure.TotalLinks > 10 {
			scores = append(scores, 1.0)
		} else {
			scores = append(scores, 0.5)
		}
	} else {
		scores = append(scores, 0.0)
	}

	scores = append(scores, categories.Confidence)

	switch {
	case products.TotalProducts > 5:
		scores = append(scores, 0.8)
	case products.TotalProducts > 0:
		scores = append(scores, 0.5)
	default:
		scores = append(scores, 0.0)
	}

	scores = append(scores, selectors.Confidence)

	if endpoints.TotalEndpoints > 0 {
		scores = append(scores, 0.7)
	} else {
		scores = append(scores, 0.0)
	}

	if pagination.Type != "" {
		scores = append(scores, 0.8)
	} else {
		scores = append(scores, 0.3)
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return round2(sum / float64(len(scores)))
}
