package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// Semantic product fields probed during selector extraction, in a fixed
// order so confidence and tie-breaking stay deterministic.
var selectorFields = []string{"name", "price", "image", "description"}

// selectorCandidates lists the ranked candidate selectors per field. Rank
// order doubles as the tie-break: on equal votes the earlier candidate wins.
var selectorCandidates = map[string][]string{
	"name": {
		"h1.product-title", `h1[itemprop="name"]`, "h1.title",
		".product-name", `[data-testid="product-name"]`,
	},
	"price": {
		".price", `[itemprop="price"]`, ".product-price",
		"[data-price]", ".price--final", ".current-price",
	},
	"image": {
		"img.product-image", `[itemprop="image"]`,
		".product-img img", ".main-image img",
	},
	"description": {
		`[itemprop="description"]`, ".description",
		".product-description", "#description",
	},
}

// extractSelectors is phase four: fetch up to three sample product pages,
// each re-validated through the full compliance chain, and vote over the
// fixed candidate lists. Per-page failures degrade to fewer votes, never an
// aborted phase.
func (p *Pipeline) extractSelectors(ctx context.Context, baseURL string, samplePages []string) discovery.SelectorResult {
	if len(samplePages) == 0 {
		return discovery.SelectorResult{
			Selectors:  map[string]discovery.Selector{},
			Confidence: 0,
		}
	}

	// votes[field][rank] counts matches for candidate at that rank.
	votes := make(map[string][]int, len(selectorCandidates))
	for field, candidates := range selectorCandidates {
		votes[field] = make([]int, len(candidates))
	}

	pages := samplePages
	if len(pages) > maxSamplePages {
		pages = pages[:maxSamplePages]
	}

	pagesAnalyzed := 0
	var lastHTML string
	for _, sampleURL := range pages {
		allowed, reason := p.gate.ValidateRequest(ctx, sampleURL, baseURL)
		if !allowed {
			p.logger.Debug("sample page rejected",
				zap.String("url", sampleURL),
				zap.String("reason", reason))
			continue
		}

		res, err := p.fetcher.Fetch(ctx, sampleURL, discovery.FetchStatic)
		if err != nil {
			p.logger.Debug("sample page fetch failed",
				zap.String("url", sampleURL),
				zap.Error(err))
			continue
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
		if err != nil {
			continue
		}
		pagesAnalyzed++
		lastHTML = res.HTML

		for field, candidates := range selectorCandidates {
			for rank, candidate := range candidates {
				if doc.Find(candidate).Length() > 0 {
					votes[field][rank]++
				}
			}
		}
	}

	selectors := make(map[string]discovery.Selector)
	for _, field := range selectorFields {
		rank, count := bestCandidate(votes[field])
		if count == 0 {
			continue
		}
		selectors[field] = discovery.Selector{
			FieldName:        field,
			CSSSelector:      selectorCandidates[field][rank],
			Confidence:       round2(float64(count) / float64(pagesAnalyzed)),
			GenerationMethod: "heuristic",
		}
	}

	// Fields the candidate lists missed go to the generator, when present.
	if p.generator != nil && lastHTML != "" {
		p.generateMissing(ctx, lastHTML, selectors)
	}

	fieldsFound := make([]string, 0, len(selectors))
	for _, field := range selectorFields {
		if _, ok := selectors[field]; ok {
			fieldsFound = append(fieldsFound, field)
		}
	}

	return discovery.SelectorResult{
		Selectors:   selectors,
		FieldsFound: fieldsFound,
		Confidence:  round2(math.Min(float64(len(selectors))/4.0, 1.0)),
	}
}

// bestCandidate returns the rank with the highest vote count; ties go to
// the earliest rank.
func bestCandidate(counts []int) (rank, count int) {
	for i, c := range counts {
		if c > count {
			rank, count = i, c
		}
	}
	return rank, count
}

func (p *Pipeline) generateMissing(ctx context.Context, html string, selectors map[string]discovery.Selector) {
	for _, field := range selectorFields {
		if _, ok := selectors[field]; ok {
			continue
		}
		candidates, err := p.generator.GenerateSelectors(ctx, html, field)
		if err != nil {
			p.logger.Warn("selector generation failed",
				zap.String("field", field),
				zap.Error(err))
			return
		}
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Confidence > best.Confidence {
				best = c
			}
		}
		selectors[field] = discovery.Selector{
			FieldName:        field,
			CSSSelector:      best.Selector,
			Confidence:       best.Confidence,
			GenerationMethod: "llm",
		}
	}
}
