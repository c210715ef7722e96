// Package template matches fingerprinted sites against the curated platform
// pattern library and merges the winning template into discovery output.
package template

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// matchOverrideThreshold is the minimum normalized pattern score needed to
// override the confidence-ranked default template.
const matchOverrideThreshold = 0.5

// Matcher selects the best platform template for a fingerprinted site.
type Matcher struct {
	store  discovery.TemplateStore
	logger *zap.Logger
}

// NewMatcher constructs a Matcher backed by store.
func NewMatcher(store discovery.TemplateStore, logger *zap.Logger) *Matcher {
	return &Matcher{store: store, logger: logger}
}

// FindTemplate returns the best active template for platform, or nil when
// none exists. Lookup failures are treated as "no template found", never
// surfaced as errors; a missing template only withholds enrichment.
func (m *Matcher) FindTemplate(ctx context.Context, platform string, fp *discovery.Fingerprint, variant string) *discovery.PlatformTemplate {
	templates, err := m.store.ListActive(ctx, strings.ToLower(platform))
	if err != nil {
		m.logger.Warn("template lookup failed",
			zap.String("platform", platform),
			zap.Error(err))
		return nil
	}

	if variant != "" {
		filtered := templates[:0:0]
		for _, t := range templates {
			if t.Variant == variant {
				filtered = append(filtered, t)
			}
		}
		templates = filtered
	}
	if len(templates) == 0 {
		return nil
	}

	// Highest static confidence first, newest as tiebreak.
	sort.SliceStable(templates, func(i, j int) bool {
		if templates[i].Confidence != templates[j].Confidence {
			return templates[i].Confidence > templates[j].Confidence
		}
		return templates[i].CreatedAt.After(templates[j].CreatedAt)
	})

	if fp != nil && len(templates) > 1 {
		if best := matchByPatterns(templates, fp); best != nil {
			return best
		}
	}
	return &templates[0]
}

// matchByPatterns scores each template's match patterns against the
// fingerprint markup and headers, returning the best scorer only when it
// clears the override threshold.
func matchByPatterns(templates []discovery.PlatformTemplate, fp *discovery.Fingerprint) *discovery.PlatformTemplate {
	var best *discovery.PlatformTemplate
	bestScore := 0.0

	for i := range templates {
		score := matchScore(templates[i].MatchPatterns, fp.HTML, fp.Headers)
		if score > bestScore {
			bestScore = score
			best = &templates[i]
		}
	}

	if bestScore >= matchOverrideThreshold {
		return best
	}
	return nil
}

// matchScore awards 1.0 per indicator substring found in the markup and 0.5
// per header whose observed value contains the expected substring, then
// normalizes by the total indicator count.
func matchScore(patterns discovery.MatchPatterns, html string, headers map[string]string) float64 {
	total := len(patterns.Indicators) + len(patterns.HeaderIndicators)
	if total == 0 {
		return 0
	}

	lowerHTML := strings.ToLower(html)
	score := 0.0
	for _, indicator := range patterns.Indicators {
		if strings.Contains(lowerHTML, strings.ToLower(indicator)) {
			score += 1.0
		}
	}
	for name, expected := range patterns.HeaderIndicators {
		observed := strings.ToLower(headerValue(headers, name))
		if observed != "" && strings.Contains(observed, strings.ToLower(expected)) {
			score += 0.5
		}
	}

	score /= float64(total)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
