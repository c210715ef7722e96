package pipeline

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

const maxEndpointsPerPattern = 5

// apiPattern pairs an API path regex with its semantic type tag.
type apiPattern struct {
	re      *regexp.Regexp
	apiType string
}

var apiPatterns = []apiPattern{
	{regexp.MustCompile(`/api/[^"']+`), "REST"},
	{regexp.MustCompile(`/graphql[^"']*`), "GraphQL"},
	{regexp.MustCompile(`/v\d+/[^"']+`), "REST"},
	{regexp.MustCompile(`/_next/data/[^"']+`), "Next.js Data"},
}

// discoverEndpoints is phase five: re-fetch the entry page and scan the raw
// markup for backing API paths. Errors degrade to an empty result.
func (p *Pipeline) discoverEndpoints(ctx context.Context, url string) discovery.EndpointResult {
	res, err := p.gatedFetch(ctx, url, discovery.FetchStatic)
	if err != nil {
		p.logger.Debug("endpoint discovery fetch failed",
			zap.String("url", url),
			zap.Error(err))
		return discovery.EndpointResult{}
	}

	var endpoints []discovery.Endpoint
	seen := make(map[string]bool)

	for _, pat := range apiPatterns {
		matches := pat.re.FindAllString(res.HTML, -1)
		if len(matches) > maxEndpointsPerPattern {
			matches = matches[:maxEndpointsPerPattern]
		}
		for _, match := range matches {
			absolute, resolveErr := discovery.ResolveRef(url, match)
			if resolveErr != nil {
				continue
			}
			if seen[absolute] {
				continue
			}
			seen[absolute] = true
			endpoints = append(endpoints, discovery.Endpoint{
				URL:        absolute,
				Method:     "GET",
				Type:       pat.apiType,
				Confidence: 0.5,
			})
		}
	}

	return discovery.EndpointResult{
		Endpoints:      endpoints,
		TotalEndpoints: len(endpoints),
	}
}
