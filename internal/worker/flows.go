package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// runFingerprint fetches the site's homepage and records its platform
// classification on the site record.
func (w *Worker) runFingerprint(ctx context.Context, job discovery.Job) (map[string]any, error) {
	site, err := w.sites.GetSite(ctx, job.SiteID)
	if err != nil {
		return nil, fmt.Errorf("loading site %s: %w", job.SiteID, err)
	}
	url := siteURL(site)

	if allowed, reason := w.gate.CheckAllowed(ctx, url); !allowed {
		return nil, fmt.Errorf("compliance: %s", reason)
	}
	if err := w.gate.EnforceRateLimit(ctx, url); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	res, err := w.fetcher.Fetch(ctx, url, discovery.FetchStatic)
	if err != nil {
		return nil, fmt.Errorf("fetching homepage: %w", err)
	}

	fp := w.prints.Classify(res)

	site.Platform = fp.Platform
	site.Fingerprint = &fp
	site.ComplexityScore = fp.ComplexityScore
	site.Status = discovery.SiteStatusFingerprinted
	site.UpdatedAt = w.clock.Now().UTC()
	if err := w.sites.UpdateSite(ctx, site); err != nil {
		return nil, fmt.Errorf("updating site %s: %w", site.ID, err)
	}

	w.logger.Info("site fingerprinted",
		zap.String("site_id", site.ID),
		zap.String("platform", fp.Platform),
		zap.Float64("complexity", fp.ComplexityScore))

	return map[string]any{
		"platform":         fp.Platform,
		"cms":              fp.CMS,
		"requires_js":      fp.RequiresJS,
		"complexity_score": fp.ComplexityScore,
		"anti_bot":         fp.AntiBot.Detected,
	}, nil
}

// runDiscover executes the full discovery pipeline, merges a matched
// template, and commits the blueprint. The commit is the only persistence
// the flow performs on success paths; a failed run writes nothing.
func (w *Worker) runDiscover(ctx context.Context, job discovery.Job) (map[string]any, error) {
	site, err := w.sites.GetSite(ctx, job.SiteID)
	if err != nil {
		return nil, fmt.Errorf("loading site %s: %w", job.SiteID, err)
	}

	result := w.pipeline.Discover(ctx, siteURL(site))
	if !result.Success {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New(result.Error)
	}

	if w.matcher != nil && w.merge != nil && site.Platform != "" {
		if tpl := w.matcher.FindTemplate(ctx, site.Platform, site.Fingerprint, ""); tpl != nil {
			result = w.merge(*tpl, result)
			w.logger.Info("template merged",
				zap.String("site_id", site.ID),
				zap.String("template_id", tpl.ID),
				zap.String("platform", tpl.Platform))
		}
	}

	bp, err := w.versioner.CommitResult(ctx, site.ID, job.ID, result)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"blueprint_id":      bp.ID,
		"blueprint_version": bp.Version,
		"confidence":        bp.Confidence,
		"duration_seconds":  result.DurationSecs,
		"template_applied":  result.Template != nil,
	}, nil
}

// runSelectorGen asks the LLM capability for fresh selectors against the
// site's homepage. The capability is decided at construction; without it
// the job fails rather than silently no-oping.
func (w *Worker) runSelectorGen(ctx context.Context, job discovery.Job) (map[string]any, error) {
	if w.generator == nil {
		return nil, errors.New("selector generation capability is not configured")
	}

	site, err := w.sites.GetSite(ctx, job.SiteID)
	if err != nil {
		return nil, fmt.Errorf("loading site %s: %w", job.SiteID, err)
	}
	url := siteURL(site)

	if allowed, reason := w.gate.ValidateRequest(ctx, url, url); !allowed {
		return nil, fmt.Errorf("compliance: %s", reason)
	}
	res, err := w.fetcher.Fetch(ctx, url, discovery.FetchStatic)
	if err != nil {
		return nil, fmt.Errorf("fetching homepage: %w", err)
	}

	generated := make(map[string]any)
	for _, field := range []string{"name", "price", "image", "description"} {
		candidates, genErr := w.generator.GenerateSelectors(ctx, res.HTML, field)
		if genErr != nil {
			return nil, fmt.Errorf("generating %s selector: %w", field, genErr)
		}
		if len(candidates) == 0 {
			continue
		}
		generated[field] = map[string]any{
			"selector":   candidates[0].Selector,
			"confidence": candidates[0].Confidence,
		}
	}

	return map[string]any{"selectors": generated}, nil
}
