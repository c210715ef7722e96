package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sitelens/discovery/internal/discovery"
)

// TemplateStore reads curated platform templates.
type TemplateStore struct {
	pool Pool
}

// NewTemplateStore constructs a TemplateStore on an existing pool.
func NewTemplateStore(pool Pool) *TemplateStore {
	return &TemplateStore{pool: pool}
}

const listActiveTemplatesSQL = `
SELECT id, platform, variant, category_selectors, product_list_selectors,
	api_endpoints, render_hints, match_patterns, confidence, active, created_at
FROM platform_templates
WHERE active AND lower(platform) = lower($1)
ORDER BY confidence DESC NULLS LAST, created_at DESC`

// ListActive returns the active templates for a platform, best-ranked first.
func (s *TemplateStore) ListActive(ctx context.Context, platform string) ([]discovery.PlatformTemplate, error) {
	rows, err := s.pool.Query(ctx, listActiveTemplatesSQL, platform)
	if err != nil {
		return nil, fmt.Errorf("list templates for %s: %w", platform, mapError(err))
	}
	defer rows.Close()

	var templates []discovery.PlatformTemplate
	for rows.Next() {
		var (
			tpl                                                  discovery.PlatformTemplate
			catSel, prodSel, apiEndpoints, renderHints, patterns []byte
		)
		if err := rows.Scan(
			&tpl.ID, &tpl.Platform, &tpl.Variant, &catSel, &prodSel,
			&apiEndpoints, &renderHints, &patterns, &tpl.Confidence,
			&tpl.Active, &tpl.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		for _, col := range []struct {
			data []byte
			dst  any
		}{
			{catSel, &tpl.CategorySelectors},
			{prodSel, &tpl.ProductListSelectors},
			{apiEndpoints, &tpl.APIEndpoints},
			{renderHints, &tpl.RenderHints},
			{patterns, &tpl.MatchPatterns},
		} {
			if len(col.data) == 0 {
				continue
			}
			if err := json.Unmarshal(col.data, col.dst); err != nil {
				return nil, fmt.Errorf("decode template %s: %w", tpl.ID, err)
			}
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates for %s: %w", platform, err)
	}
	return templates, nil
}
