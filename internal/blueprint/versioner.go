// Package blueprint turns merged discovery results into immutable,
// monotonically versioned blueprints.
package blueprint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// Versioner commits discovery results as blueprint versions. Versions for a
// site are strictly increasing from 1 with no gaps; corrections and
// rollbacks are always new versions, never edits.
type Versioner struct {
	blueprints discovery.BlueprintStore
	ids        discovery.IDGenerator
	clock      discovery.Clock
	logger     *zap.Logger
}

// NewVersioner constructs a Versioner.
func NewVersioner(blueprints discovery.BlueprintStore, ids discovery.IDGenerator, clock discovery.Clock, logger *zap.Logger) *Versioner {
	return &Versioner{
		blueprints: blueprints,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}
}

// CommitResult persists a successful discovery result as the site's next
// blueprint version. The store's Commit advances the site record in the
// same atomic step; a duplicate (site, version) from a concurrent writer
// surfaces as discovery.ErrConflict and the caller retries with a re-read
// version.
func (v *Versioner) CommitResult(ctx context.Context, siteID, jobID string, result discovery.DiscoveryResult) (discovery.Blueprint, error) {
	if !result.Success {
		return discovery.Blueprint{}, fmt.Errorf("refusing to commit failed discovery for site %s", siteID)
	}

	version, err := v.nextVersion(ctx, siteID)
	if err != nil {
		return discovery.Blueprint{}, err
	}
	id, err := v.ids.NewID()
	if err != nil {
		return discovery.Blueprint{}, fmt.Errorf("generating blueprint id: %w", err)
	}

	bp := discovery.Blueprint{
		ID:          id,
		SiteID:      siteID,
		Version:     version,
		Confidence:  result.Confidence,
		Categories:  flattenCategories(result.Categories),
		Endpoints:   result.Endpoints.Endpoints,
		RenderHints: result.RenderHints,
		Selectors:   flattenSelectors(result.Selectors),
		CreatedAt:   v.clock.Now().UTC(),
		JobID:       jobID,
		Notes:       fmt.Sprintf("discovered by job %s", jobID),
	}

	if err := v.blueprints.Commit(ctx, bp); err != nil {
		return discovery.Blueprint{}, fmt.Errorf("committing blueprint v%d for site %s: %w", version, siteID, err)
	}

	v.logger.Info("blueprint committed",
		zap.String("site_id", siteID),
		zap.String("job_id", jobID),
		zap.Int("version", version),
		zap.Float64("confidence", result.Confidence))
	return bp, nil
}

// Rollback copies a historical version's payload forward as version max+1.
// Prior versions are never deleted and the counter never decrements.
func (v *Versioner) Rollback(ctx context.Context, siteID string, toVersion int, actor string) (discovery.Blueprint, error) {
	source, err := v.blueprints.Get(ctx, siteID, toVersion)
	if err != nil {
		return discovery.Blueprint{}, fmt.Errorf("loading blueprint v%d for site %s: %w", toVersion, siteID, err)
	}

	version, err := v.nextVersion(ctx, siteID)
	if err != nil {
		return discovery.Blueprint{}, err
	}
	id, err := v.ids.NewID()
	if err != nil {
		return discovery.Blueprint{}, fmt.Errorf("generating blueprint id: %w", err)
	}

	bp := source
	bp.ID = id
	bp.Version = version
	bp.CreatedAt = v.clock.Now().UTC()
	bp.CreatedBy = actor
	bp.JobID = ""
	bp.Notes = fmt.Sprintf("rollback to version %d", toVersion)

	if err := v.blueprints.Commit(ctx, bp); err != nil {
		return discovery.Blueprint{}, fmt.Errorf("committing rollback to v%d for site %s: %w", toVersion, siteID, err)
	}

	v.logger.Info("blueprint rolled back",
		zap.String("site_id", siteID),
		zap.Int("from_version", toVersion),
		zap.Int("new_version", version))
	return bp, nil
}

func (v *Versioner) nextVersion(ctx context.Context, siteID string) (int, error) {
	latest, err := v.blueprints.Latest(ctx, siteID)
	switch {
	case errors.Is(err, discovery.ErrNotFound):
		return 1, nil
	case err != nil:
		return 0, fmt.Errorf("reading latest blueprint for site %s: %w", siteID, err)
	}
	return latest.Version + 1, nil
}

// flattenCategories converts the phase-two category map into the persisted
// taxonomy shape: one node per category, one child node per subcategory.
func flattenCategories(result discovery.CategoryResult) []discovery.Category {
	var out []discovery.Category
	for _, name := range sortedKeys(result.Categories) {
		parent := discovery.Category{
			ID:         name,
			Name:       name,
			Slug:       slugify(name),
			Depth:      0,
			Confidence: result.Confidence,
		}
		out = append(out, parent)
		for _, sub := range result.Categories[name] {
			out = append(out, discovery.Category{
				ID:         name + "/" + sub,
				Name:       sub,
				Slug:       slugify(sub),
				ParentID:   parent.ID,
				Depth:      1,
				Confidence: result.Confidence,
			})
		}
	}
	return out
}

func flattenSelectors(result discovery.SelectorResult) []discovery.Selector {
	var out []discovery.Selector
	for _, field := range result.FieldsFound {
		if sel, ok := result.Selectors[field]; ok {
			out = append(out, sel)
		}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}
