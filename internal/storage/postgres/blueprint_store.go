package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sitelens/discovery/internal/discovery"
)

// BlueprintStore persists blueprint versions. Commit runs the insert and
// the owning site's advance inside a single transaction; the unique
// (site_id, version) index serializes concurrent writers.
type BlueprintStore struct {
	pool Pool
}

// NewBlueprintStore constructs a BlueprintStore on an existing pool.
func NewBlueprintStore(pool Pool) *BlueprintStore {
	return &BlueprintStore{pool: pool}
}

const insertBlueprintSQL = `
INSERT INTO blueprints (
	id, site_id, version, confidence, categories, endpoints, render_hints,
	selectors, created_at, created_by, notes, job_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const advanceSiteSQL = `
UPDATE sites SET
	status = $2, blueprint_version = $3, updated_at = $4, last_discovered_at = $4
WHERE id = $1`

// Commit inserts the blueprint and advances the owning site atomically. A
// duplicate (site, version) pair yields ErrConflict and rolls back both.
func (s *BlueprintStore) Commit(ctx context.Context, bp discovery.Blueprint) error {
	categories, endpoints, renderHints, selectors, err := marshalBlueprintJSON(bp)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin blueprint commit: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, insertBlueprintSQL,
		bp.ID, bp.SiteID, bp.Version, bp.Confidence,
		categories, endpoints, renderHints, selectors,
		bp.CreatedAt, bp.CreatedBy, bp.Notes, bp.JobID,
	); err != nil {
		return fmt.Errorf("insert blueprint v%d for site %s: %w", bp.Version, bp.SiteID, mapError(err))
	}

	tag, err := tx.Exec(ctx, advanceSiteSQL,
		bp.SiteID, string(discovery.SiteStatusDiscovered), bp.Version, bp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("advance site %s: %w", bp.SiteID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %s: %w", bp.SiteID, discovery.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit blueprint v%d for site %s: %w", bp.Version, bp.SiteID, mapError(err))
	}
	return nil
}

const selectBlueprintSQL = `
SELECT id, site_id, version, confidence, categories, endpoints, render_hints,
	selectors, created_at, created_by, notes, job_id
FROM blueprints WHERE site_id = $1`

// Latest returns the highest-versioned blueprint for the site.
func (s *BlueprintStore) Latest(ctx context.Context, siteID string) (discovery.Blueprint, error) {
	row := s.pool.QueryRow(ctx, selectBlueprintSQL+" ORDER BY version DESC LIMIT 1", siteID)
	return scanBlueprint(row, siteID)
}

// Get returns the blueprint at an exact (site, version) pair.
func (s *BlueprintStore) Get(ctx context.Context, siteID string, version int) (discovery.Blueprint, error) {
	row := s.pool.QueryRow(ctx, selectBlueprintSQL+" AND version = $2", siteID, version)
	return scanBlueprint(row, siteID)
}

func scanBlueprint(row pgx.Row, siteID string) (discovery.Blueprint, error) {
	var (
		bp                                         discovery.Blueprint
		categories, endpoints, renderHints, selCol []byte
	)
	err := row.Scan(
		&bp.ID, &bp.SiteID, &bp.Version, &bp.Confidence,
		&categories, &endpoints, &renderHints, &selCol,
		&bp.CreatedAt, &bp.CreatedBy, &bp.Notes, &bp.JobID,
	)
	if err != nil {
		return discovery.Blueprint{}, fmt.Errorf("select blueprint for site %s: %w", siteID, mapError(err))
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{categories, &bp.Categories},
		{endpoints, &bp.Endpoints},
		{renderHints, &bp.RenderHints},
		{selCol, &bp.Selectors},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return discovery.Blueprint{}, fmt.Errorf("decode blueprint %s: %w", bp.ID, err)
		}
	}
	return bp, nil
}

func marshalBlueprintJSON(bp discovery.Blueprint) (categories, endpoints, renderHints, selectors []byte, err error) {
	if categories, err = json.Marshal(bp.Categories); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal categories: %w", err)
	}
	if endpoints, err = json.Marshal(bp.Endpoints); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal endpoints: %w", err)
	}
	if renderHints, err = json.Marshal(bp.RenderHints); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal render hints: %w", err)
	}
	if selectors, err = json.Marshal(bp.Selectors); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal selectors: %w", err)
	}
	return categories, endpoints, renderHints, selectors, nil
}
