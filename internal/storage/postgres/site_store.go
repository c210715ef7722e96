package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sitelens/discovery/internal/discovery"
)

// SiteStore persists site records in the sites table.
type SiteStore struct {
	pool Pool
}

// NewSiteStore constructs a SiteStore on an existing pool.
func NewSiteStore(pool Pool) *SiteStore {
	return &SiteStore{pool: pool}
}

const insertSiteSQL = `
INSERT INTO sites (
	id, domain, platform, status, complexity_score, business_value_score,
	fingerprint, blueprint_version, created_at, updated_at,
	last_discovered_at, notes, created_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// CreateSite inserts a new site row.
func (s *SiteStore) CreateSite(ctx context.Context, site discovery.Site) error {
	fingerprint, err := marshalNullable(site.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertSiteSQL,
		site.ID, site.Domain, site.Platform, string(site.Status),
		site.ComplexityScore, site.BusinessValueScore, fingerprint,
		site.BlueprintVersion, site.CreatedAt, site.UpdatedAt,
		site.LastDiscoveredAt, site.Notes, site.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert site %s: %w", site.ID, mapError(err))
	}
	return nil
}

const selectSiteSQL = `
SELECT id, domain, platform, status, complexity_score, business_value_score,
	fingerprint, blueprint_version, created_at, updated_at,
	last_discovered_at, notes, created_by
FROM sites WHERE id = $1`

// GetSite fetches a site row by ID.
func (s *SiteStore) GetSite(ctx context.Context, siteID string) (discovery.Site, error) {
	var (
		site        discovery.Site
		status      string
		fingerprint []byte
	)
	err := s.pool.QueryRow(ctx, selectSiteSQL, siteID).Scan(
		&site.ID, &site.Domain, &site.Platform, &status,
		&site.ComplexityScore, &site.BusinessValueScore, &fingerprint,
		&site.BlueprintVersion, &site.CreatedAt, &site.UpdatedAt,
		&site.LastDiscoveredAt, &site.Notes, &site.CreatedBy,
	)
	if err != nil {
		return discovery.Site{}, fmt.Errorf("select site %s: %w", siteID, mapError(err))
	}
	site.Status = discovery.SiteStatus(status)
	if len(fingerprint) > 0 {
		var fp discovery.Fingerprint
		if err := json.Unmarshal(fingerprint, &fp); err != nil {
			return discovery.Site{}, fmt.Errorf("decode fingerprint for site %s: %w", siteID, err)
		}
		site.Fingerprint = &fp
	}
	return site, nil
}

const updateSiteSQL = `
UPDATE sites SET
	domain = $2, platform = $3, status = $4, complexity_score = $5,
	business_value_score = $6, fingerprint = $7, blueprint_version = $8,
	updated_at = $9, last_discovered_at = $10, notes = $11
WHERE id = $1`

// UpdateSite replaces the mutable fields of a site row.
func (s *SiteStore) UpdateSite(ctx context.Context, site discovery.Site) error {
	fingerprint, err := marshalNullable(site.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	tag, err := s.pool.Exec(ctx, updateSiteSQL,
		site.ID, site.Domain, site.Platform, string(site.Status),
		site.ComplexityScore, site.BusinessValueScore, fingerprint,
		site.BlueprintVersion, site.UpdatedAt, site.LastDiscoveredAt, site.Notes,
	)
	if err != nil {
		return fmt.Errorf("update site %s: %w", site.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %s: %w", site.ID, discovery.ErrNotFound)
	}
	return nil
}

// marshalNullable returns nil for nil pointers so the column stays NULL.
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if fp, ok := v.(*discovery.Fingerprint); ok && fp == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
