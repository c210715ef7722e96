// Package memory provides in-memory store implementations for development
// and testing. All stores are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sitelens/discovery/internal/discovery"
)

// SiteStore keeps site records in a mutex-guarded map.
type SiteStore struct {
	mu    sync.RWMutex
	sites map[string]discovery.Site
}

// NewSiteStore constructs a SiteStore.
func NewSiteStore() *SiteStore {
	return &SiteStore{sites: make(map[string]discovery.Site)}
}

// CreateSite stores a new site record.
func (s *SiteStore) CreateSite(_ context.Context, site discovery.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sites[site.ID]; exists {
		return fmt.Errorf("site %s: %w", site.ID, discovery.ErrConflict)
	}
	s.sites[site.ID] = site
	return nil
}

// GetSite fetches a site by ID.
func (s *SiteStore) GetSite(_ context.Context, siteID string) (discovery.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[siteID]
	if !ok {
		return discovery.Site{}, fmt.Errorf("site %s: %w", siteID, discovery.ErrNotFound)
	}
	return site, nil
}

// UpdateSite replaces an existing site record.
func (s *SiteStore) UpdateSite(_ context.Context, site discovery.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[site.ID]; !ok {
		return fmt.Errorf("site %s: %w", site.ID, discovery.ErrNotFound)
	}
	s.sites[site.ID] = site
	return nil
}

// JobStore keeps job records and enforces terminal-state immutability.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]discovery.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]discovery.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job discovery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, discovery.ErrConflict)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (discovery.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return discovery.Job{}, fmt.Errorf("job %s: %w", jobID, discovery.ErrNotFound)
	}
	return job, nil
}

// UpdateJob replaces a job record. Jobs that already reached a terminal
// status are immutable and reject the write.
func (s *JobStore) UpdateJob(_ context.Context, job discovery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, discovery.ErrNotFound)
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("job %s: %w", job.ID, discovery.ErrTerminalJob)
	}
	s.jobs[job.ID] = job
	return nil
}

// HasActiveJob reports whether a non-terminal job of the given kind exists
// for the site.
func (s *JobStore) HasActiveJob(_ context.Context, siteID string, kind discovery.JobKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.SiteID == siteID && job.Kind == kind && !job.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// BlueprintStore keeps blueprint versions and the owning sites' counters
// consistent. Commit is atomic under the store's lock.
type BlueprintStore struct {
	mu         sync.RWMutex
	sites      *SiteStore
	blueprints map[string][]discovery.Blueprint
}

// NewBlueprintStore constructs a BlueprintStore backed by sites for the
// atomic site advance on commit.
func NewBlueprintStore(sites *SiteStore) *BlueprintStore {
	return &BlueprintStore{
		sites:      sites,
		blueprints: make(map[string][]discovery.Blueprint),
	}
}

// Commit inserts the blueprint and advances the owning site's status,
// version counter and last-discovered timestamp in one step. A duplicate
// (site, version) pair yields ErrConflict and leaves both untouched.
func (s *BlueprintStore) Commit(_ context.Context, bp discovery.Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.blueprints[bp.SiteID] {
		if existing.Version == bp.Version {
			return fmt.Errorf("blueprint v%d for site %s: %w", bp.Version, bp.SiteID, discovery.ErrConflict)
		}
	}

	s.sites.mu.Lock()
	defer s.sites.mu.Unlock()
	site, ok := s.sites.sites[bp.SiteID]
	if !ok {
		return fmt.Errorf("site %s: %w", bp.SiteID, discovery.ErrNotFound)
	}

	s.blueprints[bp.SiteID] = append(s.blueprints[bp.SiteID], bp)

	site.Status = discovery.SiteStatusDiscovered
	site.BlueprintVersion = bp.Version
	site.UpdatedAt = bp.CreatedAt
	created := bp.CreatedAt
	site.LastDiscoveredAt = &created
	s.sites.sites[site.ID] = site
	return nil
}

// Latest returns the highest-versioned blueprint for the site.
func (s *BlueprintStore) Latest(_ context.Context, siteID string) (discovery.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.blueprints[siteID]
	if len(versions) == 0 {
		return discovery.Blueprint{}, fmt.Errorf("blueprints for site %s: %w", siteID, discovery.ErrNotFound)
	}
	latest := versions[0]
	for _, bp := range versions[1:] {
		if bp.Version > latest.Version {
			latest = bp
		}
	}
	return latest, nil
}

// Get returns the blueprint at an exact (site, version) pair.
func (s *BlueprintStore) Get(_ context.Context, siteID string, version int) (discovery.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bp := range s.blueprints[siteID] {
		if bp.Version == version {
			return bp, nil
		}
	}
	return discovery.Blueprint{}, fmt.Errorf("blueprint v%d for site %s: %w", version, siteID, discovery.ErrNotFound)
}

// TemplateStore keeps curated platform templates.
type TemplateStore struct {
	mu        sync.RWMutex
	templates []discovery.PlatformTemplate
}

// NewTemplateStore constructs a TemplateStore seeded with templates.
func NewTemplateStore(templates ...discovery.PlatformTemplate) *TemplateStore {
	return &TemplateStore{templates: templates}
}

// Put inserts or replaces a template by ID.
func (s *TemplateStore) Put(tpl discovery.PlatformTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.templates {
		if existing.ID == tpl.ID {
			s.templates[i] = tpl
			return
		}
	}
	s.templates = append(s.templates, tpl)
}

// ListActive returns active templates for the platform, case-insensitively,
// ordered by descending confidence then recency.
func (s *TemplateStore) ListActive(_ context.Context, platform string) ([]discovery.PlatformTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []discovery.PlatformTemplate
	for _, tpl := range s.templates {
		if tpl.Active && strings.EqualFold(tpl.Platform, platform) {
			out = append(out, tpl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
