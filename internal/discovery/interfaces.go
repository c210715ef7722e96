package discovery

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrTerminalJob = errors.New("job already terminal")
)

// SiteStore persists site records.
type SiteStore interface {
	CreateSite(ctx context.Context, site Site) error
	GetSite(ctx context.Context, siteID string) (Site, error)
	UpdateSite(ctx context.Context, site Site) error
}

// JobStore persists job records. UpdateJob must reject mutation of jobs that
// have already reached a terminal status with ErrTerminalJob.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJob(ctx context.Context, job Job) error
	HasActiveJob(ctx context.Context, siteID string, kind JobKind) (bool, error)
}

// BlueprintStore persists blueprint versions. Commit inserts the blueprint
// and advances the owning site's status, version counter and
// last-discovered timestamp as one atomic operation; a duplicate
// (site, version) pair yields ErrConflict.
type BlueprintStore interface {
	Commit(ctx context.Context, bp Blueprint) error
	Latest(ctx context.Context, siteID string) (Blueprint, error)
	Get(ctx context.Context, siteID string, version int) (Blueprint, error)
}

// TemplateStore reads curated platform templates.
type TemplateStore interface {
	ListActive(ctx context.Context, platform string) ([]PlatformTemplate, error)
}

// FetchMode selects between a plain HTTP fetch and a headless-browser fetch.
type FetchMode string

// Fetch modes.
const (
	FetchStatic   FetchMode = "static"
	FetchRendered FetchMode = "rendered"
)

// FetchResult is the uniform result of either fetch mode.
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	HTML        string
	ContentHash string
	UsedJS      bool
	Duration    time.Duration
}

// Fetcher retrieves a URL's rendered content.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, mode FetchMode) (FetchResult, error)
}

// ComplianceGate decides whether fetching a URL is permitted and enforces
// politeness pacing. Every fetch-issuing component must pass through
// EnforceRateLimit before the network call.
type ComplianceGate interface {
	CheckAllowed(ctx context.Context, rawURL string) (bool, string)
	EnforceRateLimit(ctx context.Context, rawURL string) error
	ShouldCrawl(rawURL, baseURL string) (bool, string)
	IsPublicContent(rawURL, html string) (bool, string)
	ValidateRequest(ctx context.Context, rawURL, baseURL string) (bool, string)
}

// Queue provides enqueue/dequeue semantics for discovery jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes job completion events to an event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// SelectorGenerator is the optional LLM-backed selector capability. When it
// is not configured the pipeline falls back entirely to its heuristic
// candidate lists.
type SelectorGenerator interface {
	GenerateSelectors(ctx context.Context, html, fieldName string) ([]SelectorCandidate, error)
	RepairSelector(ctx context.Context, oldSelector, html, expectedField string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
