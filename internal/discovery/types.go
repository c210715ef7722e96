// Package discovery defines the core types shared across the discovery engine.
package discovery

import (
	"time"
)

// SiteStatus represents the lifecycle state of a site under intelligence.
type SiteStatus string

// Site status values persisted in the site store.
const (
	SiteStatusPending       SiteStatus = "pending"
	SiteStatusFingerprinted SiteStatus = "fingerprinted"
	SiteStatusDiscovered    SiteStatus = "discovered"
	SiteStatusReview        SiteStatus = "review"
	SiteStatusFailed        SiteStatus = "failed"
)

// Site is a domain under intelligence.
type Site struct {
	ID                 string       `json:"id"`
	Domain             string       `json:"domain"`
	Platform           string       `json:"platform,omitempty"`
	Status             SiteStatus   `json:"status"`
	ComplexityScore    float64      `json:"complexity_score"`
	BusinessValueScore float64      `json:"business_value_score"`
	Fingerprint        *Fingerprint `json:"fingerprint,omitempty"`
	BlueprintVersion   int          `json:"blueprint_version"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	LastDiscoveredAt   *time.Time   `json:"last_discovered_at,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	CreatedBy          string       `json:"created_by,omitempty"`
}

// JobKind identifies the unit of pipeline work a job performs.
type JobKind string

// Supported job kinds.
const (
	JobKindFingerprint JobKind = "fingerprint"
	JobKindDiscover    JobKind = "discover"
	JobKindSelectorGen JobKind = "selector_generation"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values. Terminal statuses are immutable once reached.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Error codes recorded on failed jobs.
const (
	ErrCodeComplianceBlocked   = "compliance_blocked"
	ErrCodeFetchError          = "fetch_error"
	ErrCodeTimeout             = "timeout_exceeded"
	ErrCodePersistenceConflict = "persistence_conflict"
	ErrCodeInternal            = "internal_error"
)

// Job is one asynchronous unit of pipeline work against a site.
// Retried jobs are new Job records, never resurrected ones.
type Job struct {
	ID           string         `json:"id"`
	SiteID       string         `json:"site_id"`
	Kind         JobKind        `json:"kind"`
	Status       JobStatus      `json:"status"`
	Priority     int            `json:"priority"`
	Attempt      int            `json:"attempt"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	HeartbeatAt  *time.Time     `json:"heartbeat_at,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
}

// CanRetry reports whether another attempt is allowed.
func (j Job) CanRetry() bool {
	return j.Attempt < j.MaxRetries
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	SiteID    string
	Kind      JobKind
	Attempt   int
	Submitted int64
}

// Category is one node of a site's detected category taxonomy.
type Category struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	URL        string  `json:"url,omitempty"`
	ParentID   string  `json:"parent_id,omitempty"`
	Depth      int     `json:"depth"`
	Confidence float64 `json:"confidence"`
}

// Endpoint describes a backing API endpoint discovered in page markup.
type Endpoint struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Type       string            `json:"type,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Confidence float64           `json:"confidence"`
}

// RenderHints captures how a site must be rendered for extraction.
type RenderHints struct {
	RequiresJS      bool   `json:"requires_js"`
	BrowserType     string `json:"browser_type,omitempty"`
	WaitForSelector string `json:"wait_for_selector,omitempty"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	TemplateApplied bool   `json:"template_applied,omitempty"`
}

// Selector is one field-extraction rule, CSS or XPath.
type Selector struct {
	FieldName        string  `json:"field_name"`
	CSSSelector      string  `json:"css_selector,omitempty"`
	XPath            string  `json:"xpath,omitempty"`
	Confidence       float64 `json:"confidence"`
	GenerationMethod string  `json:"generation_method,omitempty"`
}

// Blueprint is an immutable, versioned snapshot of site intelligence.
// Corrections are new versions; rollback copies a historical payload
// forward as version max+1.
type Blueprint struct {
	ID          string      `json:"id"`
	SiteID      string      `json:"site_id"`
	Version     int         `json:"version"`
	Confidence  float64     `json:"confidence"`
	Categories  []Category  `json:"categories"`
	Endpoints   []Endpoint  `json:"endpoints"`
	RenderHints RenderHints `json:"render_hints"`
	Selectors   []Selector  `json:"selectors"`
	CreatedAt   time.Time   `json:"created_at"`
	CreatedBy   string      `json:"created_by,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	JobID       string      `json:"job_id,omitempty"`
}

// MatchPatterns holds the descriptors used to score a template against a
// site's fingerprint markup and response headers.
type MatchPatterns struct {
	Indicators       []string          `json:"indicators,omitempty"`
	HeaderIndicators map[string]string `json:"header_indicators,omitempty"`
}

// PlatformTemplate is a curated pattern-library entry for one platform.
// Templates are read-mostly; the matcher never mutates them.
type PlatformTemplate struct {
	ID                   string            `json:"id"`
	Platform             string            `json:"platform"`
	Variant              string            `json:"variant,omitempty"`
	CategorySelectors    map[string]string `json:"category_selectors,omitempty"`
	ProductListSelectors map[string]string `json:"product_list_selectors,omitempty"`
	APIEndpoints         []Endpoint        `json:"api_endpoints,omitempty"`
	RenderHints          RenderHints       `json:"render_hints"`
	MatchPatterns        MatchPatterns     `json:"match_patterns"`
	Confidence           float64           `json:"confidence"`
	Active               bool              `json:"active"`
	CreatedAt            time.Time         `json:"created_at"`
}

// AntiBot reports detected bot-protection vendors.
type AntiBot struct {
	Detected bool     `json:"detected"`
	Services []string `json:"services,omitempty"`
}

// Fingerprint classifies a site's platform, CMS, JS stack and anti-bot
// posture. HTML and Headers are retained so the template matcher can score
// match patterns against the observed homepage.
type Fingerprint struct {
	Platform        string            `json:"platform"`
	CMS             string            `json:"cms"`
	JSFrameworks    []string          `json:"javascript_frameworks"`
	AntiBot         AntiBot           `json:"anti_bot"`
	RequiresJS      bool              `json:"requires_js"`
	ComplexityScore float64           `json:"complexity_score"`
	PageBytes       int               `json:"page_bytes"`
	ContentHash     string            `json:"content_hash,omitempty"`
	HTML            string            `json:"html,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// Link is one outbound anchor collected during structure exploration.
type Link struct {
	URL    string `json:"url"`
	Text   string `json:"text"`
	Depth  int    `json:"depth"`
	FromJS bool   `json:"from_js,omitempty"`
}

// StructureResult is the Phase 1 output.
type StructureResult struct {
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason,omitempty"`
	Links        []Link   `json:"links"`
	NavLinks     []string `json:"nav_links"`
	TotalLinks   int      `json:"total_links"`
	RequiresJS   bool     `json:"requires_js"`
	HomepageHTML string   `json:"-"`
}

// CategoryResult is the Phase 2 output. Categories maps a detected category
// path segment to its observed subcategory segments.
type CategoryResult struct {
	Categories        map[string][]string `json:"categories"`
	CategorySelectors map[string]string   `json:"category_selectors,omitempty"`
	TotalCategories   int                 `json:"total_categories"`
	Confidence        float64             `json:"confidence"`
	TemplateApplied   bool                `json:"template_applied,omitempty"`
}

// ProductResult is the Phase 3 output.
type ProductResult struct {
	ListingPages  []string `json:"listing_pages"`
	ProductPages  []string `json:"product_pages"`
	SamplePages   []string `json:"sample_pages"`
	URLPattern    string   `json:"product_url_pattern,omitempty"`
	TotalProducts int      `json:"total_products_found"`
}

// SelectorResult is the Phase 4 output, keyed by semantic field name.
type SelectorResult struct {
	Selectors       map[string]Selector `json:"selectors"`
	FieldsFound     []string            `json:"fields_found"`
	Confidence      float64             `json:"confidence"`
	TemplateApplied bool                `json:"template_applied,omitempty"`
}

// EndpointResult is the Phase 5 output.
type EndpointResult struct {
	Endpoints       []Endpoint `json:"endpoints"`
	TotalEndpoints  int        `json:"total_endpoints"`
	TemplateApplied bool       `json:"template_applied,omitempty"`
}

// Pagination types recorded by Phase 6.
const (
	PaginationQueryParam = "query_param"
	PaginationPathParam  = "path_param"
)

// PaginationResult is the Phase 6 output.
type PaginationResult struct {
	Type           string `json:"type,omitempty"`
	Param          string `json:"param,omitempty"`
	MaxPages       int    `json:"max_pages,omitempty"`
	InfiniteScroll bool   `json:"infinite_scroll"`
}

// TemplateProvenance records which template was merged into a result.
type TemplateProvenance struct {
	TemplateID string  `json:"template_id"`
	Platform   string  `json:"platform"`
	Variant    string  `json:"variant,omitempty"`
	Confidence float64 `json:"confidence"`
}

// DiscoveryResult carries per-phase outputs plus the aggregate confidence.
type DiscoveryResult struct {
	Success      bool                `json:"success"`
	Error        string              `json:"error,omitempty"`
	URL          string              `json:"url"`
	DiscoveredAt time.Time           `json:"discovered_at"`
	Duration     time.Duration       `json:"-"`
	DurationSecs float64             `json:"duration_seconds"`
	Confidence   float64             `json:"confidence_score"`
	Structure    StructureResult     `json:"structure"`
	Categories   CategoryResult      `json:"categories"`
	Products     ProductResult       `json:"products"`
	Selectors    SelectorResult      `json:"selectors"`
	Endpoints    EndpointResult      `json:"endpoints"`
	Pagination   PaginationResult    `json:"pagination"`
	RenderHints  RenderHints         `json:"render_hints"`
	Template     *TemplateProvenance `json:"template_used,omitempty"`
}

// SelectorCandidate is one suggestion from the selector generation service.
type SelectorCandidate struct {
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
}
