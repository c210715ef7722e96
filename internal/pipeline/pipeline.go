// Package pipeline runs the six-phase discovery sequence against a single
// site. Phases are strictly ordered; each consumes the previous phase's
// output and degrades to an empty result on phase-local errors. Only a
// compliance rejection in phase one aborts the whole run.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/metrics"
)

const (
	maxLinksPerSite    = 50
	renderHintTimeout  = 30
	maxSamplePages     = 3
	anchorTextMaxChars = 100
)

// Pipeline orchestrates a discovery run. It holds no per-run state; a single
// Pipeline serves concurrent runs against different sites.
type Pipeline struct {
	gate      discovery.ComplianceGate
	fetcher   discovery.Fetcher
	generator discovery.SelectorGenerator
	snapshots discovery.BlobStore
	logger    *zap.Logger
}

// New constructs a Pipeline. generator may be nil; selector extraction then
// relies entirely on the heuristic candidate lists. snapshots may be nil to
// skip page archiving.
func New(gate discovery.ComplianceGate, fetcher discovery.Fetcher, generator discovery.SelectorGenerator, snapshots discovery.BlobStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		gate:      gate,
		fetcher:   fetcher,
		generator: generator,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Discover runs all six phases against url. It never returns an error;
// failures, including panics inside a phase, are folded into a failed
// DiscoveryResult with the elapsed duration. Partial phase outputs are
// dropped on failure, nothing is persisted here.
func (p *Pipeline) Discover(ctx context.Context, url string) (result discovery.DiscoveryResult) {
	start := time.Now()
	result = discovery.DiscoveryResult{
		URL:          url,
		DiscoveredAt: start.UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("discovery panicked",
				zap.String("url", url),
				zap.Any("panic", r))
			result = discovery.DiscoveryResult{
				Success:      false,
				Error:        fmt.Sprintf("internal error: %v", r),
				URL:          url,
				DiscoveredAt: start.UTC(),
			}
		}
		result.Duration = time.Since(start)
		result.DurationSecs = result.Duration.Seconds()
	}()

	structure, err := p.exploreStructure(ctx, url)
	p.observePhase("structure", start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !structure.Allowed {
		result.Error = structure.Reason
		result.Structure = structure
		return result
	}
	p.archiveSnapshot(ctx, url, structure.HomepageHTML)

	phaseStart := time.Now()
	categories := detectCategories(structure.Links)
	p.observePhase("categories", phaseStart)

	phaseStart = time.Now()
	products := recognizeProducts(structure.Links)
	p.observePhase("products", phaseStart)

	phaseStart = time.Now()
	selectors := p.extractSelectors(ctx, url, products.SamplePages)
	p.observePhase("selectors", phaseStart)

	phaseStart = time.Now()
	endpoints := p.discoverEndpoints(ctx, url)
	p.observePhase("endpoints", phaseStart)

	phaseStart = time.Now()
	pagination := p.detectPagination(ctx, url, products.ListingPages)
	p.observePhase("pagination", phaseStart)

	result.Success = true
	result.Structure = structure
	result.Categories = categories
	result.Products = products
	result.Selectors = selectors
	result.Endpoints = endpoints
	result.Pagination = pagination
	result.Confidence = aggregateConfidence(structure, categories, products, selectors, endpoints, pagination)
	result.RenderHints = discovery.RenderHints{
		RequiresJS:     structure.RequiresJS,
		TimeoutSeconds: renderHintTimeout,
	}

	p.logger.Info("discovery complete",
		zap.String("url", url),
		zap.Float64("confidence", result.Confidence),
		zap.Int("links", structure.TotalLinks),
		zap.Int("categories", categories.TotalCategories),
		zap.Int("products", products.TotalProducts),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

func (p *Pipeline) observePhase(phase string, since time.Time) {
	metrics.ObservePhase(phase, time.Since(since))
}

// archiveSnapshot stores raw page HTML for audit and replay. Archiving is
// best effort; failures are logged and never fail the run.
func (p *Pipeline) archiveSnapshot(ctx context.Context, url, html string) {
	if p.snapshots == nil || html == "" {
		return
	}
	path := fmt.Sprintf("snapshots/%s/%d.html", snapshotKey(url), time.Now().UnixMilli())
	if _, err := p.snapshots.PutObject(ctx, path, "text/html; charset=utf-8", []byte(html)); err != nil {
		p.logger.Warn("snapshot archive failed",
			zap.String("url", url),
			zap.Error(err))
	}
}

// snapshotKey derives a stable path segment from a URL's host.
func snapshotKey(rawURL string) string {
	origin, err := discovery.Origin(rawURL)
	if err != nil {
		return "unknown"
	}
	origin = strings.TrimPrefix(origin, "https://")
	origin = strings.TrimPrefix(origin, "http://")
	return strings.ReplaceAll(origin, ":", "_")
}

// gatedFetch enforces rate limiting before delegating to the fetcher.
func (p *Pipeline) gatedFetch(ctx context.Context, url string, mode discovery.FetchMode) (discovery.FetchResult, error) {
	if err := p.gate.EnforceRateLimit(ctx, url); err != nil {
		return discovery.FetchResult{}, err
	}
	return p.fetcher.Fetch(ctx, url, mode)
}
