// Package worker executes queued discovery jobs. Workers own every job
// state transition after submission: queued jobs become running, then
// success or failed, and terminal records are never mutated again.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/metrics"
)

const (
	defaultHardBudget        = 5 * time.Minute
	defaultSoftBudget        = 4 * time.Minute
	defaultHeartbeatInterval = 15 * time.Second
	dequeueBackoff           = 500 * time.Millisecond
)

// completionTopic is where job terminal-state events are published.
const completionTopic = "discovery.job.completed"

// Pipeline runs the six-phase discovery sequence.
type Pipeline interface {
	Discover(ctx context.Context, url string) discovery.DiscoveryResult
}

// Fingerprinter classifies a fetched homepage.
type Fingerprinter interface {
	Classify(res discovery.FetchResult) discovery.Fingerprint
}

// TemplateMatcher finds the best curated template for a platform.
type TemplateMatcher interface {
	FindTemplate(ctx context.Context, platform string, fp *discovery.Fingerprint, variant string) *discovery.PlatformTemplate
}

// Versioner commits merged discovery results as blueprint versions.
type Versioner interface {
	CommitResult(ctx context.Context, siteID, jobID string, result discovery.DiscoveryResult) (discovery.Blueprint, error)
}

// Merger folds a template into a discovery result.
type Merger func(tpl discovery.PlatformTemplate, result discovery.DiscoveryResult) discovery.DiscoveryResult

// Config tunes a worker's budgets and identity.
type Config struct {
	ID                string
	HardBudget        time.Duration
	SoftBudget        time.Duration
	HeartbeatInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.HardBudget <= 0 {
		c.HardBudget = defaultHardBudget
	}
	if c.SoftBudget <= 0 || c.SoftBudget >= c.HardBudget {
		c.SoftBudget = defaultSoftBudget
		if c.SoftBudget >= c.HardBudget {
			c.SoftBudget = c.HardBudget * 4 / 5
		}
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
}

// Worker dequeues and executes jobs until its context is cancelled.
type Worker struct {
	cfg       Config
	queue     discovery.Queue
	sites     discovery.SiteStore
	jobs      discovery.JobStore
	gate      discovery.ComplianceGate
	fetcher   discovery.Fetcher
	prints    Fingerprinter
	pipeline  Pipeline
	matcher   TemplateMatcher
	merge     Merger
	versioner Versioner
	generator discovery.SelectorGenerator
	publisher discovery.Publisher
	clock     discovery.Clock
	logger    *zap.Logger
}

// Deps collects the worker's collaborators. matcher, generator and
// publisher may be nil; the corresponding steps are skipped.
type Deps struct {
	Queue     discovery.Queue
	Sites     discovery.SiteStore
	Jobs      discovery.JobStore
	Gate      discovery.ComplianceGate
	Fetcher   discovery.Fetcher
	Prints    Fingerprinter
	Pipeline  Pipeline
	Matcher   TemplateMatcher
	Merge     Merger
	Versioner Versioner
	Generator discovery.SelectorGenerator
	Publisher discovery.Publisher
	Clock     discovery.Clock
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:       cfg,
		queue:     deps.Queue,
		sites:     deps.Sites,
		jobs:      deps.Jobs,
		gate:      deps.Gate,
		fetcher:   deps.Fetcher,
		prints:    deps.Prints,
		pipeline:  deps.Pipeline,
		matcher:   deps.Matcher,
		merge:     deps.Merge,
		versioner: deps.Versioner,
		generator: deps.Generator,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    logger.With(zap.String("worker_id", cfg.ID)),
	}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	metrics.WorkerStarted()
	defer metrics.WorkerFinished()
	w.logger.Info("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			if !errors.Is(err, discovery.ErrNotFound) {
				w.logger.Warn("dequeue failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.Process(ctx, item)
	}
}

// Process executes a single queued job end to end.
func (w *Worker) Process(ctx context.Context, item discovery.QueueItem) {
	job, err := w.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("queued job missing",
			zap.String("job_id", item.JobID),
			zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		w.logger.Warn("skipping terminal job",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)))
		return
	}

	now := w.clock.Now().UTC()
	job.Status = discovery.JobStatusRunning
	job.StartedAt = &now
	job.HeartbeatAt = &now
	job.WorkerID = w.cfg.ID
	if err := w.jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Error("marking job running failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Kind), string(discovery.JobStatusRunning))

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.HardBudget)
	defer cancel()
	stopHeartbeat := w.startHeartbeat(runCtx, job.ID)
	defer stopHeartbeat()

	start := time.Now()
	result, runErr := w.execute(runCtx, job)
	elapsed := time.Since(start)

	if elapsed > w.cfg.SoftBudget {
		w.logger.Warn("job exceeded soft budget",
			zap.String("job_id", job.ID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("soft_budget", w.cfg.SoftBudget))
	}

	if runErr != nil {
		code, msg := classifyError(runCtx, runErr)
		w.finishJob(ctx, job, discovery.JobStatusFailed, code, msg, result)
		return
	}
	w.finishJob(ctx, job, discovery.JobStatusSuccess, "", "", result)
}

func (w *Worker) execute(ctx context.Context, job discovery.Job) (map[string]any, error) {
	switch job.Kind {
	case discovery.JobKindFingerprint:
		return w.runFingerprint(ctx, job)
	case discovery.JobKindDiscover:
		return w.runDiscover(ctx, job)
	case discovery.JobKindSelectorGen:
		return w.runSelectorGen(ctx, job)
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// finishJob records the terminal state and publishes the completion event.
// The terminal write uses the parent context so a budget timeout cannot
// prevent the failure itself from being persisted.
func (w *Worker) finishJob(ctx context.Context, job discovery.Job, status discovery.JobStatus, code, msg string, result map[string]any) {
	ended := w.clock.Now().UTC()
	job.Status = status
	job.EndedAt = &ended
	job.ErrorCode = code
	job.ErrorMessage = msg
	job.Result = result

	if err := w.jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Error("persisting terminal job state failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Kind), string(status))

	if status == discovery.JobStatusFailed {
		w.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("site_id", job.SiteID),
			zap.String("error_code", code),
			zap.String("error", msg))
	} else {
		w.logger.Info("job succeeded",
			zap.String("job_id", job.ID),
			zap.String("site_id", job.SiteID))
	}

	w.publishCompletion(ctx, job)
}

func (w *Worker) publishCompletion(ctx context.Context, job discovery.Job) {
	if w.publisher == nil {
		return
	}
	event := map[string]any{
		"job_id":     job.ID,
		"site_id":    job.SiteID,
		"kind":       string(job.Kind),
		"status":     string(job.Status),
		"error_code": job.ErrorCode,
		"ended_at":   job.EndedAt,
	}
	if _, err := w.publisher.Publish(ctx, completionTopic, event); err != nil {
		w.logger.Warn("publishing completion event failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

// startHeartbeat refreshes the job's heartbeat timestamp until the returned
// stop function is called or ctx ends.
func (w *Worker) startHeartbeat(ctx context.Context, jobID string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				job, err := w.jobs.GetJob(hbCtx, jobID)
				if err != nil || job.Status.Terminal() {
					return
				}
				now := w.clock.Now().UTC()
				job.HeartbeatAt = &now
				if err := w.jobs.UpdateJob(hbCtx, job); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// classifyError maps a run error onto the persisted error taxonomy.
func classifyError(ctx context.Context, err error) (code, msg string) {
	msg = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return discovery.ErrCodeTimeout, msg
	case errors.Is(err, discovery.ErrConflict):
		return discovery.ErrCodePersistenceConflict, msg
	case isComplianceMessage(msg):
		return discovery.ErrCodeComplianceBlocked, msg
	case strings.Contains(msg, "fetch"):
		return discovery.ErrCodeFetchError, msg
	default:
		return discovery.ErrCodeInternal, msg
	}
}

func isComplianceMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"robots", "compliance", "policy", "private content", "rate limit"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func siteURL(site discovery.Site) string {
	if strings.HasPrefix(site.Domain, "http://") || strings.HasPrefix(site.Domain, "https://") {
		return site.Domain
	}
	return "https://" + site.Domain
}
