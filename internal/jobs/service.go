// Package jobs submits and tracks asynchronous discovery work.
package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/metrics"
)

const defaultMaxRetries = 3

// Service is the job submission surface. It owns the one-active-discover-
// job-per-site rule; workers own every later state transition.
type Service struct {
	sites      discovery.SiteStore
	jobs       discovery.JobStore
	queue      discovery.Queue
	ids        discovery.IDGenerator
	clock      discovery.Clock
	maxRetries int
	logger     *zap.Logger
}

// NewService constructs a job Service. maxRetries <= 0 falls back to the
// default retry cap.
func NewService(sites discovery.SiteStore, jobs discovery.JobStore, queue discovery.Queue, ids discovery.IDGenerator, clock discovery.Clock, maxRetries int, logger *zap.Logger) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		sites:      sites,
		jobs:       jobs,
		queue:      queue,
		ids:        ids,
		clock:      clock,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Submit creates and enqueues a new queued job for the site. Submitting a
// discover job while one is already queued or running for the same site
// returns discovery.ErrConflict and writes nothing.
func (s *Service) Submit(ctx context.Context, kind discovery.JobKind, siteID string) (discovery.Job, error) {
	if _, err := s.sites.GetSite(ctx, siteID); err != nil {
		return discovery.Job{}, fmt.Errorf("loading site %s: %w", siteID, err)
	}

	if kind == discovery.JobKindDiscover {
		active, err := s.jobs.HasActiveJob(ctx, siteID, kind)
		if err != nil {
			return discovery.Job{}, fmt.Errorf("checking active jobs for site %s: %w", siteID, err)
		}
		if active {
			return discovery.Job{}, fmt.Errorf("discover job already active for site %s: %w", siteID, discovery.ErrConflict)
		}
	}

	job, err := s.createQueued(ctx, kind, siteID, 0, 1)
	if err != nil {
		return discovery.Job{}, err
	}

	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("site_id", siteID),
		zap.String("kind", string(kind)))
	metrics.ObserveJob(string(kind), string(discovery.JobStatusQueued))
	return job, nil
}

// Retry creates a brand-new queued job for a failed job, with an
// incremented attempt and priority. Terminal records are never resurrected.
func (s *Service) Retry(ctx context.Context, jobID string) (discovery.Job, error) {
	prev, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return discovery.Job{}, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if prev.Status != discovery.JobStatusFailed {
		return discovery.Job{}, fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, prev.Status)
	}
	if !prev.CanRetry() {
		return discovery.Job{}, fmt.Errorf("job %s exhausted its %d retries", jobID, prev.MaxRetries)
	}

	job, err := s.createQueued(ctx, prev.Kind, prev.SiteID, prev.Priority+1, prev.Attempt+1)
	if err != nil {
		return discovery.Job{}, err
	}

	s.logger.Info("job retried",
		zap.String("job_id", job.ID),
		zap.String("previous_job_id", jobID),
		zap.Int("attempt", job.Attempt))
	metrics.ObserveJob(string(job.Kind), string(discovery.JobStatusQueued))
	return job, nil
}

// Get returns the job record.
func (s *Service) Get(ctx context.Context, jobID string) (discovery.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

func (s *Service) createQueued(ctx context.Context, kind discovery.JobKind, siteID string, priority, attempt int) (discovery.Job, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return discovery.Job{}, fmt.Errorf("generating job id: %w", err)
	}

	job := discovery.Job{
		ID:         id,
		SiteID:     siteID,
		Kind:       kind,
		Status:     discovery.JobStatusQueued,
		Priority:   priority,
		Attempt:    attempt,
		MaxRetries: s.maxRetries,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return discovery.Job{}, fmt.Errorf("creating job for site %s: %w", siteID, err)
	}

	item := discovery.QueueItem{
		JobID:     job.ID,
		SiteID:    siteID,
		Kind:      kind,
		Attempt:   attempt,
		Submitted: job.CreatedAt.UnixMilli(),
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return discovery.Job{}, fmt.Errorf("enqueuing job %s: %w", job.ID, err)
	}
	return job, nil
}
