package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sitelens/discovery/internal/discovery"
)

// JobStore persists job records in the jobs table. Terminal immutability is
// enforced in the UPDATE predicate, not in application reads, so concurrent
// writers cannot race a terminal transition.
type JobStore struct {
	pool Pool
}

// NewJobStore constructs a JobStore on an existing pool.
func NewJobStore(pool Pool) *JobStore {
	return &JobStore{pool: pool}
}

const insertJobSQL = `
INSERT INTO jobs (
	id, site_id, kind, status, priority, attempt, max_retries, created_at,
	started_at, ended_at, heartbeat_at, worker_id, error_code, error_message,
	payload, result
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job discovery.Job) error {
	payload, result, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, insertJobSQL,
		job.ID, job.SiteID, string(job.Kind), string(job.Status),
		job.Priority, job.Attempt, job.MaxRetries, job.CreatedAt,
		job.StartedAt, job.EndedAt, job.HeartbeatAt, job.WorkerID,
		job.ErrorCode, job.ErrorMessage, payload, result,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, mapError(err))
	}
	return nil
}

const selectJobSQL = `
SELECT id, site_id, kind, status, priority, attempt, max_retries, created_at,
	started_at, ended_at, heartbeat_at, worker_id, error_code, error_message,
	payload, result
FROM jobs WHERE id = $1`

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (discovery.Job, error) {
	var (
		job             discovery.Job
		kind, status    string
		payload, result []byte
	)
	err := s.pool.QueryRow(ctx, selectJobSQL, jobID).Scan(
		&job.ID, &job.SiteID, &kind, &status,
		&job.Priority, &job.Attempt, &job.MaxRetries, &job.CreatedAt,
		&job.StartedAt, &job.EndedAt, &job.HeartbeatAt, &job.WorkerID,
		&job.ErrorCode, &job.ErrorMessage, &payload, &result,
	)
	if err != nil {
		return discovery.Job{}, fmt.Errorf("select job %s: %w", jobID, mapError(err))
	}
	job.Kind = discovery.JobKind(kind)
	job.Status = discovery.JobStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return discovery.Job{}, fmt.Errorf("decode payload for job %s: %w", jobID, err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return discovery.Job{}, fmt.Errorf("decode result for job %s: %w", jobID, err)
		}
	}
	return job, nil
}

const updateJobSQL = `
UPDATE jobs SET
	status = $2, priority = $3, attempt = $4, started_at = $5, ended_at = $6,
	heartbeat_at = $7, worker_id = $8, error_code = $9, error_message = $10,
	payload = $11, result = $12
WHERE id = $1 AND status NOT IN ('success', 'failed')`

// UpdateJob replaces the mutable fields of a job row. Rows already in a
// terminal status reject the write with ErrTerminalJob.
func (s *JobStore) UpdateJob(ctx context.Context, job discovery.Job) error {
	payload, result, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, updateJobSQL,
		job.ID, string(job.Status), job.Priority, job.Attempt,
		job.StartedAt, job.EndedAt, job.HeartbeatAt, job.WorkerID,
		job.ErrorCode, job.ErrorMessage, payload, result,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		// Missing row or terminal row; read back to distinguish.
		existing, getErr := s.GetJob(ctx, job.ID)
		if getErr != nil {
			return fmt.Errorf("job %s: %w", job.ID, discovery.ErrNotFound)
		}
		if existing.Status.Terminal() {
			return fmt.Errorf("job %s: %w", job.ID, discovery.ErrTerminalJob)
		}
		return fmt.Errorf("update job %s affected no rows", job.ID)
	}
	return nil
}

const hasActiveJobSQL = `
SELECT EXISTS (
	SELECT 1 FROM jobs
	WHERE site_id = $1 AND kind = $2 AND status IN ('queued', 'running')
)`

// HasActiveJob reports whether a queued or running job of the given kind
// exists for the site.
func (s *JobStore) HasActiveJob(ctx context.Context, siteID string, kind discovery.JobKind) (bool, error) {
	var active bool
	if err := s.pool.QueryRow(ctx, hasActiveJobSQL, siteID, string(kind)).Scan(&active); err != nil {
		return false, fmt.Errorf("check active jobs for site %s: %w", siteID, mapError(err))
	}
	return active, nil
}

func marshalJobJSON(job discovery.Job) (payload, result []byte, err error) {
	if job.Payload != nil {
		if payload, err = json.Marshal(job.Payload); err != nil {
			return nil, nil, fmt.Errorf("marshal payload for job %s: %w", job.ID, err)
		}
	}
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return nil, nil, fmt.Errorf("marshal result for job %s: %w", job.ID, err)
		}
	}
	return payload, result, nil
}
