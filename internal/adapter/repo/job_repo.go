package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"adflow/internal/domain"
)

// maxAppendRetries bounds the compare-and-swap loop when concurrent workers
// race to append outputs to the same job.
const maxAppendRetries = 5

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The payload
// is stored as a single JSONB document; appends are guarded by a version
// column so concurrent read-modify-write cycles cannot lose outputs.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
INSERT INTO ad_jobs (job_id, status, payload, video_url, n8n_raw, created_at, version)
VALUES ($1, $2, $3, $4, $5, NOW(), 0);
`
	_, err = r.pool.Exec(ctx, query,
		job.JobID,
		job.Status,
		payload,
		nullableString(job.VideoURL),
		nullableBytes(job.EngineRaw),
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT job_id, status, payload, video_url, n8n_raw, created_at, completed_at, version
FROM ad_jobs
WHERE job_id = $1;
`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// Update merges the given fields into the job record.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	query := `
UPDATE ad_jobs
SET status = COALESCE($2, status),
    video_url = COALESCE($3, video_url),
    n8n_raw = COALESCE($4, n8n_raw),
    completed_at = COALESCE($5, completed_at),
    version = version + 1
WHERE job_id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		jobID,
		statusArg(update.Status),
		update.VideoURL,
		nullableBytes(update.EngineRaw),
		update.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendMediaOutput appends one output to the job's payload under optimistic
// concurrency: read the current document, append, then write back only when
// the version is unchanged, retrying otherwise.
func (r *JobRepositoryPG) AppendMediaOutput(ctx context.Context, jobID string, output domain.MediaOutput, opts domain.AppendOptions) (*domain.Job, error) {
	if output.ID == "" {
		output.ID = uuid.NewString()
	}
	if output.CreatedAt.IsZero() {
		output.CreatedAt = time.Now().UTC()
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		job, err := r.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		next, err := applyAppend(job, output, opts)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(next.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		query := `
UPDATE ad_jobs
SET status = $3,
    payload = $4,
    completed_at = COALESCE($5, completed_at),
    version = version + 1
WHERE job_id = $1 AND version = $2;
`
		tag, err := r.pool.Exec(ctx, query, jobID, job.Version, next.Status, payload, next.CompletedAt)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 1 {
			next.Version = job.Version + 1
			return next, nil
		}
		// Someone else wrote between our read and write; reread and retry.
	}
	return nil, domain.ErrVersionConflict
}

// applyAppend computes the post-append job state shared by both repository
// implementations.
func applyAppend(job *domain.Job, output domain.MediaOutput, opts domain.AppendOptions) (*domain.Job, error) {
	if job.Status.Terminal() {
		return nil, domain.ErrTerminalStatus
	}
	next := *job
	next.Payload.MediaOutputs = append(append([]domain.MediaOutput(nil), job.Payload.MediaOutputs...), output)
	switch {
	case opts.MarkCompleted:
		next.Status = domain.JobStatusCompleted
		now := time.Now().UTC()
		next.CompletedAt = &now
	case job.Status == domain.JobStatusSubmitted:
		next.Status = domain.JobStatusProcessing
	}
	return &next, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job      domain.Job
		payload  []byte
		videoURL *string
		raw      []byte
	)
	if err := row.Scan(
		&job.JobID,
		&job.Status,
		&payload,
		&videoURL,
		&raw,
		&job.CreatedAt,
		&job.CompletedAt,
		&job.Version,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if videoURL != nil {
		job.VideoURL = *videoURL
	}
	job.EngineRaw = raw
	return &job, nil
}

func statusArg(s *domain.JobStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
