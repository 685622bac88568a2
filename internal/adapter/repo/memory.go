package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"adflow/internal/domain"
)

// MemoryJobRepository implements domain.JobRepository in process memory. It is
// intended for development and test environments where PostgreSQL is not
// available; the append semantics match JobRepositoryPG.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewMemoryJobRepository returns an empty in-memory repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*domain.Job)}
}

// Create inserts a new job record.
func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneJob(job)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.jobs[job.JobID] = stored
	return nil
}

// GetByID fetches a job by its identifier.
func (r *MemoryJobRepository) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

// Update merges the given fields into the job record.
func (r *MemoryJobRepository) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.VideoURL != nil {
		job.VideoURL = *update.VideoURL
	}
	if len(update.EngineRaw) > 0 {
		job.EngineRaw = append([]byte(nil), update.EngineRaw...)
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		job.CompletedAt = &t
	}
	job.Version++
	return nil
}

// AppendMediaOutput appends one output and advances status under the
// repository lock, so the append is atomic by construction.
func (r *MemoryJobRepository) AppendMediaOutput(ctx context.Context, jobID string, output domain.MediaOutput, opts domain.AppendOptions) (*domain.Job, error) {
	if output.ID == "" {
		output.ID = uuid.NewString()
	}
	if output.CreatedAt.IsZero() {
		output.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next, err := applyAppend(job, output, opts)
	if err != nil {
		return nil, err
	}
	next.Version = job.Version + 1
	r.jobs[jobID] = next
	return cloneJob(next), nil
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	clone.Payload.MediaOutputs = append([]domain.MediaOutput(nil), job.Payload.MediaOutputs...)
	clone.Payload.UploadedImages = append([]string(nil), job.Payload.UploadedImages...)
	if job.Payload.Extra != nil {
		extra := make(map[string]any, len(job.Payload.Extra))
		for k, v := range job.Payload.Extra {
			extra[k] = v
		}
		clone.Payload.Extra = extra
	}
	if job.EngineRaw != nil {
		clone.EngineRaw = append([]byte(nil), job.EngineRaw...)
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)
var _ domain.JobRepository = (*JobRepositoryPG)(nil)
